package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	InvoicesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_created_total",
		Help: "Invoices created, by payment method",
	}, []string{"method"})

	InvoiceStatusPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invoice_status_polls_total",
		Help: "Invoice status poll ticks",
	})

	WizardTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wizard_transitions_total",
		Help: "Purchase wizard step transitions",
	}, []string{"to"})

	WizardAborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wizard_aborts_total",
		Help: "Purchase attempts aborted, by cause",
	}, []string{"cause"})

	OTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_requests_total",
		Help: "OTP provider calls",
	}, []string{"operation", "status"})

	Finalizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_finalizations_total",
		Help: "Purchase finalizations, by outcome",
	}, []string{"outcome"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Outbound network request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Outbound network requests",
	}, []string{"component", "operation", "status"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		InvoicesCreated,
		InvoiceStatusPolls,
		WizardTransitions,
		WizardAborts,
		OTPRequests,
		Finalizations,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer runs an HTTP server with the /metrics endpoint.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest records the duration and status of an outbound call.
func ObserveNetworkRequest(component, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, status).Inc()
}
