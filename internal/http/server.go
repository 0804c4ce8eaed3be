// Package httpapi exposes the payment intake API: invoices, QR payloads, the
// purchase wizard, finalization, and the provider webhook.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
	"schoolpay/internal/ghqr"
	"schoolpay/internal/usecase/finalize"
	"schoolpay/internal/usecase/purchase"
)

const webhookSecretHeader = "X-Webhook-Secret"

type Server struct {
	log           zerolog.Logger
	invoices      domain.InvoiceStore
	wizard        *purchase.Wizard
	finalizer     *finalize.Service
	encoder       ghqr.Encoder
	webhookSecret string
	defaultTenant string
	server        *http.Server
}

type Config struct {
	Addr          string
	MerchantName  string
	WebhookSecret string
	DefaultTenant string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

func NewServer(
	log zerolog.Logger,
	invoices domain.InvoiceStore,
	wizard *purchase.Wizard,
	finalizer *finalize.Service,
	cfg Config,
) *Server {
	s := &Server{
		log:           log.With().Str("component", "http").Logger(),
		invoices:      invoices,
		wizard:        wizard,
		finalizer:     finalizer,
		encoder:       ghqr.Encoder{MerchantName: cfg.MerchantName},
		webhookSecret: cfg.WebhookSecret,
		defaultTenant: cfg.DefaultTenant,
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the handler
// without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/invoices", s.handleCreateInvoice)
		r.Get("/invoices/{id}/status", s.handleInvoiceStatus)
		r.Post("/qr/payload", s.handleQRPayload)

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", s.handleStartPurchase)
			r.Post("/finalize", s.handleFinalize)
			r.Get("/{token}", s.handleResumePurchase)
			r.Delete("/{token}", s.handleAbandonPurchase)
			r.Post("/{token}/method", s.handleChooseMethod)
			r.Post("/{token}/details", s.handleSubmitDetails)
			r.Post("/{token}/verify", s.handleVerifyOTP)
			r.Post("/{token}/confirm", s.handleConfirmSent)
			r.Post("/{token}/back", s.handleBack)
		})

		r.Post("/payments/webhook", s.handleWebhook)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("server started")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

type createInvoiceRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !s.decode(w, r, &req) {
		return
	}
	invoice, err := s.invoices.Create(r.Context(), domain.CreateInvoiceParams{
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, invoice)
}

type invoiceStatusResponse struct {
	ID     string               `json:"id"`
	Status domain.InvoiceStatus `json:"status"`
	PaidAt *time.Time           `json:"paid_at,omitempty"`
}

func (s *Server) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, invoiceStatusResponse{
		ID:     invoice.ID,
		Status: invoice.Status,
		PaidAt: invoice.PaidAt,
	})
}

type qrPayloadRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

func (s *Server) handleQRPayload(w http.ResponseWriter, r *http.Request) {
	var req qrPayloadRequest
	if !s.decode(w, r, &req) {
		return
	}
	payload, err := s.encoder.Encode(req.Amount, req.Reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"payload": payload})
}

type startPurchaseRequest struct {
	TenantID string        `json:"tenant_id"`
	Bundle   domain.Bundle `json:"bundle"`
}

func (s *Server) handleStartPurchase(w http.ResponseWriter, r *http.Request) {
	var req startPurchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		req.TenantID = s.defaultTenant
	}
	intent, err := s.wizard.Start(r.Context(), req.TenantID, req.Bundle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, intent)
}

func (s *Server) handleResumePurchase(w http.ResponseWriter, r *http.Request) {
	intent, err := s.wizard.Resume(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleAbandonPurchase(w http.ResponseWriter, r *http.Request) {
	if err := s.wizard.Abandon(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chooseMethodRequest struct {
	Method domain.PaymentMethod `json:"method"`
}

func (s *Server) handleChooseMethod(w http.ResponseWriter, r *http.Request) {
	var req chooseMethodRequest
	if !s.decode(w, r, &req) {
		return
	}
	intent, err := s.wizard.ChooseMethod(r.Context(), chi.URLParam(r, "token"), req.Method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

type submitDetailsRequest struct {
	Provider string `json:"provider"`
	Phone    string `json:"phone"`
}

func (s *Server) handleSubmitDetails(w http.ResponseWriter, r *http.Request) {
	var req submitDetailsRequest
	if !s.decode(w, r, &req) {
		return
	}
	intent, err := s.wizard.SubmitDetails(r.Context(), chi.URLParam(r, "token"), req.Provider, req.Phone)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !s.decode(w, r, &req) {
		return
	}
	intent, err := s.wizard.VerifyOTP(r.Context(), chi.URLParam(r, "token"), req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleConfirmSent(w http.ResponseWriter, r *http.Request) {
	intent, err := s.wizard.ConfirmSent(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	intent, err := s.wizard.Back(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

type finalizeRequest struct {
	TenantID     string              `json:"tenant_id"`
	Phone        string              `json:"phone"`
	OTP          string              `json:"otp"`
	InvoiceID    string              `json:"invoice_id"`
	PurchaseType domain.PurchaseType `json:"purchase_type"`
	Credits      decimal.Decimal     `json:"credits"`
	Plan         string              `json:"plan,omitempty"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		req.TenantID = s.defaultTenant
	}
	record, err := s.finalizer.Finalize(r.Context(), finalize.Params{
		TenantID:     req.TenantID,
		Phone:        req.Phone,
		OTP:          req.OTP,
		InvoiceID:    req.InvoiceID,
		PurchaseType: req.PurchaseType,
		Credits:      req.Credits,
		Plan:         req.Plan,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

type webhookRequest struct {
	InvoiceID string               `json:"invoice_id"`
	Status    domain.InvoiceStatus `json:"status"`
}

// handleWebhook lets the payment provider push a terminal status. The secret
// header gates it; the guarded store update makes repeated deliveries safe.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get(webhookSecretHeader)), []byte(s.webhookSecret)) != 1 {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid webhook secret"})
		return
	}
	var req webhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	invoice, err := s.invoices.MarkStatus(r.Context(), req.InvoiceID, req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, invoiceStatusResponse{
		ID:     invoice.ID,
		Status: invoice.Status,
		PaidAt: invoice.PaidAt,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvoiceNotFound),
		errors.Is(err, domain.ErrBillingRecordNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOTP):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStep), errors.Is(err, domain.ErrAlreadyFinalized):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrProvider):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
