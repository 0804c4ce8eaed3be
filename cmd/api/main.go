package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"schoolpay/internal/adapters/otp"
	"schoolpay/internal/domain"
	httpapi "schoolpay/internal/http"
	"schoolpay/internal/infra/cache"
	"schoolpay/internal/infra/config"
	"schoolpay/internal/infra/db"
	logpkg "schoolpay/internal/infra/log"
	"schoolpay/internal/infra/metrics"
	"schoolpay/internal/infra/queue"
	"schoolpay/internal/storage"
	"schoolpay/internal/usecase/finalize"
	"schoolpay/internal/usecase/purchase"
	"schoolpay/migrations"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	var (
		invoices domain.InvoiceStore
		billing  domain.Billing
	)
	if cfg.PGDSN != "" {
		if err := db.RunMigrations(cfg.PGDSN, migrations.FS); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		store := storage.NewPostgres(pool,
			storage.WithPostgresInvoiceTTL(cfg.Invoice.TTL),
			storage.WithPostgresDialCode(cfg.Merchant.DialCode),
		)
		invoices, billing = store, store
		logger.Info().Msg("using postgres storage")
	} else {
		opts := []storage.MemoryOption{
			storage.WithInvoiceTTL(cfg.Invoice.TTL),
			storage.WithDialCode(cfg.Merchant.DialCode),
		}
		if cfg.Invoice.Simulate {
			opts = append(opts, storage.WithMaturation(cfg.Invoice.SimulateDelay))
		}
		store := storage.NewMemory(opts...)
		defer store.Close()
		invoices, billing = store, store
		logger.Warn().Bool("simulate", cfg.Invoice.Simulate).Msg("using in-memory storage")
	}

	var sessions domain.SessionCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer client.Close()
		sessions = cache.NewRedisSessions(client)
		logger.Info().Msg("using redis sessions")
	} else {
		sessions = cache.NewMemorySessions()
		logger.Warn().Msg("using in-memory sessions")
	}

	instructions := buildQueue(cfg, logger)

	otpProvider := buildOTP(cfg, logger)

	wizard := purchase.NewWizard(logger, invoices, otpProvider, instructions, sessions, purchase.Config{
		PollInterval: cfg.Wizard.PollInterval,
		PollTimeout:  cfg.Wizard.PollTimeout,
		SessionTTL:   cfg.Wizard.SessionTTL,
		MerchantName: cfg.Merchant.Name,
		DialCode:     cfg.Merchant.DialCode,
	})
	defer wizard.Close()

	finalizer := finalize.NewService(logger, otpProvider, billing)

	server := httpapi.NewServer(logger, invoices, wizard, finalizer, httpapi.Config{
		Addr:          fmt.Sprintf(":%d", cfg.Port),
		MerchantName:  cfg.Merchant.Name,
		WebhookSecret: cfg.Webhook.Secret,
		DefaultTenant: cfg.Merchant.Tenant,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
	})
	if err := server.ListenAndServe(ctx, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	logger.Info().Msg("server shut down")
}

func buildQueue(cfg config.AppConfig, logger zerolog.Logger) domain.InstructionQueue {
	switch {
	case cfg.AMQPURL != "":
		q, err := queue.NewAMQPInstructionQueue(cfg.AMQPURL, cfg.Queues.Instructions)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect rabbitmq")
		}
		logger.Info().Msg("using rabbitmq instruction queue")
		return q
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.Info().Msg("using redis instruction queue")
		return queue.NewRedisInstructionQueue(client, cfg.Queues.Instructions)
	default:
		logger.Warn().Msg("using in-memory instruction queue")
		return queue.NewMemoryInstructionQueue(0)
	}
}

func buildOTP(cfg config.AppConfig, logger zerolog.Logger) domain.OTPProvider {
	if cfg.OTP.BaseURL == "" {
		if cfg.AppEnv != "dev" {
			logger.Fatal().Msg("OTP_BASE_URL is required outside dev")
		}
		logger.Warn().Msg("using static otp provider, code 000000")
		return otp.Static{Code: "000000"}
	}
	client, err := otp.New(cfg.OTP.BaseURL, cfg.OTP.APIKey, otp.WithTimeout(cfg.OTP.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("create otp client")
	}
	return client
}
