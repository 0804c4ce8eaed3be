package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"schoolpay/internal/adapters/sms"
	"schoolpay/internal/domain"
	"schoolpay/internal/infra/config"
	logpkg "schoolpay/internal/infra/log"
	"schoolpay/internal/infra/metrics"
	"schoolpay/internal/infra/queue"
	"schoolpay/internal/usecase/notify"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	instructions := buildQueue(cfg, logger)
	sender := buildSender(cfg, logger)

	notifier := notify.NewNotifier(logger, instructions, sender)
	if err := notifier.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
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
		// A standalone worker has nothing to consume without a broker.
		logger.Fatal().Msg("REDIS_ADDR or AMQP_URL is required for the notifier")
		return nil
	}
}

func buildSender(cfg config.AppConfig, logger zerolog.Logger) domain.SMSSender {
	if cfg.SMS.BaseURL == "" {
		if cfg.AppEnv != "dev" {
			logger.Fatal().Msg("SMS_BASE_URL is required outside dev")
		}
		logger.Warn().Msg("using log-only sms sender")
		return sms.LogSender{Log: logger}
	}
	client, err := sms.New(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Sender, sms.WithTimeout(cfg.SMS.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("create sms client")
	}
	return client
}
