package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the configuration of both services.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	AMQPURL   string `envconfig:"AMQP_URL"`

	Queues struct {
		Instructions string `envconfig:"INSTRUCTIONS_QUEUE" default:"payment_instructions"`
	} `envconfig:""`

	Merchant struct {
		Name     string `envconfig:"MERCHANT_NAME" default:"Brightfield School"`
		DialCode string `envconfig:"MERCHANT_DIAL_CODE" default:"*170#"`
		Tenant   string `envconfig:"MERCHANT_TENANT" default:"default"`
	} `envconfig:""`

	Invoice struct {
		TTL time.Duration `envconfig:"INVOICE_TTL" default:"15m"`
		// Simulate drives the timer-based PENDING→PAID transition used when
		// no payment provider webhook is configured.
		Simulate      bool          `envconfig:"INVOICE_SIMULATE" default:"true"`
		SimulateDelay time.Duration `envconfig:"INVOICE_SIMULATE_DELAY" default:"10s"`
	} `envconfig:""`

	Wizard struct {
		PollInterval time.Duration `envconfig:"WIZARD_POLL_INTERVAL" default:"5s"`
		PollTimeout  time.Duration `envconfig:"WIZARD_POLL_TIMEOUT" default:"300s"`
		SessionTTL   time.Duration `envconfig:"WIZARD_SESSION_TTL" default:"1h"`
	} `envconfig:""`

	OTP struct {
		BaseURL string        `envconfig:"OTP_BASE_URL"`
		APIKey  string        `envconfig:"OTP_API_KEY"`
		Timeout time.Duration `envconfig:"OTP_TIMEOUT" default:"10s"`
	} `envconfig:""`

	SMS struct {
		BaseURL string        `envconfig:"SMS_BASE_URL"`
		APIKey  string        `envconfig:"SMS_API_KEY"`
		Sender  string        `envconfig:"SMS_SENDER" default:"SchoolPay"`
		Timeout time.Duration `envconfig:"SMS_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Webhook struct {
		Secret string `envconfig:"WEBHOOK_SECRET"`
	} `envconfig:""`

	Server struct {
		ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
		WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
		IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"5s"`
	} `envconfig:""`
}

// Load reads the config from the environment.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
