package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Email     EmailConfig
	PDF       PDFConfig
	SIRET     SIRETConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// WebhookSecret verifies card processor webhook signatures. Empty
	// disables verification (local development only).
	WebhookSecret string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

type EmailConfig struct {
	ResendAPIKey string
	FromName     string
	FromEmail    string
	// PortalBaseURL is prepended to quote acceptance and renewal links.
	PortalBaseURL string
}

type PDFConfig struct {
	RenderURL string
	Timeout   time.Duration
}

type SIRETConfig struct {
	SireneURL string
	Token     string
	Timeout   time.Duration
}

// BillingConfig carries the commercial policy constants. It is loaded once
// and passed into the engine at construction; nothing reads it ambiently.
type BillingConfig struct {
	// DefaultTaxRate is the standard VAT rate applied to non-exempt tenants.
	DefaultTaxRate float64
	// QuoteValidityDays sets validUntil on new quotes.
	QuoteValidityDays int
	// InvoiceDueDays sets the mandate invoice payment deadline.
	InvoiceDueDays int
	// GraceDays is the post-expiry window before read-only lockout.
	GraceDays int
}

type SchedulerConfig struct {
	// Interval between reminder runs.
	Interval time.Duration
	// MaxSendRetries caps dispatch attempts before a reminder goes FAILED.
	MaxSendRetries int
	// ReminderOffsetsDays are the escalation levels, in days before expiry,
	// ordered level 1 first (J-60, J-30, J-15).
	ReminderOffsetsDays []int
}

// Load reads configuration from the environment (.env is optional).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-billing"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			WebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "billing"),
			Password:    getEnv("DB_PASSWORD", "billing"),
			Database:    getEnv("DB_NAME", "billing"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Email: EmailConfig{
			ResendAPIKey:  os.Getenv("RESEND_API_KEY"),
			FromName:      getEnv("EMAIL_FROM_NAME", "CivicQO"),
			FromEmail:     getEnv("EMAIL_FROM_ADDRESS", "facturation@civicqo.fr"),
			PortalBaseURL: getEnv("PORTAL_BASE_URL", "https://app.civicqo.fr"),
		},
		PDF: PDFConfig{
			RenderURL: getEnv("PDF_RENDER_URL", "http://localhost:9090/render"),
			Timeout:   getEnvDuration("PDF_RENDER_TIMEOUT", 20*time.Second),
		},
		SIRET: SIRETConfig{
			SireneURL: getEnv("SIRENE_API_URL", "https://api.insee.fr/entreprises/sirene/V3.11"),
			Token:     os.Getenv("SIRENE_API_TOKEN"),
			Timeout:   getEnvDuration("SIRENE_TIMEOUT", 5*time.Second),
		},
		Billing: BillingConfig{
			DefaultTaxRate:    getEnvFloat("BILLING_TAX_RATE", 20.0),
			QuoteValidityDays: getEnvInt("BILLING_QUOTE_VALIDITY_DAYS", 30),
			InvoiceDueDays:    getEnvInt("BILLING_INVOICE_DUE_DAYS", 30),
			GraceDays:         getEnvInt("BILLING_GRACE_DAYS", 15),
		},
		Scheduler: SchedulerConfig{
			Interval:            getEnvDuration("SCHEDULER_INTERVAL", time.Hour),
			MaxSendRetries:      getEnvInt("SCHEDULER_MAX_RETRIES", 3),
			ReminderOffsetsDays: []int{60, 30, 15},
		},
	}

	if cfg.Billing.DefaultTaxRate < 0 || cfg.Billing.DefaultTaxRate > 100 {
		return nil, fmt.Errorf("BILLING_TAX_RATE out of range: %v", cfg.Billing.DefaultTaxRate)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
