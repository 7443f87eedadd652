// Package config loads scheduler settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Tables names the DynamoDB tables and indexes the scheduler reads and writes.
type Tables struct {
	Flows             string `envconfig:"FLOWS_TABLE" default:"flows"`
	FlowsDueIndex     string `envconfig:"FLOWS_DUE_INDEX" default:"status-next_delivery-index"`
	Orders            string `envconfig:"ORDERS_TABLE" default:"orders"`
	OrdersExternalIdx string `envconfig:"ORDERS_EXTERNAL_INDEX" default:"external_order_id-index"`
	Products          string `envconfig:"PRODUCTS_TABLE" default:"products"`
	Customers         string `envconfig:"CUSTOMERS_TABLE" default:"customers"`
	Addresses         string `envconfig:"ADDRESSES_TABLE" default:"addresses"`
	Idempotency       string `envconfig:"IDEMPOTENCY_TABLE" default:"dispatch-intents"`
}

// Partner configures the delivery partner's order API.
type Partner struct {
	BaseURL   string        `envconfig:"PARTNER_BASE_URL" required:"true"`
	APIKey    string        `envconfig:"PARTNER_API_KEY"`
	Timeout   time.Duration `envconfig:"PARTNER_TIMEOUT" default:"10s"`
	RateLimit float64       `envconfig:"PARTNER_RPS" default:"5"`
	Burst     int           `envconfig:"PARTNER_BURST" default:"1"`
}

// Schedule holds the due-selection and retry policy.
type Schedule struct {
	Timezone         string        `envconfig:"DELIVERY_TIMEZONE" default:"America/Bogota"`
	MinimumTier      string        `envconfig:"MIN_TIER" default:"plus"`
	ClockSkew        time.Duration `envconfig:"CLOCK_SKEW" default:"0s"`
	OverdueGrace     time.Duration `envconfig:"OVERDUE_GRACE" default:"72h"`
	MaxRetries       int           `envconfig:"MAX_RETRIES" default:"3"`
	Concurrency      int           `envconfig:"SCHEDULER_CONCURRENCY" default:"1"`
	DefaultWindow    string        `envconfig:"DEFAULT_DELIVERY_WINDOW" default:"09:00-13:00"`
	DefaultAddress   string        `envconfig:"DEFAULT_DELIVERY_ADDRESS" default:"Address not specified"`
	IntentTTL        time.Duration `envconfig:"INTENT_TTL" default:"168h"`
	IntentStaleAfter time.Duration `envconfig:"INTENT_STALE_AFTER" default:"15m"`
}

// Config is the full scheduler configuration.
type Config struct {
	Tables   Tables
	Partner  Partner
	Schedule Schedule

	EventsQueueURL   string        `envconfig:"EVENTS_QUEUE_URL"`
	MetricsNamespace string        `envconfig:"METRICS_NAMESPACE" default:"FlowScheduler"`
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RunLockTTL       time.Duration `envconfig:"RUN_LOCK_TTL" default:"15m"`
	RunLocal         bool          `envconfig:"RUN_LOCAL" default:"false"`
	LocalAddr        string        `envconfig:"LOCAL_ADDR" default:":8080"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves the delivery timezone used for calendar-day checks.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

func (c *Config) validate() error {
	if c.Partner.BaseURL == "" {
		return fmt.Errorf("PARTNER_BASE_URL is required")
	}
	if c.Schedule.Concurrency < 1 {
		return fmt.Errorf("SCHEDULER_CONCURRENCY must be >= 1, got %d", c.Schedule.Concurrency)
	}
	if c.Schedule.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be >= 1, got %d", c.Schedule.MaxRetries)
	}
	if c.Schedule.OverdueGrace < 0 || c.Schedule.ClockSkew < 0 {
		return fmt.Errorf("OVERDUE_GRACE and CLOCK_SKEW must not be negative")
	}
	// a DONE intent must outlive every run that can still select its cycle
	if c.Schedule.IntentTTL <= c.Schedule.OverdueGrace+c.Schedule.IntentStaleAfter {
		return fmt.Errorf("INTENT_TTL (%s) must exceed OVERDUE_GRACE + INTENT_STALE_AFTER", c.Schedule.IntentTTL)
	}
	switch c.Schedule.MinimumTier {
	case "free", "plus", "premium":
	default:
		return fmt.Errorf("MIN_TIER must be free, plus or premium, got %q", c.Schedule.MinimumTier)
	}
	if c.Partner.RateLimit < 0 {
		return fmt.Errorf("PARTNER_RPS must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// WorkerConfig configures the order-status worker.
type WorkerConfig struct {
	Tables Tables

	RunLocal  bool   `envconfig:"RUN_LOCAL" default:"false"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// LoadWorker reads the worker configuration from the environment.
func LoadWorker() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	return &cfg, nil
}
