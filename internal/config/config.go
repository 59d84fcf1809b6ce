package config

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"BC_PORT" default:"4002"`
	LogLevel string `envconfig:"BC_LOG_LEVEL" default:"info"`
	Version  string `envconfig:"BC_VERSION" default:"dev"`

	DBURI                    string        `envconfig:"BC_DB_URI" required:"true"`
	DBName                   string        `envconfig:"BC_DB_NAME" default:""`
	DBSSL                    bool          `envconfig:"BC_DB_SSL" default:"false"`
	DBSSLCert                string        `envconfig:"BC_DB_SSL_CERT" default:""`
	DBSSLCA                  string        `envconfig:"BC_DB_SSL_CA" default:""`
	DBDebug                  bool          `envconfig:"BC_DB_DEBUG" default:"false"`
	DBServerSelectionTimeout time.Duration `envconfig:"BC_DB_SERVER_SELECTION_TIMEOUT" default:"30s"`
	CreateIndexes            bool          `envconfig:"BC_CREATE_INDEXES" default:"true"`
	Languages                []string      `envconfig:"BC_LANGUAGES" default:"en,fr,es"`
	DefaultLanguage          string        `envconfig:"BC_DEFAULT_LANGUAGE" default:"en"`
	TranslationBatchSize     int           `envconfig:"BC_TRANSLATION_BATCH_SIZE" default:"1000"`
	TranslationOrphanGrace   time.Duration `envconfig:"BC_TRANSLATION_ORPHAN_GRACE" default:"10m"`
	ReconcileInterval        int           `envconfig:"BC_RECONCILE_INTERVAL" default:"0"`
	BookingExpireAt          int           `envconfig:"BC_BOOKING_EXPIRE_AT" default:"86400"`
	PaymentSessionExpireAt   int           `envconfig:"BC_PAYMENT_SESSION_EXPIRE_AT" default:"0"`
	BookingExpireGrace       int           `envconfig:"BC_BOOKING_EXPIRE_GRACE" default:"600"`
	UserExpireAt             int           `envconfig:"BC_USER_EXPIRE_AT" default:"345600"`
	TokenExpireAt            int           `envconfig:"BC_TOKEN_EXPIRE_AT" default:"86400"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if len(c.Languages) == 0 {
		return fmt.Errorf("BC_LANGUAGES must list at least one language")
	}
	if !slices.Contains(c.Languages, c.DefaultLanguage) {
		return fmt.Errorf("BC_DEFAULT_LANGUAGE %q is not one of BC_LANGUAGES %v", c.DefaultLanguage, c.Languages)
	}
	if c.TranslationBatchSize < 1 {
		return fmt.Errorf("BC_TRANSLATION_BATCH_SIZE must be positive, got %d", c.TranslationBatchSize)
	}
	if c.TranslationOrphanGrace < time.Minute {
		return fmt.Errorf("BC_TRANSLATION_ORPHAN_GRACE must be at least 1m, got %s", c.TranslationOrphanGrace)
	}
	for name, v := range map[string]int{
		"BC_BOOKING_EXPIRE_AT":         c.BookingExpireAt,
		"BC_PAYMENT_SESSION_EXPIRE_AT": c.PaymentSessionExpireAt,
		"BC_BOOKING_EXPIRE_GRACE":      c.BookingExpireGrace,
		"BC_USER_EXPIRE_AT":            c.UserExpireAt,
		"BC_TOKEN_EXPIRE_AT":           c.TokenExpireAt,
	} {
		if v < 0 || v > math.MaxInt32 {
			return fmt.Errorf("%s must be between 0 and %d seconds, got %d", name, math.MaxInt32, v)
		}
	}
	if c.BookingTTL() > math.MaxInt32 {
		return fmt.Errorf("booking expiry of %d seconds is too large", c.BookingTTL())
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("BC_RECONCILE_INTERVAL must not be negative, got %d", c.ReconcileInterval)
	}
	return nil
}

// BookingTTL is the expiry of unpaid bookings in seconds. When a payment
// session window is configured, a booking outlives its session by the grace
// period so the checkout webhook can still find it.
func (c *Config) BookingTTL() int {
	if c.PaymentSessionExpireAt > 0 {
		return c.PaymentSessionExpireAt + c.BookingExpireGrace
	}
	return c.BookingExpireAt
}
