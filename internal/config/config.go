package config

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	BaseURL           string `mapstructure:"BASE_URL"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32  `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer        string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string `mapstructure:"AUTH_AUDIENCE"`
	CryptoKey         string `mapstructure:"CRYPTO_KEY"`
	InternalAPIKey    string `mapstructure:"INTERNAL_API_KEY"`
	InternalAPISecret string `mapstructure:"INTERNAL_API_SECRET"`
	AuthNetBaseURL    string `mapstructure:"AUTHNET_BASE_URL"`
	RxVendorName      string `mapstructure:"RX_VENDOR_NAME"`
	RefillHourUTC     int    `mapstructure:"REFILL_HOUR_UTC"`
	OutboxPollSeconds int    `mapstructure:"OUTBOX_POLL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8000")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AUTHNET_BASE_URL", "https://apitest.authorize.net/xml/v1/request.api")
	v.SetDefault("RX_VENDOR_NAME", "TeleRx")
	v.SetDefault("REFILL_HOUR_UTC", 8)
	v.SetDefault("OUTBOX_POLL_SECONDS", 15)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CRYPTO_KEY")
	v.BindEnv("INTERNAL_API_KEY")
	v.BindEnv("INTERNAL_API_SECRET")
	v.BindEnv("AUTHNET_BASE_URL")
	v.BindEnv("RX_VENDOR_NAME")
	v.BindEnv("REFILL_HOUR_UTC")
	v.BindEnv("OUTBOX_POLL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: dev auth is active; all requests are treated as a prescriber.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CryptoKeyBytes decodes CRYPTO_KEY into the raw 32-byte AES key.
func (c *Config) CryptoKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.CryptoKey)
	if err != nil {
		return nil, fmt.Errorf("CRYPTO_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CRYPTO_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. In production
// CRYPTO_KEY and the internal API credentials are required; AUTH_ISSUER must
// be set so that real JWT authentication is enforced.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.CryptoKey == "" {
			return fmt.Errorf("CRYPTO_KEY is required in production")
		}
		if c.InternalAPIKey == "" || c.InternalAPISecret == "" {
			return fmt.Errorf("INTERNAL_API_KEY and INTERNAL_API_SECRET are required in production")
		}
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set in production; refusing to start without authentication configuration")
		}
	}

	if c.CryptoKey != "" {
		if _, err := c.CryptoKeyBytes(); err != nil {
			return err
		}
	}

	if c.RefillHourUTC < 0 || c.RefillHourUTC > 23 {
		return fmt.Errorf("REFILL_HOUR_UTC must be between 0 and 23, got %d", c.RefillHourUTC)
	}

	return nil
}
