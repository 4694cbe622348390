package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// DBDSN selects the postgres-backed document store. Empty runs
	// the in-memory store (dev mode only; nothing survives a restart).
	DBDSN string `envconfig:"DB_DSN"`

	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"ripple-trading"`
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`

	// InternalToken guards the oracle push endpoint.
	InternalToken string `envconfig:"INTERNAL_API_TOKEN" required:"true"`

	// OracleWSURL is the external price oracle's websocket stream.
	// Empty disables the feed; ticks can still be pushed over the
	// internal endpoint.
	OracleWSURL string `envconfig:"ORACLE_WS_URL"`

	// QuoteAsset settles symbols without a quote leg.
	QuoteAsset string `envconfig:"QUOTE_ASSET" default:"USDT"`

	// PreventAutoClose rejects position closes that are not
	// user-initiated.
	PreventAutoClose bool `envconfig:"PREVENT_AUTO_CLOSURES" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFile enables rotated file logging; empty logs to stderr.
	LogFile string `envconfig:"LOG_FILE"`
}

func Load() (Config, error) {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	if c.JWTTTL <= 0 {
		return Config{}, errors.New("JWT_TTL must be positive")
	}
	return c, nil
}
