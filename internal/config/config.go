package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AccountantPrerequisite selects which invoice state must hold before an
// accountant-role dispatch is permitted.
type AccountantPrerequisite string

const (
	// PrereqPaymentReceived requires the client to have paid first.
	PrereqPaymentReceived AccountantPrerequisite = "paymentReceived"
	// PrereqSentToClient only requires a prior client dispatch.
	PrereqSentToClient AccountantPrerequisite = "sentToClient"
)

type Config struct {
	Port        string
	DatabaseDSN string
	Env         string

	// BlobDir is the root directory of the filesystem blob store.
	BlobDir string

	// SecretKey encrypts stored transport credentials at rest.
	SecretKey string

	// Fallback transport used when no EmailAccount resolves.
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// DispatchTimeout bounds one dispatch attempt end to end. An expired
	// attempt is recorded as failed, never left indeterminate.
	DispatchTimeout time.Duration

	// AccountantPrereq is the configured role-ordering guard policy.
	AccountantPrereq AccountantPrerequisite

	// ClientTemplateFallback permits a generic built-in client message when no
	// client template exists. Accountant dispatch never falls back.
	ClientTemplateFallback bool

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment with sensible defaults.
// Precedence: explicit env var > .env file (if loaded by caller) > default.
func Load() Config {
	cfg := Config{}
	cfg.Port = getEnv("PORT", "8080")
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "file:superfriday.db")
	cfg.Env = getEnv("APP_ENV", "development")
	cfg.BlobDir = getEnv("BLOB_DIR", "data/blobs")
	cfg.SecretKey = getEnv("SECRET_KEY", "")
	cfg.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.SMTPPort = parseInt("SMTP_PORT", 587)
	cfg.SMTPUser = getEnv("SMTP_USER", "")
	cfg.SMTPPass = getEnv("SMTP_PASS", "")
	cfg.SMTPFrom = getEnv("SMTP_FROM", "")
	cfg.DispatchTimeout = parseDuration("DISPATCH_TIMEOUT", 60*time.Second)
	cfg.AccountantPrereq = parsePrereq(getEnv("ACCOUNTANT_PREREQUISITE", string(PrereqPaymentReceived)))
	cfg.ClientTemplateFallback = ParseBool("CLIENT_TEMPLATE_FALLBACK", false)
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseBool reads an env var as bool with default.
func ParseBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean env var")
			return def
		}
		return b
	}
	return def
}

func parseInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var")
			return def
		}
		return n
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Msg("invalid duration env var")
			return def
		}
		return d
	}
	return def
}

func parsePrereq(v string) AccountantPrerequisite {
	switch AccountantPrerequisite(v) {
	case PrereqPaymentReceived, PrereqSentToClient:
		return AccountantPrerequisite(v)
	}
	log.Warn().Str("value", v).Msg("unknown accountant prerequisite policy, using paymentReceived")
	return PrereqPaymentReceived
}
