// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Generator providers.
const (
	GeneratorTemplate = "template"
	GeneratorOllama   = "ollama"
)

// DefaultEscalationKeywords are the terms that send a ticket to a human
// regardless of retrieval confidence.
var DefaultEscalationKeywords = []string{
	"urgent", "emergency", "human", "agent", "hacked", "compromised", "legal", "lawsuit",
}

// Thresholds holds the tunable confidence and escalation cutoffs.
type Thresholds struct {
	ConfidenceHigh      float64
	ConfidenceMedium    float64
	ConfidenceLow       float64
	EscalationFloor     float64
	EscalationKeywords  []string
	PremiumLowEscalates bool
}

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Storage settings.
	StorageBackend string // "sqlite" or "postgres"
	DatabaseURL    string // Postgres URL; also enables the support data-access capability.
	SQLitePath     string

	// Knowledge settings.
	CorpusPath   string // JSONL or YAML file, or a directory of them.
	KeywordsPath string // Optional override of the embedded keyword tables.

	CustomersPath string // YAML seed of accounts, subscriptions and reservations.

	Thresholds Thresholds

	// Workflow settings.
	StageTimeout time.Duration
	BatchWorkers int

	// Memory settings.
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	LongTermCacheTTL     time.Duration

	// Workflow log settings.
	LogBufferSize    int
	LogFlushInterval time.Duration
	LogFilePath      string // Optional JSONL mirror of the workflow log.
	KafkaBrokers     []string
	KafkaTopic       string

	// Text generation settings.
	GeneratorProvider  string // "template" or "ollama"
	OllamaURL          string
	OllamaModel        string
	GeneratorMaxTokens int
	GeneratorTimeout   time.Duration

	// Auth settings.
	AuthDisabled      bool
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration
	AdminAPIKey       string // API key for the initial admin operator.

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		StorageBackend:    envStr("MADOGUCHI_STORAGE_BACKEND", BackendSQLite),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		SQLitePath:        envStr("MADOGUCHI_SQLITE_PATH", "madoguchi.db"),
		CorpusPath:        envStr("MADOGUCHI_CORPUS_PATH", "data/articles.jsonl"),
		KeywordsPath:      envStr("MADOGUCHI_KEYWORDS_PATH", ""),
		CustomersPath:     envStr("MADOGUCHI_CUSTOMERS_PATH", "data/customers.yaml"),
		LogFilePath:       envStr("MADOGUCHI_LOG_FILE", ""),
		KafkaBrokers:      envList("MADOGUCHI_KAFKA_BROKERS"),
		KafkaTopic:        envStr("MADOGUCHI_KAFKA_TOPIC", "madoguchi.workflow-log"),
		GeneratorProvider: envStr("MADOGUCHI_GENERATOR", GeneratorTemplate),
		OllamaURL:         envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:       envStr("OLLAMA_MODEL", "llama3.2"),
		JWTPrivateKeyPath: envStr("MADOGUCHI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("MADOGUCHI_JWT_PUBLIC_KEY", ""),
		AdminAPIKey:       envStr("MADOGUCHI_ADMIN_API_KEY", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "madoguchi"),
		LogLevel:          envStr("MADOGUCHI_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("MADOGUCHI_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("MADOGUCHI_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("MADOGUCHI_WRITE_TIMEOUT", 60*time.Second)
	collect(err)
	maxBody, err := envInt("MADOGUCHI_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)

	cfg.Thresholds.ConfidenceHigh, err = envFloat("MADOGUCHI_CONFIDENCE_HIGH", 0.7)
	collect(err)
	cfg.Thresholds.ConfidenceMedium, err = envFloat("MADOGUCHI_CONFIDENCE_MEDIUM", 0.5)
	collect(err)
	cfg.Thresholds.ConfidenceLow, err = envFloat("MADOGUCHI_CONFIDENCE_LOW", 0.3)
	collect(err)
	cfg.Thresholds.EscalationFloor, err = envFloat("MADOGUCHI_ESCALATION_FLOOR", 0.2)
	collect(err)
	cfg.Thresholds.PremiumLowEscalates, err = envBool("MADOGUCHI_PREMIUM_LOW_ESCALATES", true)
	collect(err)
	cfg.Thresholds.EscalationKeywords = envList("MADOGUCHI_ESCALATION_KEYWORDS")
	if len(cfg.Thresholds.EscalationKeywords) == 0 {
		cfg.Thresholds.EscalationKeywords = append([]string(nil), DefaultEscalationKeywords...)
	}

	cfg.StageTimeout, err = envDuration("MADOGUCHI_STAGE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.BatchWorkers, err = envInt("MADOGUCHI_BATCH_WORKERS", 4)
	collect(err)

	cfg.SessionTTL, err = envDuration("MADOGUCHI_SESSION_TTL", 24*time.Hour)
	collect(err)
	cfg.SessionSweepInterval, err = envDuration("MADOGUCHI_SESSION_SWEEP_INTERVAL", time.Minute)
	collect(err)
	cfg.LongTermCacheTTL, err = envDuration("MADOGUCHI_LONG_TERM_CACHE_TTL", 5*time.Minute)
	collect(err)

	cfg.LogBufferSize, err = envInt("MADOGUCHI_LOG_BUFFER_SIZE", 1000)
	collect(err)
	cfg.LogFlushInterval, err = envDuration("MADOGUCHI_LOG_FLUSH_INTERVAL", 100*time.Millisecond)
	collect(err)

	cfg.GeneratorMaxTokens, err = envInt("MADOGUCHI_GENERATOR_MAX_TOKENS", 1024)
	collect(err)
	cfg.GeneratorTimeout, err = envDuration("MADOGUCHI_GENERATOR_TIMEOUT", 20*time.Second)
	collect(err)

	cfg.AuthDisabled, err = envBool("MADOGUCHI_AUTH_DISABLED", false)
	collect(err)
	cfg.JWTExpiration, err = envDuration("MADOGUCHI_JWT_EXPIRATION", 24*time.Hour)
	collect(err)

	cfg.RateLimitEnabled, err = envBool("MADOGUCHI_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("MADOGUCHI_RATE_LIMIT_RPS", 10)
	collect(err)
	cfg.RateLimitBurst, err = envInt("MADOGUCHI_RATE_LIMIT_BURST", 20)
	collect(err)

	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("config: MADOGUCHI_SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: MADOGUCHI_STORAGE_BACKEND must be %q or %q (got %q)", BackendSQLite, BackendPostgres, c.StorageBackend))
	}
	switch c.GeneratorProvider {
	case GeneratorTemplate, GeneratorOllama:
	default:
		errs = append(errs, fmt.Errorf("config: MADOGUCHI_GENERATOR must be %q or %q (got %q)", GeneratorTemplate, GeneratorOllama, c.GeneratorProvider))
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("config: MADOGUCHI_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.StageTimeout <= 0 {
		errs = append(errs, errors.New("config: MADOGUCHI_STAGE_TIMEOUT must be positive"))
	}
	if c.BatchWorkers <= 0 {
		errs = append(errs, errors.New("config: MADOGUCHI_BATCH_WORKERS must be positive"))
	}
	if c.SessionTTL <= 0 || c.SessionSweepInterval <= 0 {
		errs = append(errs, errors.New("config: session TTL and sweep interval must be positive"))
	}
	if c.LogBufferSize <= 0 {
		errs = append(errs, errors.New("config: MADOGUCHI_LOG_BUFFER_SIZE must be positive"))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("config: rate limit RPS and burst must be positive when enabled"))
	}
	return errors.Join(errs...)
}

// Validate checks that the confidence buckets are ordered and within [0,1].
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"MADOGUCHI_CONFIDENCE_HIGH":   t.ConfidenceHigh,
		"MADOGUCHI_CONFIDENCE_MEDIUM": t.ConfidenceMedium,
		"MADOGUCHI_CONFIDENCE_LOW":    t.ConfidenceLow,
		"MADOGUCHI_ESCALATION_FLOOR":  t.EscalationFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be within [0,1] (got %g)", name, v)
		}
	}
	if !(t.ConfidenceHigh > t.ConfidenceMedium && t.ConfidenceMedium > t.ConfidenceLow) {
		return fmt.Errorf("config: confidence thresholds must satisfy high > medium > low (got %g/%g/%g)",
			t.ConfidenceHigh, t.ConfidenceMedium, t.ConfidenceLow)
	}
	return nil
}

// DefaultThresholds returns the stock cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConfidenceHigh:      0.7,
		ConfidenceMedium:    0.5,
		ConfidenceLow:       0.3,
		EscalationFloor:     0.2,
		EscalationKeywords:  append([]string(nil), DefaultEscalationKeywords...),
		PremiumLowEscalates: true,
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
