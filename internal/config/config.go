package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Job store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Event backends.
const (
	EventsNone      = "none"
	EventsNATS      = "nats"
	EventsJetStream = "jetstream"
)

// Config holds all configuration for the API service
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string
	BasePath    string
	CORSOrigins []string

	// Capability map
	CapabilityMapPath  string
	CapabilityMapWatch bool

	// LLM providers
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	GoogleAPIKey      string
	LLMRequestTimeout time.Duration
	LLMExtraModels    []string

	// Jobs
	JobStore        string
	RedisURL        string
	RedisPoolSize   int
	JobTTL          time.Duration
	RunnerWorkers   int
	RunnerQueueSize int

	// Events
	EventsBackend string
	NATSURL       string
	EventsMaxAge  time.Duration

	// Usage ledger
	DatabaseURL      string
	DatabaseMaxConns int
	AutoMigrate      bool

	// Observability
	OTLPEndpoint string

	// Security
	JWTSecret    string
	RateLimit    int
	RateLimitPer time.Duration
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"GO_ENV":                      "development",
	"LOG_LEVEL":                   "info",
	"API_BASE_PATH":               "/api",
	"CORS_ORIGINS":                "",
	"CAPABILITY_MAP_PATH":         "capability-map.json",
	"CAPABILITY_MAP_WATCH":        true,
	"OPENAI_API_KEY":              "",
	"ANTHROPIC_API_KEY":           "",
	"GOOGLE_API_KEY":              "",
	"LLM_REQUEST_TIMEOUT":         "120s",
	"LLM_EXTRA_MODELS":            "",
	"JOB_STORE":                   StoreMemory,
	"REDIS_URL":                   "",
	"REDIS_POOL_SIZE":             0,
	"JOB_TTL":                     "1h",
	"RUNNER_WORKERS":              4,
	"RUNNER_QUEUE_SIZE":           64,
	"EVENTS_BACKEND":              EventsNone,
	"NATS_URL":                    "",
	"EVENTS_MAX_AGE":              "24h",
	"DATABASE_URL":                "",
	"DATABASE_MAX_CONNS":          0,
	"AUTO_MIGRATE":                true,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"AUTH_JWT_SECRET":             "",
	"RATE_LIMIT":                  20,
	"RATE_LIMIT_PERIOD":           "1m",
}

// Load reads configuration from environment variables, layered over an
// optional YAML or JSON file named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:               v.GetString("PORT"),
		Environment:        v.GetString("GO_ENV"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		BasePath:           normalizeBasePath(v.GetString("API_BASE_PATH")),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
		CapabilityMapPath:  v.GetString("CAPABILITY_MAP_PATH"),
		CapabilityMapWatch: v.GetBool("CAPABILITY_MAP_WATCH"),
		OpenAIAPIKey:       v.GetString("OPENAI_API_KEY"),
		AnthropicAPIKey:    v.GetString("ANTHROPIC_API_KEY"),
		GoogleAPIKey:       v.GetString("GOOGLE_API_KEY"),
		LLMRequestTimeout:  v.GetDuration("LLM_REQUEST_TIMEOUT"),
		LLMExtraModels:     splitList(v.GetString("LLM_EXTRA_MODELS")),
		JobStore:           strings.ToLower(v.GetString("JOB_STORE")),
		RedisURL:           v.GetString("REDIS_URL"),
		RedisPoolSize:      v.GetInt("REDIS_POOL_SIZE"),
		JobTTL:             v.GetDuration("JOB_TTL"),
		RunnerWorkers:      v.GetInt("RUNNER_WORKERS"),
		RunnerQueueSize:    v.GetInt("RUNNER_QUEUE_SIZE"),
		EventsBackend:      strings.ToLower(v.GetString("EVENTS_BACKEND")),
		NATSURL:            v.GetString("NATS_URL"),
		EventsMaxAge:       v.GetDuration("EVENTS_MAX_AGE"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DatabaseMaxConns:   v.GetInt("DATABASE_MAX_CONNS"),
		AutoMigrate:        v.GetBool("AUTO_MIGRATE"),
		OTLPEndpoint:       v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		JWTSecret:          v.GetString("AUTH_JWT_SECRET"),
		RateLimit:          v.GetInt("RATE_LIMIT"),
		RateLimitPer:       v.GetDuration("RATE_LIMIT_PERIOD"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.JobStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("JOB_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("JOB_STORE must be %s or %s, got %q", StoreMemory, StoreRedis, c.JobStore)
	}

	switch c.EventsBackend {
	case EventsNone, EventsNATS, EventsJetStream:
	default:
		return fmt.Errorf("EVENTS_BACKEND must be %s, %s or %s, got %q", EventsNone, EventsNATS, EventsJetStream, c.EventsBackend)
	}

	if c.JobTTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive")
	}
	if c.RunnerWorkers <= 0 || c.RunnerQueueSize <= 0 {
		return fmt.Errorf("RUNNER_WORKERS and RUNNER_QUEUE_SIZE must be positive")
	}
	if c.RedisPoolSize < 0 || c.DatabaseMaxConns < 0 {
		return fmt.Errorf("REDIS_POOL_SIZE and DATABASE_MAX_CONNS must not be negative")
	}
	return nil
}

// APIKeys returns the provider keys by provider name.
func (c *Config) APIKeys() map[string]string {
	return map[string]string{
		"openai":    c.OpenAIAPIKey,
		"anthropic": c.AnthropicAPIKey,
		"google":    c.GoogleAPIKey,
	}
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
