package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

// LLM providers.
const (
	ProviderRules     = "rules"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderLangchain = "langchain"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// Config holds application configuration values loaded from environment variables.
type Config struct {
	Port     string
	LogLevel slog.Level

	ParamPrefix string

	StoreBackend string
	StateTable   string
	BoltPath     string
	DatabaseURL  string
	ThreadTTL    time.Duration

	C3APIURL string
	C3APIKey string

	// YAML content file served when C3APIURL is unset.
	ContentCatalogPath string

	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string

	MaxMessageLength   int
	CORSAllowedOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}
	ttlHours, err := getInt("THREAD_TTL_HOURS", 720)
	if err != nil {
		errs = append(errs, err)
	}
	maxLen, err := getInt("MAX_MESSAGE_LENGTH", 2000)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           level,
		ParamPrefix:        strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		StateTable:         getEnv("STATE_TABLE", ""),
		BoltPath:           getEnv("BOLT_PATH", "data/threads.db"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ThreadTTL:          time.Duration(ttlHours) * time.Hour,
		C3APIURL:           getEnv("C3_API_URL", ""),
		C3APIKey:           getEnv("C3_API_KEY", ""),
		ContentCatalogPath: getEnv("CONTENT_CATALOG_PATH", ""),
		LLMProvider:        strings.ToLower(getEnv("LLM_PROVIDER", ProviderRules)),
		LLMModel:           getEnv("LLM_MODEL", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		MaxMessageLength:   maxLen,
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "gpt-4o-mini"
		if cfg.LLMProvider == ProviderAnthropic {
			cfg.LLMModel = defaultAnthropicModel
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.StoreBackend {
	case StoreMemory, StoreBolt:
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.LLMProvider {
	case ProviderRules:
	case ProviderOpenAI, ProviderLangchain:
		if c.OpenAIAPIKey == "" && c.ParamPrefix == "" {
			errs = append(errs, fmt.Errorf("OPENAI_API_KEY or PARAM_PREFIX is required for provider %q", c.LLMProvider))
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" && c.ParamPrefix == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY or PARAM_PREFIX is required for provider \"anthropic\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	if c.ThreadTTL <= 0 {
		errs = append(errs, errors.New("THREAD_TTL_HOURS must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	return errs
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.StoreBackend == StoreDynamoDB || c.ParamPrefix != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
