// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.homedesk/config.yaml or ./config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check with errors.Is().
// Sensitive values (database password, channel tokens) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidMaxExamples indicates the retrieval limit is out of range.
	ErrInvalidMaxExamples = errors.New("invalid max examples")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidWhatsApp indicates the WhatsApp channel config is incomplete.
	ErrInvalidWhatsApp = errors.New("invalid WhatsApp configuration")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 supports truncation to 768 dimensions via
// OutputDimensionality; the pgvector schema uses 768 (see llm.VectorDimension).
const DefaultEmbedderModel = "gemini-embedding-001"

// Retrieval defaults. These mirror the engine's tuning knobs and can be
// overridden per deployment without recompiling.
const (
	DefaultSimilarityThreshold = 0.75
	DefaultMaxExamples         = 5
)

// WhatsAppConfig holds the WhatsApp Cloud API channel settings.
// The channel is disabled when AccessToken is empty.
type WhatsAppConfig struct {
	AccessToken   string `mapstructure:"access_token" json:"-"` // SENSITIVE
	PhoneNumberID string `mapstructure:"phone_number_id" json:"phone_number_id"`
	VerifyToken   string `mapstructure:"verify_token" json:"-"` // SENSITIVE
}

// TracingConfig holds the OTLP trace export settings.
type TracingConfig struct {
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`         // "gemini" (default), "openai", "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`     // e.g. "googleai/gemini-2.5-flash"
	SearchModel   string `mapstructure:"search_model" json:"search_model"` // model used for search-grounded generation
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Retrieval tuning
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	MaxExamples         int     `mapstructure:"max_examples" json:"max_examples"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Channels
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp" json:"whatsapp"`

	// Serve mode
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".homedesk")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "googleai/gemini-2.5-flash")
	viper.SetDefault("search_model", "googleai/gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("similarity_threshold", DefaultSimilarityThreshold)
	viper.SetDefault("max_examples", DefaultMaxExamples)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "homedesk")
	viper.SetDefault("postgres_password", "homedesk_dev_password")
	viper.SetDefault("postgres_db_name", "homedesk")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "homedesk")
}

// bindEnvVariables binds environment variables for secrets and overrides.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by Genkit, not via
// viper; Validate checks their presence for the selected provider.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "HOMEDESK_PROVIDER")
	mustBind("model_name", "HOMEDESK_MODEL_NAME")
	mustBind("search_model", "HOMEDESK_SEARCH_MODEL")
	mustBind("ollama_host", "HOMEDESK_OLLAMA_HOST")

	mustBind("cors_origins", "HOMEDESK_CORS_ORIGINS")
	mustBind("trust_proxy", "HOMEDESK_TRUST_PROXY")
	mustBind("rate_burst", "HOMEDESK_RATE_BURST")

	mustBind("whatsapp.access_token", "WHATSAPP_ACCESS_TOKEN")
	mustBind("whatsapp.phone_number_id", "WHATSAPP_PHONE_NUMBER_ID")
	mustBind("whatsapp.verify_token", "WHATSAPP_VERIFY_TOKEN")
}
