package config

import (
	"errors"
	"testing"
)

// validConfig returns a config that passes Validate with the ollama
// provider (no API key needed, keeps tests hermetic).
func validConfig() *Config {
	return &Config{
		Provider:            ProviderOllama,
		ModelName:           "ollama/llama3.3",
		SearchModel:         "ollama/llama3.3",
		EmbedderModel:       "nomic-embed-text",
		OllamaHost:          "http://localhost:11434",
		SimilarityThreshold: 0.75,
		MaxExamples:         5,
		PostgresHost:        "localhost",
		PostgresPort:        5432,
		PostgresUser:        "homedesk",
		PostgresPassword:    "secret-password",
		PostgresDBName:      "homedesk",
		PostgresSSLMode:     "disable",
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate(nil) = %v, want ErrConfigNil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, ErrInvalidProvider},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"empty search model", func(c *Config) { c.SearchModel = "" }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"threshold too high", func(c *Config) { c.SimilarityThreshold = 1.5 }, ErrInvalidThreshold},
		{"threshold negative", func(c *Config) { c.SimilarityThreshold = -0.1 }, ErrInvalidThreshold},
		{"zero max examples", func(c *Config) { c.MaxExamples = 0 }, ErrInvalidMaxExamples},
		{"max examples too large", func(c *Config) { c.MaxExamples = 100 }, ErrInvalidMaxExamples},
		{"empty host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"bad sslmode", func(c *Config) { c.PostgresSSLMode = "yes" }, ErrInvalidPostgresSSLMode},
		{"whatsapp missing phone id", func(c *Config) {
			c.WhatsApp = WhatsAppConfig{AccessToken: "tok", VerifyToken: "v"}
		}, ErrInvalidWhatsApp},
		{"whatsapp missing verify token", func(c *Config) {
			c.WhatsApp = WhatsAppConfig{AccessToken: "tok", PhoneNumberID: "123"}
		}, ErrInvalidWhatsApp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_WhatsAppDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.WhatsApp = WhatsAppConfig{} // channel disabled, nothing required
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with disabled WhatsApp = %v, want nil", err)
	}
}
