package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		HTTP:    HTTPConfig{Port: 8080},
		Backend: BackendConfig{URI: "memory://test", Database: "test"},
	}
}

func TestValidate_InvalidBudgetAction(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding = EmbeddingConfig{
		Providers: map[string]ProviderConfig{
			"nebius": {
				APIKey:  "test-key",
				BaseURL: "https://api.example.com/v1/",
				Budget: BudgetConfig{
					DailyTokenLimit: 1000000,
					Action:          "invalid_action",
				},
			},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid budget action")
	}

	expected := `embedding.providers.nebius.budget.action must be "warn" or "reject", got "invalid_action"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidBudgetActions(t *testing.T) {
	validActions := []string{"", "warn", "reject"}

	for _, action := range validActions {
		t.Run("action="+action, func(t *testing.T) {
			cfg := validConfig()
			cfg.Embedding = EmbeddingConfig{
				Providers: map[string]ProviderConfig{
					"nebius": {APIKey: "test-key", Budget: BudgetConfig{Action: action}},
				},
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for valid action %q: %v", action, err)
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"bad scheme", func(c *Config) { c.Backend.URI = "ftp://x" }},
		{"cloud backend", func(c *Config) { c.Backend.URI = "holo://db" }},
		{"negative ttl", func(c *Config) { c.Cache.TTLSec = -1 }},
		{"unknown provider", func(c *Config) {
			c.Embedding.Vectorizers = map[string]VectorizerConfig{"v": {Provider: "missing"}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 30 {
		t.Errorf("expected WriteTimeoutSec=30, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Backend.URI != "memory://default" {
		t.Errorf("expected memory backend, got %q", cfg.Backend.URI)
	}
	if cfg.Backend.Database != DefaultDatabase {
		t.Errorf("expected database %q, got %q", DefaultDatabase, cfg.Backend.Database)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Backend: BackendConfig{URI: "postgres://localhost/db", Database: "prod"},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Backend.URI != "postgres://localhost/db" {
		t.Errorf("backend uri overridden: %q", cfg.Backend.URI)
	}
	if cfg.Backend.Database != "prod" {
		t.Errorf("database overridden: %q", cfg.Backend.Database)
	}
}

func TestLoadFile_ExpandsEnv(t *testing.T) {
	t.Setenv("HOLODEX_TEST_PORT", "9191")
	t.Setenv("HOLODEX_TEST_KEY", "secret")

	path := filepath.Join(t.TempDir(), "test.yaml")
	data := []byte(`
http:
  port: ${HOLODEX_TEST_PORT}
backend:
  uri: ${HOLODEX_TEST_URI:-memory://fixtures}
auth:
  api_keys: ["${HOLODEX_TEST_KEY}"]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.HTTP.Port)
	}
	if cfg.Backend.URI != "memory://fixtures" {
		t.Errorf("expected default uri, got %q", cfg.Backend.URI)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0] != "secret" {
		t.Errorf("unexpected api keys %v", cfg.Auth.APIKeys)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestVectorizer(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding = EmbeddingConfig{
		Providers:   map[string]ProviderConfig{"openai": {APIKey: "k"}},
		Vectorizers: map[string]VectorizerConfig{"small": {Provider: "openai", Model: "text-embedding-3-small"}},
	}

	v, p, ok := cfg.Vectorizer("")
	if !ok {
		t.Fatal("expected the only vectorizer")
	}
	if v.Model != "text-embedding-3-small" || p.APIKey != "k" {
		t.Errorf("unexpected vectorizer %+v provider %+v", v, p)
	}
	if _, _, ok := cfg.Vectorizer("large"); ok {
		t.Error("unknown vectorizer resolved")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	if got := GetEnv(); got != "local" {
		t.Errorf("expected local, got %q", got)
	}
	t.Setenv("ENV", "prod")
	if got := GetEnv(); got != "prod" {
		t.Errorf("expected prod, got %q", got)
	}
}
