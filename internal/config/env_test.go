package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnvSetsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "APCA_API_KEY_ID=abc123\nAPCA_API_SECRET_KEY=shh\nBOT_POSTGRES_DSN=postgres://bot@localhost/bot\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	unsetEnv(t, "APCA_API_KEY_ID")
	unsetEnv(t, "APCA_API_SECRET_KEY")
	unsetEnv(t, "BOT_POSTGRES_DSN")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}

	cfg := Default()
	applyEnv(&cfg)
	if cfg.APIKey != "abc123" || cfg.APISecret != "shh" {
		t.Fatalf("expected credentials from .env, got %q/%q", cfg.APIKey, cfg.APISecret)
	}
	if cfg.PostgresDSN != "postgres://bot@localhost/bot" {
		t.Fatalf("expected postgres dsn from .env, got %q", cfg.PostgresDSN)
	}
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("APCA_API_KEY_ID=from_file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("APCA_API_KEY_ID", "from_env")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv error: %v", err)
	}

	if got := os.Getenv("APCA_API_KEY_ID"); got != "from_env" {
		t.Fatalf("expected env to win, got %q", got)
	}
}

func TestLoadDotEnvIfPresentIgnoresMissingFile(t *testing.T) {
	loadDotEnvIfPresent(filepath.Join(t.TempDir(), "missing.env"))
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset env: %v", err)
	}
}
