package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromFileDefaults(t *testing.T) {
	cfg := FromFile(&FileConfig{})

	if cfg.ListenAddress != ":8000" {
		t.Errorf("ListenAddress = %q, want :8000", cfg.ListenAddress)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want 120s", cfg.RequestTimeout)
	}
	if cfg.SlowRequest != 2*time.Second {
		t.Errorf("SlowRequest = %v, want 2s", cfg.SlowRequest)
	}
	if cfg.OllamaHost != "http://localhost:11434" {
		t.Errorf("OllamaHost = %q", cfg.OllamaHost)
	}
	if cfg.StorageDriver != DriverSQLite {
		t.Errorf("StorageDriver = %q, want sqlite", cfg.StorageDriver)
	}
	if cfg.Encryption != EncryptionNone {
		t.Errorf("Encryption = %q, want none", cfg.Encryption)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_LISTEN", ":9999")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("CHATRELAY_DB_DRIVER", DriverPostgres)
	t.Setenv("CHATRELAY_POSTGRES_DSN", "postgres://u:p@db/chat")
	t.Setenv("REQUEST_TIME_WARN", "0.5")

	cfg := FromFile(DefaultFileConfig())
	cfg.applyEnvOverrides()

	if cfg.ListenAddress != ":9999" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.OllamaHost != "http://ollama:11434" {
		t.Errorf("OllamaHost = %q", cfg.OllamaHost)
	}
	if cfg.StorageDriver != DriverPostgres || cfg.PostgresDSN != "postgres://u:p@db/chat" {
		t.Errorf("storage = %q %q", cfg.StorageDriver, cfg.PostgresDSN)
	}
	if cfg.SlowRequest != 500*time.Millisecond {
		t.Errorf("SlowRequest = %v, want 500ms", cfg.SlowRequest)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate() = %v", err)
	}
}

func TestChatrelayOllamaHostWinsOverLegacyVariable(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://legacy:11434")
	t.Setenv("CHATRELAY_OLLAMA_HOST", "http://preferred:11434")

	cfg := FromFile(DefaultFileConfig())
	cfg.applyEnvOverrides()

	if cfg.OllamaHost != "http://preferred:11434" {
		t.Errorf("OllamaHost = %q", cfg.OllamaHost)
	}
}

func TestInvalidRequestTimeWarnIsIgnored(t *testing.T) {
	t.Setenv("REQUEST_TIME_WARN", "soon")

	cfg := FromFile(DefaultFileConfig())
	cfg.applyEnvOverrides()

	if cfg.SlowRequest != 2*time.Second {
		t.Errorf("SlowRequest = %v, want 2s", cfg.SlowRequest)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"postgres without dsn", func(c *Config) { c.StorageDriver = DriverPostgres }, true},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mysql" }, true},
		{"ssh_key without path", func(c *Config) { c.Encryption = EncryptionSSHKey }, true},
		{"unknown security method", func(c *Config) { c.Encryption = "vault" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromFile(DefaultFileConfig())
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFileConfigCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}
	if cfg.Server.ListenAddress != ":8000" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if !FileExists(path) {
		t.Fatal("template was not written")
	}

	// The generated template must parse back to the defaults.
	reloaded, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("reloading template: %v", err)
	}
	if *reloaded != *DefaultFileConfig() {
		t.Errorf("template decodes to %+v, want %+v", reloaded, DefaultFileConfig())
	}
}

func TestSaveFileConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultFileConfig()
	cfg.Storage.Driver = DriverPostgres
	cfg.Storage.PostgresDSN = "postgres://db/chat"
	cfg.Server.RequestTimeoutSeconds = 30

	if err := SaveFileConfig(cfg, path); err != nil {
		t.Fatalf("SaveFileConfig() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config permissions = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded %+v, want %+v", loaded, cfg)
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATRELAY_CONFIG", filepath.Join(dir, "config.toml"))
	t.Setenv("CHATRELAY_DATA_DIR", filepath.Join(dir, "data"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	info, err := os.Stat(cfg.DataDir())
	if err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("data dir permissions = %v, want 0700", info.Mode().Perm())
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	if got := ExpandPath("~/data"); got != filepath.Clean("/home/tester/data") {
		t.Errorf("ExpandPath(~/data) = %q", got)
	}
	if got := ExpandPath(""); got != "" {
		t.Errorf("ExpandPath(\"\") = %q", got)
	}
}
