package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type ServerConfig struct {
	ListenAddress         string  `toml:"listen_address"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	SlowRequestSeconds    float64 `toml:"slow_request_seconds"`
}

type OllamaConfig struct {
	Host string `toml:"host"`
}

type StorageConfig struct {
	Driver        string `toml:"driver"`
	DataDirectory string `toml:"data_directory"`
	PostgresDSN   string `toml:"postgres_dsn,omitempty"`
}

type SecurityConfig struct {
	Method     string `toml:"method"`
	SSHKeyPath string `toml:"ssh_key_path,omitempty"`
}

// FileConfig mirrors config.toml.
type FileConfig struct {
	Server   ServerConfig   `toml:"server"`
	Ollama   OllamaConfig   `toml:"ollama"`
	Storage  StorageConfig  `toml:"storage"`
	Security SecurityConfig `toml:"security"`
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the resolved runtime configuration: config.toml with
// environment overrides applied.
type Config struct {
	ListenAddress  string
	RequestTimeout time.Duration
	SlowRequest    time.Duration
	OllamaHost     string
	StorageDriver  string
	DataDirectory  string
	PostgresDSN    string
	Encryption     EncryptionMethod
	SSHKeyPath     string
	SSHPassphrase  string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// OllamaURL returns the host substituted for Ollama configs without a base URL.
func (c *Config) OllamaURL() string {
	return c.OllamaHost
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CHATRELAY_LISTEN"); addr != "" {
		c.ListenAddress = addr
	}
	// OLLAMA_BASE_URL is honored for deployments that already export it.
	if host := os.Getenv("OLLAMA_BASE_URL"); host != "" {
		c.OllamaHost = host
	}
	if host := os.Getenv("CHATRELAY_OLLAMA_HOST"); host != "" {
		c.OllamaHost = host
	}
	if dataDir := os.Getenv("CHATRELAY_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if driver := os.Getenv("CHATRELAY_DB_DRIVER"); driver != "" {
		c.StorageDriver = driver
	}
	if dsn := os.Getenv("CHATRELAY_POSTGRES_DSN"); dsn != "" {
		c.PostgresDSN = dsn
	}
	if passphrase := os.Getenv("CHATRELAY_SSH_KEY_PASSPHRASE"); passphrase != "" {
		c.SSHPassphrase = passphrase
	}
	if warn := os.Getenv("REQUEST_TIME_WARN"); warn != "" {
		// Invalid values keep the configured threshold.
		if secs, err := strconv.ParseFloat(warn, 64); err == nil && secs >= 0 {
			c.SlowRequest = time.Duration(secs * float64(time.Second))
		}
	}
}

func CheckDebug() bool {
	debug := os.Getenv("CHATRELAY_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log may contain request metadata
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (CHATRELAY_DEBUG=%s) ===", os.Getenv("CHATRELAY_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

// Debugf writes to the debug log when debug logging is enabled.
func Debugf(format string, args ...any) {
	if Debug && DebugLog != nil {
		DebugLog.Printf(format, args...)
	}
}

// FromFile resolves a FileConfig into a Config, filling defaults for
// anything left blank.
func FromFile(fc *FileConfig) *Config {
	def := DefaultFileConfig()

	cfg := &Config{
		ListenAddress:  fc.Server.ListenAddress,
		RequestTimeout: time.Duration(fc.Server.RequestTimeoutSeconds) * time.Second,
		SlowRequest:    time.Duration(fc.Server.SlowRequestSeconds * float64(time.Second)),
		OllamaHost:     fc.Ollama.Host,
		StorageDriver:  fc.Storage.Driver,
		DataDirectory:  fc.Storage.DataDirectory,
		PostgresDSN:    fc.Storage.PostgresDSN,
		Encryption:     EncryptionMethod(fc.Security.Method),
		SSHKeyPath:     fc.Security.SSHKeyPath,
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = def.Server.ListenAddress
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Duration(def.Server.RequestTimeoutSeconds) * time.Second
	}
	if fc.Server.SlowRequestSeconds <= 0 {
		cfg.SlowRequest = time.Duration(def.Server.SlowRequestSeconds * float64(time.Second))
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = def.Ollama.Host
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = def.Storage.Driver
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = def.Storage.DataDirectory
	}
	if cfg.Encryption == "" {
		cfg.Encryption = EncryptionNone
	}

	return cfg
}

// Load reads config.toml (creating it from the template on first run),
// applies environment overrides and prepares the data directory.
func Load() (*Config, error) {
	fileCfg, err := LoadFileConfig(GetConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := FromFile(fileCfg)
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("storage driver %q requires postgres_dsn", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.StorageDriver)
	}

	switch c.Encryption {
	case EncryptionNone:
	case EncryptionSSHKey:
		if c.SSHKeyPath == "" {
			return fmt.Errorf("security method %q requires ssh_key_path", c.Encryption)
		}
	default:
		return fmt.Errorf("unknown security method: %s", c.Encryption)
	}

	return nil
}

// NewEncryptionManager builds the credential cipher described by the config.
// The manager is initialized and ready for Encrypt/Decrypt.
func (c *Config) NewEncryptionManager() (*EncryptionManager, error) {
	mgr := NewEncryptionManager(c.Encryption, ExpandPath(c.SSHKeyPath))
	mgr.SetPassphrase(c.SSHPassphrase)
	if err := mgr.Initialize(); err != nil {
		return nil, err
	}
	return mgr, nil
}
