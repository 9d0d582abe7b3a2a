package config

func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Server: ServerConfig{
			ListenAddress:         ":8000",
			RequestTimeoutSeconds: 120,
			SlowRequestSeconds:    2.0,
		},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		Storage: StorageConfig{
			Driver:        DriverSQLite,
			DataDirectory: "~/.local/share/chatrelay",
		},
		Security: SecurityConfig{
			Method: string(EncryptionNone),
		},
	}
}

func GenerateConfigTemplate() string {
	return `# chatrelay configuration
# Location: ~/.config/chatrelay/config.toml (override with CHATRELAY_CONFIG)
# This file uses TOML format: https://toml.io

[server]
# Address the HTTP API listens on
listen_address = ":8000"

# Upper bound for one provider call, in seconds
request_timeout_seconds = 120

# Requests slower than this are logged as warnings (REQUEST_TIME_WARN overrides)
slow_request_seconds = 2.0

[ollama]
# Used by OLLAMA configs that do not set their own base URL
host = "http://localhost:11434"

[storage]
# "sqlite" (embedded, stored under data_directory) or "postgres"
driver = "sqlite"
data_directory = "~/.local/share/chatrelay"
# postgres_dsn = "postgres://chatrelay:secret@db:5432/chatrelay"

[security]
# How provider API keys are stored: "none" (plain) or "ssh_key"
# (AES-256-GCM with a key derived from the SSH key below)
method = "none"
# ssh_key_path = "~/.ssh/id_ed25519"
`
}
