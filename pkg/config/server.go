package config

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// AuthSecretEnv names the environment variable holding the HS256
	// secret for privileged-endpoint bearer tokens.
	AuthSecretEnv string `yaml:"auth_secret_env,omitempty"`

	// AllowedWSOrigins restricts WebSocket upgrades. Empty allows same-host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// SessionConfig holds session snapshot settings.
type SessionConfig struct {
	// Dir is the directory holding one JSON file per session key.
	Dir string `yaml:"dir"`

	// MaxMessages bounds the stored history per session.
	MaxMessages int `yaml:"max_messages"`
}

// DefaultSessionConfig returns the built-in session defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Dir:         "./data/sessions",
		MaxMessages: 100,
	}
}
