package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Prefix namespaces environment variables; bare names (PORT, REDIS_URL...) are accepted too.
const Prefix = "SHOPCHAT"

// Session id store backends
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds client and reference-server configuration
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"` // "console" or "json"

	// Client
	BackendURL         string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:8000"`
	ReconnectDelay     time.Duration `envconfig:"RECONNECT_DELAY" default:"1s"`
	AudioFlushInterval time.Duration `envconfig:"AUDIO_FLUSH_INTERVAL" default:"200ms"`
	SessionStore       string        `envconfig:"SESSION_STORE" default:"file"`
	SessionFile        string        `envconfig:"SESSION_FILE"` // defaults under the user config dir
	SessionKey         string        `envconfig:"SESSION_KEY" default:"chat_session_id"`
	DefaultRole        string        `envconfig:"DEFAULT_ROLE" default:"assistant"`
	Greeting           string        `envconfig:"GREETING"`
	UploadURL          string        `envconfig:"UPLOAD_URL"` // defaults to BackendURL + /upload-image
	WebhookURL         string        `envconfig:"WEBHOOK_URL"`

	// Shared by the client redis store and the server registry
	RedisURL      string `envconfig:"REDIS_URL" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	// Reference server
	Port            int           `envconfig:"PORT" default:"8000"`
	MaxSessions     int           `envconfig:"MAX_SESSIONS" default:"100"`
	SessionTimeout  time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	GeminiAPIKey    string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel     string        `envconfig:"GEMINI_MODEL" default:"models/gemini-2.5-flash-native-audio-preview-12-2025"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	KeepAlivePeriod time.Duration `envconfig:"KEEPALIVE_PERIOD" default:"15s"`
	MaxBufferSize   int           `envconfig:"MAX_BUFFER_SIZE" default:"5242880"` // bytes of buffered mic audio
	UploadDir       string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	PublicURL       string        `envconfig:"PUBLIC_URL"` // prefix for upload URLs
	CatalogFile     string        `envconfig:"CATALOG_FILE"`
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, errors.Wrap(err, "read configuration from environment")
	}

	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		cfg.SessionFile = filepath.Join(dir, "shopchat", "storage.yaml")
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	if cfg.UploadURL == "" {
		cfg.UploadURL = httpBase(cfg.BackendURL) + "/upload-image"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the client-side settings
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return errors.Wrap(err, "invalid BACKEND_URL")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.Errorf("invalid BACKEND_URL scheme %q: must be http, https, ws or wss", u.Scheme)
	}

	switch c.SessionStore {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return errors.Errorf("invalid SESSION_STORE %q: must be 'file', 'redis' or 'memory'", c.SessionStore)
	}

	if c.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if c.AudioFlushInterval <= 0 {
		return errors.New("AUDIO_FLUSH_INTERVAL must be positive")
	}
	if c.SessionKey == "" {
		return errors.New("SESSION_KEY must not be empty")
	}
	return nil
}

// ValidateServer checks the settings the reference server needs on top of Validate
func (c *Config) ValidateServer() error {
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is required")
	}
	if c.Port <= 0 {
		return errors.Errorf("invalid PORT: %d", c.Port)
	}
	if c.MaxSessions <= 0 {
		return errors.Errorf("invalid MAX_SESSIONS: %d", c.MaxSessions)
	}
	return nil
}

// HTTPBaseURL returns BackendURL with a ws(s) scheme mapped to http(s), for plain requests.
func (c *Config) HTTPBaseURL() string {
	return httpBase(c.BackendURL)
}

func httpBase(raw string) string {
	switch {
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	}
	return raw
}
