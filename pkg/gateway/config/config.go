// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthMode controls bearer auth on API routes.
type AuthMode string

const (
	AuthModeDisabled AuthMode = "disabled"
	AuthModeOptional AuthMode = "optional"
	AuthModeRequired AuthMode = "required"
)

// Config is the full gateway configuration.
type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	CORSAllowedOrigins map[string]struct{}

	// Model access.
	GeminiAPIKey string
	ChatModel    string
	TTSModel     string
	TTSVoice     string

	// Sync transports. Redis is primary; Postgres is the durable fallback.
	// At least one must be configured unless SyncLocalOnly is set.
	RedisURL      string
	PostgresDSN   string
	SyncChannel   string
	SyncLocalOnly bool

	// Request limits.
	MaxBodyBytes int64
	LimitRPS     float64
	LimitBurst   int

	// Session-window limit for starting intake sessions.
	SessionMax    int
	SessionWindow time.Duration

	// HTTP server tuning.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Dashboard websocket keepalive.
	WSPingInterval time.Duration
}

// LoadFromEnv reads configuration from CLARA_* environment variables and
// validates it.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CLARA_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("CLARA_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             splitCSVSet(os.Getenv("CLARA_API_KEYS")),
		CORSAllowedOrigins:  splitCSVSet(os.Getenv("CLARA_CORS_ALLOWED_ORIGINS")),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		ChatModel:           envOr("CLARA_CHAT_MODEL", "gemini-2.0-flash"),
		TTSModel:            envOr("CLARA_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		TTSVoice:            envOr("CLARA_TTS_VOICE", "Sulafat"),
		RedisURL:            os.Getenv("CLARA_REDIS_URL"),
		PostgresDSN:         os.Getenv("CLARA_POSTGRES_DSN"),
		SyncChannel:         envOr("CLARA_SYNC_CHANNEL", "clara:sync"),
		SyncLocalOnly:       envBoolOr("CLARA_SYNC_LOCAL_ONLY", false),
		MaxBodyBytes:        envInt64Or("CLARA_MAX_BODY_BYTES", 8<<20),
		LimitRPS:            envFloat64Or("CLARA_LIMIT_RPS", 10),
		LimitBurst:          envIntOr("CLARA_LIMIT_BURST", 20),
		SessionMax:          envIntOr("CLARA_SESSION_MAX", 3),
		SessionWindow:       envDurationOr("CLARA_SESSION_WINDOW", 24*time.Hour),
		ReadHeaderTimeout:   envDurationOr("CLARA_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("CLARA_READ_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod: envDurationOr("CLARA_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		WSPingInterval:      envDurationOr("CLARA_WS_PING_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr must not be empty")
	}
	switch c.AuthMode {
	case AuthModeDisabled, AuthModeOptional, AuthModeRequired:
	default:
		return fmt.Errorf("invalid auth mode %q", c.AuthMode)
	}
	if c.AuthMode == AuthModeRequired && len(c.APIKeys) == 0 {
		return fmt.Errorf("auth mode required but no api keys configured")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if c.ChatModel == "" || c.TTSModel == "" || c.TTSVoice == "" {
		return fmt.Errorf("model configuration must not be empty")
	}
	if !c.SyncLocalOnly && c.RedisURL == "" && c.PostgresDSN == "" {
		return fmt.Errorf("configure CLARA_REDIS_URL or CLARA_POSTGRES_DSN, or set CLARA_SYNC_LOCAL_ONLY=true")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be > 0")
	}
	if c.LimitRPS < 0 || c.LimitBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.SessionMax <= 0 {
		return fmt.Errorf("session max must be > 0")
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("session window must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 || c.ReadTimeout <= 0 || c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("ws ping interval must be > 0")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Or(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat64Or(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOr(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSVSet(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}
