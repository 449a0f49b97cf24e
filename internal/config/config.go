package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the system-wide settings tree. Defaults cover a single-node
// deployment; environment variables and an optional JSON file override.
type Config struct {
	HTTP        *HTTPConfig        `json:"http"`
	WebSocket   *WebSocketConfig   `json:"websocket"`
	Database    *DatabaseConfig    `json:"database"`
	Rooms       *RoomConfig        `json:"rooms"`
	Connections *ConnectionConfig  `json:"connections"`
	Queue       *QueueConfig       `json:"queue"`
	RateLimits  *RateLimitConfig   `json:"rate_limits"`
	Auth        *AuthConfig        `json:"auth"`
	Redis       *RedisConfig       `json:"redis"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `json:"ping_interval"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	BufferSize       int           `json:"buffer_size"`
}

// DatabaseConfig configures the sqlite audit sink. An empty path
// disables the sink entirely.
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type RoomConfig struct {
	HistorySize int           `json:"history_size"`
	IdleTTL     time.Duration `json:"idle_ttl"`
}

type ConnectionConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

type QueueConfig struct {
	MaxPerUser int `json:"max_per_user"`
}

// Rule is one sliding-window rate limit.
type Rule struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// RateLimitConfig holds the per-event-type limits plus the trailing
// burst cap applied to messages before the primary window is consulted.
type RateLimitConfig struct {
	Connection   Rule `json:"connection"`
	Message      Rule `json:"message"`
	Typing       Rule `json:"typing"`
	Cursor       Rule `json:"cursor"`
	PlanUpdate   Rule `json:"plan_update"`
	MessageBurst Rule `json:"message_burst"`
}

// TokenEntry maps a static bearer token to a user profile. This backs
// the built-in dev authenticator; production deployments plug in a real
// Auth service behind the same interface.
type TokenEntry struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
}

// AuthConfig controls origin checking and the token table. An empty
// AllowedOrigins list permits every origin (development posture).
type AuthConfig struct {
	AllowedOrigins []string     `json:"allowed_origins"`
	Tokens         []TokenEntry `json:"tokens"`
	AllowAnonymous bool         `json:"allow_anonymous"`
}

// RedisConfig enables the pub/sub bridge for multi-process fan-out.
type RedisConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Channel string `json:"channel"`
}

// DefaultConfig returns a configuration suited to a single process
// serving interactive collaboration sessions.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       100,
		},
		Database: &DatabaseConfig{
			Path:    "./collabhub.db",
			Timeout: 30 * time.Second,
		},
		Rooms: &RoomConfig{
			HistorySize: 100,
			IdleTTL:     10 * time.Minute,
		},
		Connections: &ConnectionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Queue: &QueueConfig{
			MaxPerUser: 1000,
		},
		RateLimits: &RateLimitConfig{
			Connection:   Rule{Limit: 10, Window: time.Minute},
			Message:      Rule{Limit: 30, Window: time.Minute},
			Typing:       Rule{Limit: 20, Window: time.Minute},
			Cursor:       Rule{Limit: 100, Window: time.Minute},
			PlanUpdate:   Rule{Limit: 50, Window: time.Minute},
			MessageBurst: Rule{Limit: 100, Window: time.Minute},
		},
		Auth: &AuthConfig{
			AllowedOrigins: nil,
			Tokens:         nil,
			AllowAnonymous: true,
		},
		Redis: &RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "collabhub.rooms",
		},
	}
}

// Validate catches invalid configurations before components start.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed ping interval")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket buffer size must be positive")
	}
	if c.Rooms == nil || c.Rooms.HistorySize <= 0 {
		return fmt.Errorf("room history size must be positive")
	}
	if c.Rooms.IdleTTL <= 0 {
		return fmt.Errorf("room idle ttl must be positive")
	}
	if c.Connections == nil || c.Connections.IdleTimeout <= 0 || c.Connections.SweepInterval <= 0 {
		return fmt.Errorf("connection timeouts must be positive")
	}
	if c.Queue == nil || c.Queue.MaxPerUser <= 0 {
		return fmt.Errorf("queue cap must be positive")
	}
	if c.RateLimits == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	for name, rule := range map[string]Rule{
		"connection":    c.RateLimits.Connection,
		"message":       c.RateLimits.Message,
		"typing":        c.RateLimits.Typing,
		"cursor":        c.RateLimits.Cursor,
		"plan_update":   c.RateLimits.PlanUpdate,
		"message_burst": c.RateLimits.MessageBurst,
	} {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("rate limit %s must have positive limit and window", name)
		}
	}
	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if !c.Auth.AllowAnonymous && len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("auth requires tokens when anonymous access is disabled")
	}
	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		return fmt.Errorf("redis bridge requires addr and channel")
	}
	return nil
}

// LoadFromEnv overlays COLLABHUB_* environment variables on the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("COLLABHUB_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("COLLABHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if path := os.Getenv("COLLABHUB_DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if v := os.Getenv("COLLABHUB_CONNECTION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connections.IdleTimeout = d
		}
	}
	if v := os.Getenv("COLLABHUB_ROOM_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rooms.IdleTTL = d
		}
	}
	if v := os.Getenv("COLLABHUB_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("COLLABHUB_WEBSOCKET_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.ReadTimeout = d
		}
	}
	if origins := os.Getenv("COLLABHUB_ALLOWED_ORIGINS"); origins != "" {
		cfg.Auth.AllowedOrigins = splitAndTrim(origins)
	}
	if v := os.Getenv("COLLABHUB_ALLOW_ANONYMOUS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.AllowAnonymous = b
		}
	}
	if v := os.Getenv("COLLABHUB_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if addr := os.Getenv("COLLABHUB_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if ch := os.Getenv("COLLABHUB_REDIS_CHANNEL"); ch != "" {
		cfg.Redis.Channel = ch
	}

	return cfg
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// configFile mirrors Config with durations as strings so JSON files can
// say "30s" instead of nanosecond counts.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval     string `json:"ping_interval"`
		ReadTimeout      string `json:"read_timeout"`
		WriteTimeout     string `json:"write_timeout"`
		HandshakeTimeout string `json:"handshake_timeout"`
		BufferSize       int    `json:"buffer_size"`
	} `json:"websocket"`
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	Rooms *struct {
		HistorySize int    `json:"history_size"`
		IdleTTL     string `json:"idle_ttl"`
	} `json:"rooms"`
	Connections *struct {
		IdleTimeout   string `json:"idle_timeout"`
		SweepInterval string `json:"sweep_interval"`
	} `json:"connections"`
	Queue *struct {
		MaxPerUser int `json:"max_per_user"`
	} `json:"queue"`
	RateLimits *struct {
		Connection   *ruleFile `json:"connection"`
		Message      *ruleFile `json:"message"`
		Typing       *ruleFile `json:"typing"`
		Cursor       *ruleFile `json:"cursor"`
		PlanUpdate   *ruleFile `json:"plan_update"`
		MessageBurst *ruleFile `json:"message_burst"`
	} `json:"rate_limits"`
	Auth *struct {
		AllowedOrigins []string     `json:"allowed_origins"`
		Tokens         []TokenEntry `json:"tokens"`
		AllowAnonymous *bool        `json:"allow_anonymous"`
	} `json:"auth"`
	Redis *RedisConfig `json:"redis"`
}

type ruleFile struct {
	Limit  int    `json:"limit"`
	Window string `json:"window"`
}

func (r *ruleFile) apply(dst *Rule) {
	if r == nil {
		return
	}
	if r.Limit > 0 {
		dst.Limit = r.Limit
	}
	if r.Window != "" {
		if d, err := time.ParseDuration(r.Window); err == nil {
			dst.Window = d
		}
	}
}

func setDuration(dst *time.Duration, s string) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// LoadFromFile reads a JSON config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if f.HTTP != nil {
		if f.HTTP.Host != "" {
			cfg.HTTP.Host = f.HTTP.Host
		}
		if f.HTTP.Port > 0 {
			cfg.HTTP.Port = f.HTTP.Port
		}
		setDuration(&cfg.HTTP.ReadTimeout, f.HTTP.ReadTimeout)
		setDuration(&cfg.HTTP.WriteTimeout, f.HTTP.WriteTimeout)
	}
	if f.WebSocket != nil {
		setDuration(&cfg.WebSocket.PingInterval, f.WebSocket.PingInterval)
		setDuration(&cfg.WebSocket.ReadTimeout, f.WebSocket.ReadTimeout)
		setDuration(&cfg.WebSocket.WriteTimeout, f.WebSocket.WriteTimeout)
		setDuration(&cfg.WebSocket.HandshakeTimeout, f.WebSocket.HandshakeTimeout)
		if f.WebSocket.BufferSize > 0 {
			cfg.WebSocket.BufferSize = f.WebSocket.BufferSize
		}
	}
	if f.Database != nil {
		cfg.Database.Path = f.Database.Path
		setDuration(&cfg.Database.Timeout, f.Database.Timeout)
	}
	if f.Rooms != nil {
		if f.Rooms.HistorySize > 0 {
			cfg.Rooms.HistorySize = f.Rooms.HistorySize
		}
		setDuration(&cfg.Rooms.IdleTTL, f.Rooms.IdleTTL)
	}
	if f.Connections != nil {
		setDuration(&cfg.Connections.IdleTimeout, f.Connections.IdleTimeout)
		setDuration(&cfg.Connections.SweepInterval, f.Connections.SweepInterval)
	}
	if f.Queue != nil && f.Queue.MaxPerUser > 0 {
		cfg.Queue.MaxPerUser = f.Queue.MaxPerUser
	}
	if f.RateLimits != nil {
		f.RateLimits.Connection.apply(&cfg.RateLimits.Connection)
		f.RateLimits.Message.apply(&cfg.RateLimits.Message)
		f.RateLimits.Typing.apply(&cfg.RateLimits.Typing)
		f.RateLimits.Cursor.apply(&cfg.RateLimits.Cursor)
		f.RateLimits.PlanUpdate.apply(&cfg.RateLimits.PlanUpdate)
		f.RateLimits.MessageBurst.apply(&cfg.RateLimits.MessageBurst)
	}
	if f.Auth != nil {
		if len(f.Auth.AllowedOrigins) > 0 {
			cfg.Auth.AllowedOrigins = f.Auth.AllowedOrigins
		}
		if len(f.Auth.Tokens) > 0 {
			cfg.Auth.Tokens = f.Auth.Tokens
		}
		if f.Auth.AllowAnonymous != nil {
			cfg.Auth.AllowAnonymous = *f.Auth.AllowAnonymous
		}
	}
	if f.Redis != nil {
		cfg.Redis = f.Redis
		if cfg.Redis.Channel == "" {
			cfg.Redis.Channel = "collabhub.rooms"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithPrecedence resolves configuration as file > environment > defaults.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
		// A broken file falls back to env/defaults.
	}
	return cfg
}
