package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	dbconfig "directchat/pkg/database"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "DIRECTCHAT"

// ConfigFileEnv names the environment variable holding the optional JSON config file path
const ConfigFileEnv = "DIRECTCHAT_CONFIG_FILE"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *dbconfig.Config `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Chat      *ChatConfig      `json:"chat"`
	LogLevel  string           `json:"log_level" split_words:"true"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Host            string        `json:"host" split_words:"true"`
	Port            int           `json:"port" split_words:"true"`
	ReadTimeout     time.Duration `json:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `json:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" split_words:"true"`
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// WebSocketConfig tunes the transport; PingInterval must stay below PongWait
type WebSocketConfig struct {
	SendBuffer       int           `json:"send_buffer" split_words:"true"`
	WriteTimeout     time.Duration `json:"write_timeout" split_words:"true"`
	PongWait         time.Duration `json:"pong_wait" split_words:"true"`
	PingInterval     time.Duration `json:"ping_interval" split_words:"true"`
	MaxMessageSize   int64         `json:"max_message_size" split_words:"true"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" split_words:"true"`
}

// ChatConfig holds messaging limits
type ChatConfig struct {
	MaxBodyLength      int `json:"max_body_length" split_words:"true"`       // runes; 0 disables
	RateLimitPerMinute int `json:"rate_limit_per_minute" split_words:"true"` // per sender; 0 disables
	InboxSize          int `json:"inbox_size" split_words:"true"`            // queued inbound events per session
}

// FUNCTIONAL DISCOVERY: Production-ready defaults
// SQLite on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			SendBuffer:       100,
			WriteTimeout:     5 * time.Second,
			PongWait:         60 * time.Second,
			PingInterval:     30 * time.Second,
			MaxMessageSize:   64 * 1024,
			HandshakeTimeout: 10 * time.Second,
		},
		Chat: &ChatConfig{
			MaxBodyLength:      4000,
			RateLimitPerMinute: 100,
			InboxSize:          64,
		},
		LogLevel: "info",
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	// port 0 binds any free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("WebSocket send buffer must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("WebSocket ping interval must be positive and shorter than pong wait")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Chat == nil {
		return errors.New("chat configuration is required")
	}
	if c.Chat.MaxBodyLength < 0 {
		return errors.New("max body length cannot be negative")
	}
	if c.Chat.RateLimitPerMinute < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.Chat.InboxSize <= 0 {
		return errors.New("inbox size must be positive")
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel (debug, info, warn, error)
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// LoadFromEnv overlays DIRECTCHAT_* variables on the defaults,
// e.g. DIRECTCHAT_HTTP_PORT, DIRECTCHAT_DATABASE_DRIVER, DIRECTCHAT_CHAT_RATE_LIMIT_PER_MINUTE.
// FUNCTIONAL DISCOVERY: Unset variables keep their default; malformed ones are errors
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return config, nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Chat      *ChatConfig          `json:"chat"`
	LogLevel  string               `json:"log_level"`
}

type DatabaseConfigFile struct {
	Driver         string `json:"driver"`
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
	WriteQueueSize int    `json:"write_queue_size"`
	WriteTimeout   string `json:"write_timeout"`
	WriteRetries   *int   `json:"write_retries"`
	RetryDelay     string `json:"retry_delay"`
}

type HTTPConfigFile struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	SendBuffer       int    `json:"send_buffer"`
	WriteTimeout     string `json:"write_timeout"`
	PongWait         string `json:"pong_wait"`
	PingInterval     string `json:"ping_interval"`
	MaxMessageSize   int64  `json:"max_message_size"`
	HandshakeTimeout string `json:"handshake_timeout"`
}

// LoadFromFile reads a JSON config file over base. Only fields present in the file change.
// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(base); err != nil {
		return nil, fmt.Errorf("invalid value in config file %s: %w", path, err)
	}
	return base, nil
}

func (f *ConfigFile) apply(c *Config) error {
	if db := f.Database; db != nil {
		setString(&c.Database.Driver, db.Driver)
		setString(&c.Database.Path, db.Path)
		setInt(&c.Database.MaxConnections, db.MaxConnections)
		setInt(&c.Database.WriteQueueSize, db.WriteQueueSize)
		if db.WriteRetries != nil {
			c.Database.WriteRetries = *db.WriteRetries
		}
		if err := setDuration(&c.Database.WriteTimeout, "database.write_timeout", db.WriteTimeout); err != nil {
			return err
		}
		if err := setDuration(&c.Database.RetryDelay, "database.retry_delay", db.RetryDelay); err != nil {
			return err
		}
	}

	if h := f.HTTP; h != nil {
		setString(&c.HTTP.Host, h.Host)
		setInt(&c.HTTP.Port, h.Port)
		for _, d := range []struct {
			dst   *time.Duration
			name  string
			value string
		}{
			{&c.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout},
			{&c.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout},
			{&c.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout},
		} {
			if err := setDuration(d.dst, d.name, d.value); err != nil {
				return err
			}
		}
	}

	if ws := f.WebSocket; ws != nil {
		setInt(&c.WebSocket.SendBuffer, ws.SendBuffer)
		if ws.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = ws.MaxMessageSize
		}
		for _, d := range []struct {
			dst   *time.Duration
			name  string
			value string
		}{
			{&c.WebSocket.WriteTimeout, "websocket.write_timeout", ws.WriteTimeout},
			{&c.WebSocket.PongWait, "websocket.pong_wait", ws.PongWait},
			{&c.WebSocket.PingInterval, "websocket.ping_interval", ws.PingInterval},
			{&c.WebSocket.HandshakeTimeout, "websocket.handshake_timeout", ws.HandshakeTimeout},
		} {
			if err := setDuration(d.dst, d.name, d.value); err != nil {
				return err
			}
		}
	}

	if chat := f.Chat; chat != nil {
		setInt(&c.Chat.MaxBodyLength, chat.MaxBodyLength)
		setInt(&c.Chat.RateLimitPerMinute, chat.RateLimitPerMinute)
		setInt(&c.Chat.InboxSize, chat.InboxSize)
	}

	setString(&c.LogLevel, f.LogLevel)
	return nil
}

// Load resolves the configuration and validates it.
// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
func Load() (*Config, error) {
	config, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if config, err = LoadFromFile(path, config); err != nil {
			return nil, err
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, name, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
