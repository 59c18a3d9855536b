package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	ServiceName string
	Debug       bool
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AMQP        AMQPConfig
	Auth        AuthConfig
	Chat        ChatConfig
	Notify      NotifyConfig
	Tracing     TracingConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port            string
	GRPCPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the SQL backend. An empty DSN runs the service on the in-memory store.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AMQPConfig struct {
	URL              string
	Exchange         string
	NotifyRoutingKey string
	EventsRoutingKey string
}

type AuthConfig struct {
	Mode          string // "jwt" or "header"
	JWTSecret     string
	JWTIssuer     string
	InternalToken string
}

type ChatConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxContentRunes int
	MaxRoomList     int
	DedupeWindow    time.Duration
	TypingThrottle  time.Duration
	SendQueueSize   int
	MaxFrameBytes   int64
	FrameRateLimit  int
	FrameRateWindow time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
}

type NotifyConfig struct {
	QueueSize    int
	PreviewRunes int
}

type TracingConfig struct {
	Endpoint    string
	SampleRatio float64
}

type LogConfig struct {
	Level string
}

const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServiceName: getEnv("SERVICE_NAME", "chat-core"),
		Debug:       getEnvAsBool("DEBUG_ROUTES", false),
		Server: ServerConfig{
			Port:            getEnv("PORT", "8083"),
			GRPCPort:        getEnv("GRPC_PORT", "9083"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			DSN:             getEnv("DB_DSN", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		AMQP: AMQPConfig{
			URL:              getEnv("AMQP_URL", ""),
			Exchange:         getEnv("AMQP_EXCHANGE", "chat.events"),
			NotifyRoutingKey: getEnv("AMQP_NOTIFY_ROUTING_KEY", "notifications.chat_message"),
			EventsRoutingKey: getEnv("AMQP_EVENTS_ROUTING_KEY", "ws_events.chat"),
		},
		Auth: AuthConfig{
			Mode:          strings.ToLower(getEnv("AUTH_MODE", AuthModeJWT)),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTIssuer:     getEnv("JWT_ISSUER", ""),
			InternalToken: getEnv("INTERNAL_TOKEN", ""),
		},
		Chat: ChatConfig{
			DefaultPageSize: getEnvAsInt("CHAT_DEFAULT_PAGE_SIZE", 50),
			MaxPageSize:     getEnvAsInt("CHAT_MAX_PAGE_SIZE", 100),
			MaxContentRunes: getEnvAsInt("CHAT_MAX_CONTENT_RUNES", 4000),
			MaxRoomList:     getEnvAsInt("CHAT_MAX_ROOM_LIST", 200),
			DedupeWindow:    getEnvAsDuration("CHAT_DEDUPE_WINDOW", 10*time.Minute),
			TypingThrottle:  getEnvAsDuration("CHAT_TYPING_THROTTLE", 2*time.Second),
			SendQueueSize:   getEnvAsInt("CHAT_SEND_QUEUE", 64),
			MaxFrameBytes:   int64(getEnvAsInt("CHAT_MAX_FRAME_BYTES", 64*1024)),
			FrameRateLimit:  getEnvAsInt("CHAT_FRAME_RATE_LIMIT", 30),
			FrameRateWindow: getEnvAsDuration("CHAT_FRAME_RATE_WINDOW", 10*time.Second),
			PingInterval:    getEnvAsDuration("CHAT_PING_INTERVAL", 25*time.Second),
			PongWait:        getEnvAsDuration("CHAT_PONG_WAIT", 60*time.Second),
			WriteWait:       getEnvAsDuration("CHAT_WRITE_WAIT", 10*time.Second),
		},
		Notify: NotifyConfig{
			QueueSize:    getEnvAsInt("NOTIFY_QUEUE_SIZE", 1024),
			PreviewRunes: getEnvAsInt("NOTIFY_PREVIEW_RUNES", 140),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set when AUTH_MODE=jwt")
		}
	case AuthModeHeader:
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.Auth.Mode)
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Chat.DefaultPageSize <= 0 || c.Chat.MaxPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.Chat.DefaultPageSize > c.Chat.MaxPageSize {
		return fmt.Errorf("CHAT_DEFAULT_PAGE_SIZE exceeds CHAT_MAX_PAGE_SIZE")
	}
	if c.Chat.DedupeWindow <= 0 {
		return fmt.Errorf("CHAT_DEDUPE_WINDOW must be positive")
	}
	if c.Chat.PingInterval >= c.Chat.PongWait {
		return fmt.Errorf("CHAT_PING_INTERVAL must be shorter than CHAT_PONG_WAIT")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
