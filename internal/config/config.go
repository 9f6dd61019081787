package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/HammerMeetNail/nearby/internal/logging"
)

// Config is resolved in order: defaults, then the YAML file at CONFIG_PATH,
// then environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Chat     ChatConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	Secure      bool   // Send HSTS
	Environment string // "development", "production", "test"
	LogLevel    string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ChatConfig holds the realtime tunables. It is the only section the YAML
// overlay may set.
type ChatConfig struct {
	MaxMessageLength int           `yaml:"max_message_length"`
	HistoryLimit     int           `yaml:"history_limit"`
	SendTimeout      time.Duration `yaml:"send_timeout"`
	ReconcileWindow  time.Duration `yaml:"reconcile_window"`
	TypingIdle       time.Duration `yaml:"typing_idle"`
	InboxPoll        time.Duration `yaml:"inbox_poll"`
	MaxConnections   int           `yaml:"max_ws_connections"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
}

type fileConfig struct {
	Chat ChatConfig `yaml:"chat"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func defaultChat() ChatConfig {
	return ChatConfig{
		MaxMessageLength: 2000,
		HistoryLimit:     200,
		SendTimeout:      15 * time.Second,
		ReconcileWindow:  5 * time.Second,
		TypingIdle:       4 * time.Second,
		InboxPoll:        30 * time.Second,
		MaxConnections:   10000,
		RateLimit:        120,
		RateWindow:       time.Minute,
	}
}

func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	if env != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Could not load .env file", map[string]interface{}{"error": err.Error()})
		}
		env = getEnv("APP_ENV", "development")
	}

	chat := defaultChat()
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		if err := loadFile(path, &chat); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvInt("SERVER_PORT", 8080),
			Secure:      getEnvBool("SERVER_SECURE", false),
			Environment: env,
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "nearby"),
			Password: getEnv("DB_PASSWORD", "nearby"),
			DBName:   getEnv("DB_NAME", "nearby"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Chat: ChatConfig{
			MaxMessageLength: getEnvInt("CHAT_MAX_MESSAGE_LENGTH", chat.MaxMessageLength),
			HistoryLimit:     getEnvInt("CHAT_HISTORY_LIMIT", chat.HistoryLimit),
			SendTimeout:      getEnvDuration("CHAT_SEND_TIMEOUT", chat.SendTimeout),
			ReconcileWindow:  getEnvDuration("CHAT_RECONCILE_WINDOW", chat.ReconcileWindow),
			TypingIdle:       getEnvDuration("CHAT_TYPING_IDLE", chat.TypingIdle),
			InboxPoll:        getEnvDuration("CHAT_INBOX_POLL", chat.InboxPoll),
			MaxConnections:   getEnvInt("WS_MAX_CONNECTIONS", chat.MaxConnections),
			AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", chat.AllowedOrigins),
			RateLimit:        getEnvInt("RATE_LIMIT", chat.RateLimit),
			RateWindow:       getEnvDuration("RATE_WINDOW", chat.RateWindow),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, chat *ChatConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	file := fileConfig{Chat: *chat}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	*chat = file.Chat
	return nil
}

func (c *Config) validate() error {
	if c.Server.Environment == "production" && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("max message length must be positive, got %d", c.Chat.MaxMessageLength)
	}
	if c.Chat.SendTimeout <= 0 || c.Chat.ReconcileWindow <= 0 || c.Chat.TypingIdle <= 0 || c.Chat.InboxPoll <= 0 {
		return errors.New("chat timeouts must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
