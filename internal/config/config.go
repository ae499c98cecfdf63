package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ytakahashi/todo-sync/internal/services"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Line      LineConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Backend         string
	ProjectID       string
	DatabaseID      string
	Transport       string
	FallbackOnError bool
	PollInterval    time.Duration
	ProbeTimeout    time.Duration
}

type LineConfig struct {
	ChannelToken  string
	ChannelSecret string
}

// Enabled reports whether the LINE webhook should be mounted.
func (c LineConfig) Enabled() bool {
	return c.ChannelToken != "" && c.ChannelSecret != ""
}

type RateLimitConfig struct {
	RequestsPerSecond float64
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads .env when present and builds the configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(getEnv("STORE_BACKEND", BackendFirestore)),
			ProjectID:       getEnv("GOOGLE_CLOUD_PROJECT", ""),
			DatabaseID:      getEnv("FIRESTORE_DATABASE", ""),
			Transport:       strings.ToLower(getEnv("FIRESTORE_TRANSPORT", "auto")),
			FallbackOnError: getEnvAsBool("FIRESTORE_FALLBACK_ON_ERROR", false),
			PollInterval:    getEnvAsDuration("FIRESTORE_POLL_INTERVAL", 2*time.Second),
			ProbeTimeout:    getEnvAsDuration("FIRESTORE_PROBE_TIMEOUT", 5*time.Second),
		},
		Line: LineConfig{
			ChannelToken:  getEnv("LINE_CHANNEL_TOKEN", ""),
			ChannelSecret: getEnv("LINE_CHANNEL_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
		},
		Log: LogConfig{
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.Store.ProjectID == "" {
			return errors.New("GOOGLE_CLOUD_PROJECT environment variable is required")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch services.Transport(c.Store.Transport) {
	case services.TransportAuto, services.TransportGRPC, services.TransportREST:
	default:
		return fmt.Errorf("unknown FIRESTORE_TRANSPORT %q", c.Store.Transport)
	}

	if (c.Line.ChannelToken == "") != (c.Line.ChannelSecret == "") {
		return errors.New("LINE_CHANNEL_TOKEN and LINE_CHANNEL_SECRET must be set together")
	}
	return nil
}

func (c *Config) UsesMemoryStore() bool {
	return c.Store.Backend == BackendMemory
}

// StoreOptions maps the store settings onto services.StoreOptions.
func (c *Config) StoreOptions() services.StoreOptions {
	return services.StoreOptions{
		ProjectID:       c.Store.ProjectID,
		DatabaseID:      c.Store.DatabaseID,
		Transport:       services.Transport(c.Store.Transport),
		ProbeTimeout:    c.Store.ProbeTimeout,
		PollInterval:    c.Store.PollInterval,
		FallbackOnError: c.Store.FallbackOnError,
	}
}

func (c *Config) ServerAddr() string {
	return ":" + c.Server.Port
}

// SetupLogging sends the standard logger to LOG_FILE, rotated, in addition to
// stderr. It returns the writer so request logging can share it.
func (c *Config) SetupLogging() io.Writer {
	if c.Log.File == "" {
		return os.Stderr
	}

	w := io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAgeDays,
		Compress:   true,
	})
	log.SetOutput(w)
	return w
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
