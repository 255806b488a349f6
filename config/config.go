package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Connection policies for a second session with an already connected user_id.
const (
	PolicyReplace = "replace"
	PolicyReject  = "reject"
)

type Config struct {
	Port               string
	TextServiceURL     string
	TextServiceTimeout time.Duration
	RedisURL           string
	AllowedOrigins     []string
	LogLevel           string
	LogFormat          string
	PingInterval       time.Duration
	MaxMessageBytes    int64
	ConnectionPolicy   string
}

// LoadDotEnv loads variables from the given .env files into the environment.
// Variables that are already set win.
func LoadDotEnv(files ...string) error {
	return godotenv.Load(files...)
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		TextServiceURL:   strings.TrimRight(getenv("TEXT_SERVICE_URL", "http://localhost:8083"), "/"),
		RedisURL:         os.Getenv("REDIS_URL"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFormat:        getenv("LOG_FORMAT", "text"),
		ConnectionPolicy: strings.ToLower(getenv("CONNECTION_POLICY", PolicyReplace)),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	var err error
	if cfg.TextServiceTimeout, err = durationEnv("TEXT_SERVICE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.TextServiceTimeout <= 0 {
		return nil, fmt.Errorf("TEXT_SERVICE_TIMEOUT must be positive, got %s", cfg.TextServiceTimeout)
	}
	if cfg.PingInterval, err = durationEnv("WS_PING_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PingInterval < 0 {
		return nil, fmt.Errorf("WS_PING_INTERVAL must not be negative, got %s", cfg.PingInterval)
	}

	cfg.MaxMessageBytes = 64 * 1024
	if v := os.Getenv("WS_MAX_MESSAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid WS_MAX_MESSAGE_BYTES %q", v)
		}
		cfg.MaxMessageBytes = n
	}

	switch cfg.ConnectionPolicy {
	case PolicyReplace, PolicyReject:
	default:
		return nil, fmt.Errorf("invalid CONNECTION_POLICY %q: want %q or %q", cfg.ConnectionPolicy, PolicyReplace, PolicyReject)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
