package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile         string
	AdminAddr      string
	APIAddr        string
	BaseURL        string
	UploadsPath    string
	AuthSecret     string
	TokenExpiry    time.Duration
	MaxUploadBytes int64
	LogLevel       string
}

// Load reads the configuration from the environment. Values from .env.local
// and .env fill variables that are not already set, in that order.
func Load(cliMode bool) (*Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}
	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
	}

	cfg := &Config{
		DBFile:         getEnv("STUDIODESK_DB", "studiodesk.db"),
		AdminAddr:      getEnv("ADMIN_ADDR", "localhost:3001"),
		APIAddr:        getEnv("API_ADDR", ":3000"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:3000"),
		UploadsPath:    getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenExpiry:    tokenExpiry,
		MaxUploadBytes: maxUpload,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
