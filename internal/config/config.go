// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DevJWTSecret is the signing secret used when JWT_SECRET is unset. It is
// rejected outside development.
const DevJWTSecret = "supersecret"

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	DBPath         string
	JWTSecret      string
	TokenTTL       time.Duration
	GoogleClientID string
	OTP            OTPConfig
	SMTP           SMTPConfig
}

// OTPConfig controls one-time password issuance.
type OTPConfig struct {
	TTL           time.Duration
	Debug         bool
	RatePerMinute int
}

// SMTPConfig holds outbound mail settings. An incomplete config means mail is
// written to the local log instead of being sent.
type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	LogPath   string
}

// Configured reports whether enough settings are present to attempt an SMTP send.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.Port != 0 && s.User != "" && s.Password != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	smtpUser := getEnv("SMTP_USER", "")
	from := getEnv("FROM_EMAIL", smtpUser)
	if from == "" {
		from = "no-reply@localhost"
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		DBPath:         getEnv("DB_PATH", "./data/healthconnect.db"),
		JWTSecret:      getEnv("JWT_SECRET", DevJWTSecret),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 30*time.Minute),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		OTP: OTPConfig{
			TTL:           getEnvDuration("OTP_TTL", 10*time.Minute),
			Debug:         getEnvBool("OTP_DEBUG", false),
			RatePerMinute: getEnvInt("OTP_RATE_PER_MINUTE", 3),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvInt("SMTP_PORT", 0),
			User:      smtpUser,
			Password:  getEnv("SMTP_PASS", ""),
			FromEmail: from,
			LogPath:   getEnv("EMAIL_LOG_PATH", "./data/sent_otps.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.JWTSecret == DevJWTSecret && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET must be set when FRONTEND_URL is not a local address")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be > 0")
	}
	if c.OTP.RatePerMinute <= 0 {
		return fmt.Errorf("OTP_RATE_PER_MINUTE must be > 0")
	}
	if c.SMTP.LogPath == "" {
		return fmt.Errorf("EMAIL_LOG_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
