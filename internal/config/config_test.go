package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "OTP_TTL", "ALLOWED_ORIGINS", "SMTP_HOST", "SMTP_USER", "FROM_EMAIL", "FRONTEND_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("PORT", "8000")
	t.Setenv("DB_PATH", "./data/test.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8000", cfg.Port)
	require.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	require.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.AllowedOrigins)
	require.Equal(t, "no-reply@localhost", cfg.SMTP.FromEmail)
	require.False(t, cfg.SMTP.Configured())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OTP_TTL", "90s")
	t.Setenv("OTP_DEBUG", "yes")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SMTP_HOST", "smtp.example")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("SMTP_USER", "mailer@example")
	t.Setenv("SMTP_PASS", "secret")
	t.Setenv("FROM_EMAIL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.OTP.TTL)
	require.True(t, cfg.OTP.Debug)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.True(t, cfg.SMTP.Configured())
}

func TestValidateRejectsEmptyPort(t *testing.T) {
	t.Setenv("PORT", "")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateJWTSecret(t *testing.T) {
	cfg := &Config{
		Port:      "8000",
		DBPath:    "./data/test.db",
		JWTSecret: DevJWTSecret,
		TokenTTL:  time.Minute,
		OTP:       OTPConfig{TTL: time.Minute, RatePerMinute: 1},
		SMTP:      SMTPConfig{LogPath: "./data/sent.log"},
	}

	cfg.FrontendURL = "http://localhost:5173"
	require.NoError(t, cfg.Validate(), "dev secret is fine locally")

	cfg.FrontendURL = "https://portal.example.com"
	require.Error(t, cfg.Validate(), "dev secret is rejected in production")

	cfg.JWTSecret = "a-real-secret"
	require.NoError(t, cfg.Validate())

	cfg.JWTSecret = ""
	require.Error(t, cfg.Validate())
}

func TestLoadRejectsDefaultSecretInProduction(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://portal.example.com")
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "a-real-secret")
	_, err = Load()
	require.NoError(t, err)
}
