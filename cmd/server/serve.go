package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/healthconnect/internal/api"
	"github.com/ashureev/healthconnect/internal/auth"
	"github.com/ashureev/healthconnect/internal/consult"
	"github.com/ashureev/healthconnect/internal/mail"
	"github.com/ashureev/healthconnect/internal/otp"
	"github.com/ashureev/healthconnect/internal/store"
)

func runServe(parent context.Context, f *flags) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	logger := slog.Default()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	// Initialize services.
	mailer := mail.NewMailer(cfg.SMTP, logger)
	if !cfg.SMTP.Configured() {
		slog.Warn("SMTP not configured, OTP mail will be written to the local log", "path", cfg.SMTP.LogPath)
	}
	otpService := otp.NewService(repo, mailer, otp.Options{
		TTL:           cfg.OTP.TTL,
		Debug:         cfg.OTP.Debug,
		RatePerMinute: cfg.OTP.RatePerMinute,
	}, logger)

	google := auth.NewGoogleVerifier(cfg.GoogleClientID, nil, logger)
	if !google.Enabled() {
		slog.Info("Google sign-in disabled (GOOGLE_CLIENT_ID not set)")
	}

	relay := consult.NewSession(logger)

	handler := api.NewRouter(api.Dependencies{
		Repo:           repo,
		Tokens:         auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Google:         google,
		OTP:            otpService,
		Relay:          relay,
		AllowedOrigins: cfg.AllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
		RequestLogging: true,
	})

	// WebSocket sessions are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start OTP sweeper.
	otp.StartSweeper(ctx, repo)
	slog.Info("OTP sweeper started")

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
