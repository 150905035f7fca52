// Package otp issues and verifies one-time email verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ashureev/healthconnect/internal/domain"
	"github.com/ashureev/healthconnect/internal/mail"
	"github.com/ashureev/healthconnect/internal/store"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	codeLength = 6
	// recentLookback bounds the fallback scan when no exact (email, code) row exists.
	recentLookback = 5
	emailSubject   = "Welcome to HealthConnect - Verify Your Account"
)

var (
	// ErrNotFound is returned when no stored code matches.
	ErrNotFound = errors.New("otp not found")
	// ErrExpired is returned when the matching code is past its expiry.
	ErrExpired = errors.New("otp expired")
	// ErrRateLimited is returned when an address requests codes too quickly.
	ErrRateLimited = errors.New("too many otp requests")
)

// Issued describes a freshly created code.
type Issued struct {
	Email     string
	Sent      bool
	ExpiresAt time.Time
	// DebugCode carries the code back to the caller when it could not be mailed
	// or debug mode is on.
	DebugCode *string
}

// Verification is the result of a successful Verify.
type Verification struct {
	AlreadyVerified bool
}

// Options configures a Service.
type Options struct {
	TTL           time.Duration
	Debug         bool
	RatePerMinute int
}

// Service issues and checks codes.
type Service struct {
	repo     store.Repository
	mailer   mail.Sender
	opts     Options
	limiters *gocache.Cache
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates an OTP service.
func NewService(repo store.Repository, mailer mail.Sender, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 3
	}
	return &Service{
		repo:     repo,
		mailer:   mailer,
		opts:     opts,
		limiters: gocache.New(10*time.Minute, 5*time.Minute),
		now:      time.Now,
		logger:   logger,
	}
}

// limiter returns the per-address limiter, creating it on first use.
// go-cache's Add is atomic, so concurrent first requests share one limiter.
func (s *Service) limiter(email string) *rate.Limiter {
	if l, ok := s.limiters.Get(email); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.RatePerMinute)), s.opts.RatePerMinute)
	if err := s.limiters.Add(email, l, gocache.DefaultExpiration); err != nil {
		if existing, ok := s.limiters.Get(email); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

// Send creates a code for email, stores it and mails it. name personalizes the
// greeting.
func (s *Service) Send(ctx context.Context, email, name string) (*Issued, error) {
	if !s.limiter(email).Allow() {
		return nil, ErrRateLimited
	}

	code, err := generateCode(codeLength)
	if err != nil {
		return nil, err
	}

	row := &domain.OTP{
		Email:     email,
		Code:      code,
		ExpiresAt: s.now().Add(s.opts.TTL),
	}
	if err := s.repo.CreateOTP(ctx, row); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	sent := s.mailer.Send(ctx, mail.Message{
		To:      email,
		Subject: emailSubject,
		Body:    emailBody(name, code),
	})

	issued := &Issued{Email: email, Sent: sent, ExpiresAt: row.ExpiresAt}
	if s.opts.Debug || !sent {
		issued.DebugCode = &code
	}

	s.logger.Info("OTP created", "email", email, "emailed", sent, "debug", s.opts.Debug)
	return issued, nil
}

// Verify checks code for email and marks it consumed. A code that was already
// verified is accepted again without error.
func (s *Service) Verify(ctx context.Context, email, code string) (*Verification, error) {
	code = strings.TrimSpace(code)

	row, err := s.repo.FindOTP(ctx, email, code)
	if err != nil {
		return nil, fmt.Errorf("find otp: %w", err)
	}

	// Codes stored with stray whitespace only match through the latest row.
	if row == nil {
		recent, err := s.repo.RecentOTPs(ctx, email, recentLookback)
		if err != nil {
			return nil, fmt.Errorf("recent otps: %w", err)
		}
		s.logger.Debug("No exact OTP match", "email", email, "recent", len(recent))
		if len(recent) > 0 && strings.TrimSpace(recent[0].Code) == code {
			row = recent[0]
		}
	}

	if row == nil {
		return nil, ErrNotFound
	}
	if row.Verified {
		return &Verification{AlreadyVerified: true}, nil
	}
	if row.Expired(s.now()) {
		return nil, ErrExpired
	}

	if err := s.repo.MarkOTPVerified(ctx, row.ID); err != nil {
		return nil, fmt.Errorf("mark otp verified: %w", err)
	}
	return &Verification{}, nil
}

func generateCode(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func emailBody(name, code string) string {
	if name == "" {
		name = "User"
	}
	return fmt.Sprintf(`Hi %s,

Here's your OTP to verify your account: %s

Enter it to continue your journey with us.

Cheering you on,
Team HealthConnect`, name, code)
}
