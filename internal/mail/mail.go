// Package mail delivers transactional email over SMTP, falling back to a local
// NDJSON log when SMTP is unconfigured or the send fails.
package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/healthconnect/internal/config"
)

const dialTimeout = 10 * time.Second

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender sends a message and reports whether it actually left via SMTP.
type Sender interface {
	Send(ctx context.Context, msg Message) bool
}

// logRecord is one line of the fallback log.
type logRecord struct {
	Time      time.Time `json:"time"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SMTPError string    `json:"smtp_error,omitempty"`
}

// Mailer is the SMTP-backed Sender.
type Mailer struct {
	cfg    config.SMTPConfig
	logger *slog.Logger

	mu sync.Mutex // serializes fallback log appends
}

// NewMailer creates a Mailer for the given SMTP settings.
func NewMailer(cfg config.SMTPConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// Send attempts SMTP delivery. It returns false when the message was only
// written to the fallback log.
func (m *Mailer) Send(ctx context.Context, msg Message) bool {
	if !m.cfg.Configured() {
		m.logger.Info("SMTP not configured, writing email to local log", "to", msg.To, "subject", msg.Subject)
		m.writeFallback(msg, nil)
		return false
	}

	if err := m.sendSMTP(ctx, msg); err != nil {
		m.logger.Warn("SMTP send failed, falling back to local log", "to", msg.To, "error", err)
		m.writeFallback(msg, err)
		return false
	}

	m.logger.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return true
}

func (m *Mailer) sendSMTP(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	// Some relays do not offer STARTTLS; plain submission is still attempted.
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(m.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(m.compose(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return c.Quit()
}

func (m *Mailer) compose(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.cfg.FromEmail + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func (m *Mailer) writeFallback(msg Message, sendErr error) {
	rec := logRecord{
		Time:    time.Now().UTC(),
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	if sendErr != nil {
		rec.SMTPError = sendErr.Error()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		m.logger.Error("Failed to encode email log record", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.cfg.LogPath), 0755); err != nil {
		m.logger.Error("Failed to create email log directory", "path", m.cfg.LogPath, "error", err)
		return
	}
	f, err := os.OpenFile(m.cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		m.logger.Error("Failed to open email log", "path", m.cfg.LogPath, "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			m.logger.Warn("Failed to close email log", "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		m.logger.Error("Failed to write email log", "error", err)
	}
}
