// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/healthconnect/internal/domain"
)

var (
	// ErrNotFound is returned when an update targets a row that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when a user write collides with an existing email.
	ErrEmailTaken = errors.New("email already registered")
)

// Repository defines the interface for persisting portal data.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	// CreateUser inserts a user and sets its ID and CreatedAt.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateUser overwrites every mutable field of the user identified by user.ID.
	UpdateUser(ctx context.Context, user *domain.User) error

	// CreateOTP stores a new one-time code and sets its ID and CreatedAt.
	CreateOTP(ctx context.Context, otp *domain.OTP) error

	// FindOTP returns the most recent code row matching email and code.
	FindOTP(ctx context.Context, email, code string) (*domain.OTP, error)

	// RecentOTPs returns up to limit code rows for email, newest first.
	RecentOTPs(ctx context.Context, email string, limit int) ([]*domain.OTP, error)

	// MarkOTPVerified flags a code row as consumed.
	MarkOTPVerified(ctx context.Context, id int64) error

	// DeleteExpiredOTPs removes code rows that expired before the given time.
	DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error)

	// CreateAppointment inserts an appointment and sets its ID.
	CreateAppointment(ctx context.Context, appt *domain.Appointment) error

	// ListAppointments returns all appointments for a patient.
	ListAppointments(ctx context.Context, patientID int64) ([]*domain.Appointment, error)

	// CreatePrescription inserts a prescription and sets its ID.
	CreatePrescription(ctx context.Context, p *domain.Prescription) error

	// ListPrescriptions returns all prescriptions for a patient.
	ListPrescriptions(ctx context.Context, patientID int64) ([]*domain.Prescription, error)

	// EnsureUserColumns adds any missing optional columns to the users table
	// and returns the names of the columns it added.
	EnsureUserColumns(ctx context.Context) ([]string, error)

	// UserColumns lists the users table columns in declaration order.
	UserColumns(ctx context.Context) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
