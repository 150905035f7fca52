package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/healthconnect/internal/domain"
	"github.com/ashureev/healthconnect/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// userColumn is an optional users column that older databases may lack.
type userColumn struct {
	name string
	decl string
}

// optionalUserColumns are added with ALTER TABLE when missing. CREATE TABLE IF
// NOT EXISTS never alters an existing table, so databases created before these
// fields existed are patched at startup.
var optionalUserColumns = []userColumn{
	{"allergies", "TEXT NOT NULL DEFAULT ''"},
	{"medications", "TEXT NOT NULL DEFAULT ''"},
	{"surgeries", "TEXT NOT NULL DEFAULT ''"},
	{"age", "INTEGER"},
	{"gender", "TEXT"},
	{"bloodgroup", "TEXT"},
	{"profile_picture_url", "TEXT"},
	{"created_at", "INTEGER NOT NULL DEFAULT 0"},
}

const userSelect = `
	SELECT id, name, email, password, role, allergies, medications, surgeries,
	       age, gender, bloodgroup, profile_picture_url, created_at
	FROM users`

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers; foreign keys are per-connection in SQLite.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	added, err := store.EnsureUserColumns(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ensure user columns: %w", err)
	}
	if len(added) > 0 {
		slog.Info("Added missing user columns", "columns", added)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		allergies TEXT NOT NULL DEFAULT '',
		medications TEXT NOT NULL DEFAULT '',
		surgeries TEXT NOT NULL DEFAULT '',
		age INTEGER,
		gender TEXT,
		bloodgroup TEXT,
		profile_picture_url TEXT,
		created_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS otps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		code TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_otps_email ON otps(email, created_at);

	CREATE TABLE IF NOT EXISTS appointments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL REFERENCES users(id),
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments(patient_id);

	CREATE TABLE IF NOT EXISTS prescriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL REFERENCES users(id),
		doctor_id INTEGER NOT NULL REFERENCES users(id),
		date TEXT NOT NULL,
		diagnosis TEXT NOT NULL,
		instruction TEXT NOT NULL DEFAULT '',
		medications TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions(patient_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UserColumns lists the users table columns in declaration order.
func (s *SQLiteStore) UserColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('users') ORDER BY cid`)
	if err != nil {
		return nil, fmt.Errorf("query users columns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close table info rows", "error", closeErr)
		}
	}()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users columns: %w", err)
	}
	return cols, nil
}

// EnsureUserColumns adds any missing optional columns to the users table.
func (s *SQLiteStore) EnsureUserColumns(ctx context.Context) ([]string, error) {
	cols, err := s.UserColumns(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(cols))
	for _, c := range cols {
		existing[c] = true
	}

	var added []string
	for _, col := range optionalUserColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE users ADD COLUMN %s %s", col.name, col.decl)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return added, fmt.Errorf("add column %s: %w", col.name, err)
		}
		added = append(added, col.name)
	}
	return added, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var age sql.NullInt64
	var gender, bloodGroup, picture sql.NullString
	var createdAt int64

	if err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&u.Allergies, &u.Medications, &u.Surgeries,
		&age, &gender, &bloodGroup, &picture, &createdAt,
	); err != nil {
		return nil, err
	}

	if age.Valid {
		v := int(age.Int64)
		u.Age = &v
	}
	u.Gender = stringPtr(gender)
	u.BloodGroup = stringPtr(bloodGroup)
	u.ProfilePictureURL = stringPtr(picture)
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

// CreateUser inserts a user and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (name, email, password, role, allergies, medications, surgeries,
	                   age, gender, bloodgroup, profile_picture_url, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now()
	var id int64
	err := shared.RetryOnConflict(ctx, s.retry, "create user", func() error {
		res, err := s.db.ExecContext(ctx, query,
			user.Name, user.Email, user.PasswordHash, user.Role,
			user.Allergies, user.Medications, user.Surgeries,
			nullable(user.Age), nullable(user.Gender), nullable(user.BloodGroup),
			nullable(user.ProfilePictureURL), now.Unix(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if shared.IsUniqueConstraintError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	user.ID = id
	user.CreatedAt = time.Unix(now.Unix(), 0)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpdateUser overwrites every mutable field of the user identified by user.ID.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *domain.User) error {
	query := `
	UPDATE users SET
		name = ?, email = ?, password = ?, role = ?,
		allergies = ?, medications = ?, surgeries = ?,
		age = ?, gender = ?, bloodgroup = ?, profile_picture_url = ?
	WHERE id = ?`

	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, "update user", func() error {
		res, err := s.db.ExecContext(ctx, query,
			user.Name, user.Email, user.PasswordHash, user.Role,
			user.Allergies, user.Medications, user.Surgeries,
			nullable(user.Age), nullable(user.Gender), nullable(user.BloodGroup),
			nullable(user.ProfilePictureURL), user.ID,
		)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		if shared.IsUniqueConstraintError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("update user: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOTP stores a new one-time code and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateOTP(ctx context.Context, otp *domain.OTP) error {
	query := `INSERT INTO otps (email, code, expires_at, verified, created_at) VALUES (?, ?, ?, ?, ?)`

	now := time.Now()
	var id int64
	err := shared.RetryOnConflict(ctx, s.retry, "create otp", func() error {
		res, err := s.db.ExecContext(ctx, query, otp.Email, otp.Code, otp.ExpiresAt.Unix(), otp.Verified, now.Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}

	otp.ID = id
	otp.CreatedAt = time.Unix(now.Unix(), 0)
	return nil
}

func scanOTP(row rowScanner) (*domain.OTP, error) {
	var o domain.OTP
	var expiresAt, createdAt int64
	if err := row.Scan(&o.ID, &o.Email, &o.Code, &expiresAt, &o.Verified, &createdAt); err != nil {
		return nil, err
	}
	o.ExpiresAt = time.Unix(expiresAt, 0)
	o.CreatedAt = time.Unix(createdAt, 0)
	return &o, nil
}

// FindOTP returns the most recent code row matching email and code.
func (s *SQLiteStore) FindOTP(ctx context.Context, email, code string) (*domain.OTP, error) {
	query := `
		SELECT id, email, code, expires_at, verified, created_at
		FROM otps WHERE email = ? AND code = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`

	otp, err := scanOTP(s.db.QueryRowContext(ctx, query, email, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan otp row: %w", err)
	}
	return otp, nil
}

// RecentOTPs returns up to limit code rows for email, newest first.
func (s *SQLiteStore) RecentOTPs(ctx context.Context, email string, limit int) ([]*domain.OTP, error) {
	query := `
		SELECT id, email, code, expires_at, verified, created_at
		FROM otps WHERE email = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent otps: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close otp rows", "error", closeErr)
		}
	}()

	var out []*domain.OTP
	for rows.Next() {
		otp, err := scanOTP(rows)
		if err != nil {
			return nil, fmt.Errorf("scan otp row: %w", err)
		}
		out = append(out, otp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate otps: %w", err)
	}
	return out, nil
}

// MarkOTPVerified flags a code row as consumed.
func (s *SQLiteStore) MarkOTPVerified(ctx context.Context, id int64) error {
	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, "verify otp", func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE otps SET verified = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark otp verified: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredOTPs removes code rows that expired before the given time.
func (s *SQLiteStore) DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete expired otps", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at < ?`, before.Unix())
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	return rows, nil
}

// CreateAppointment inserts an appointment and sets its ID.
func (s *SQLiteStore) CreateAppointment(ctx context.Context, appt *domain.Appointment) error {
	query := `INSERT INTO appointments (patient_id, date, time, reason) VALUES (?, ?, ?, ?)`

	var id int64
	err := shared.RetryOnConflict(ctx, s.retry, "create appointment", func() error {
		res, err := s.db.ExecContext(ctx, query, appt.PatientID, appt.Date, appt.Time, appt.Reason)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	appt.ID = id
	return nil
}

// ListAppointments returns all appointments for a patient.
func (s *SQLiteStore) ListAppointments(ctx context.Context, patientID int64) ([]*domain.Appointment, error) {
	query := `SELECT id, patient_id, date, time, reason FROM appointments WHERE patient_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close appointment rows", "error", closeErr)
		}
	}()

	out := []*domain.Appointment{}
	for rows.Next() {
		var a domain.Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Date, &a.Time, &a.Reason); err != nil {
			return nil, fmt.Errorf("scan appointment row: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return out, nil
}

// CreatePrescription inserts a prescription and sets its ID.
func (s *SQLiteStore) CreatePrescription(ctx context.Context, p *domain.Prescription) error {
	meds := p.Medications
	if meds == nil {
		meds = []domain.Medication{}
	}
	medsJSON, err := json.Marshal(meds)
	if err != nil {
		return fmt.Errorf("encode medications: %w", err)
	}

	query := `
	INSERT INTO prescriptions (patient_id, doctor_id, date, diagnosis, instruction, medications)
	VALUES (?, ?, ?, ?, ?, ?)`

	var id int64
	err = shared.RetryOnConflict(ctx, s.retry, "create prescription", func() error {
		res, err := s.db.ExecContext(ctx, query, p.PatientID, p.DoctorID, p.Date, p.Diagnosis, p.Instruction, string(medsJSON))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	p.ID = id
	return nil
}

// ListPrescriptions returns all prescriptions for a patient.
func (s *SQLiteStore) ListPrescriptions(ctx context.Context, patientID int64) ([]*domain.Prescription, error) {
	query := `
		SELECT id, patient_id, doctor_id, date, diagnosis, instruction, medications
		FROM prescriptions WHERE patient_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close prescription rows", "error", closeErr)
		}
	}()

	out := []*domain.Prescription{}
	for rows.Next() {
		var p domain.Prescription
		var medsJSON string
		if err := rows.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Date, &p.Diagnosis, &p.Instruction, &medsJSON); err != nil {
			return nil, fmt.Errorf("scan prescription row: %w", err)
		}
		if err := json.Unmarshal([]byte(medsJSON), &p.Medications); err != nil {
			slog.Warn("Stored medications are not valid JSON", "prescription_id", p.ID, "error", err)
		}
		if p.Medications == nil {
			p.Medications = []domain.Medication{}
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prescriptions: %w", err)
	}
	return out, nil
}
