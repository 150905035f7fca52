package domain

import "time"

// OTP is a one-time email verification code.
type OTP struct {
	ID        int64
	Email     string
	Code      string
	ExpiresAt time.Time
	Verified  bool
	CreatedAt time.Time
}

// Expired reports whether the code is past its expiry at now.
func (o *OTP) Expired(now time.Time) bool {
	return o.ExpiresAt.Before(now)
}
