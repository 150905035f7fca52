// Package domain contains core domain types for the HealthConnect application.
package domain

import (
	"time"
)

// Known user roles. Role is stored as free text; these are the values the
// handlers check against.
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RolePharmacy = "pharmacy"
	RoleAdmin    = "admin"
)

// User represents a registered portal user.
type User struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	Role              string    `json:"role"`
	Allergies         string    `json:"allergies"`
	Medications       string    `json:"medications"`
	Surgeries         string    `json:"surgeries"`
	Age               *int      `json:"age"`
	Gender            *string   `json:"gender"`
	BloodGroup        *string   `json:"blood_group"`
	ProfilePictureURL *string   `json:"profile_picture_url"`
	CreatedAt         time.Time `json:"created_at"`
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role string) bool {
	return u != nil && u.Role == role
}
