package domain

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"
)

// Account es el registro de identidad local.
type Account struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	NormalizedEmail    string     `json:"-"`
	DisplayName        string     `json:"displayName,omitempty"`
	PasswordHash       *string    `json:"-"`
	EmailConfirmed     bool       `json:"emailConfirmed"`
	SecurityStamp      string     `json:"-"`
	FailedAttemptCount int        `json:"-"`
	LockoutEndsAt      *time.Time `json:"-"`
	AuthProvider       string     `json:"authProvider,omitempty"`
	AuthSubject        string     `json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// HasPassword indica si la cuenta tiene credencial local.
func (a Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// NormalizeEmail produce la clave case-insensitive usada para unicidad.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewSecurityStamp genera un ancla de invalidación nueva.
func NewSecurityStamp() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
