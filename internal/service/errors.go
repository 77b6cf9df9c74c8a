package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDuplicateEmail             = errors.New("email already registered")
	ErrNotFound                   = errors.New("account not found")
	ErrEmailNotConfirmed          = errors.New("email not confirmed")
	ErrAccountLocked              = errors.New("account locked")
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrTokenInvalid               = errors.New("token invalid or expired")
	ErrExternalVerificationFailed = errors.New("external identity verification failed")
	ErrPersistence                = errors.New("persistence failure")
)

// LockedError indica hasta cuándo está bloqueada la cuenta.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// FieldError describe una regla incumplida sobre un campo de entrada.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError agrupa todos los errores de entrada detectados antes de mutar estado.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
