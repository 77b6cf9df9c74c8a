// Package lockout decide el bloqueo temporal de cuentas tras intentos fallidos.
package lockout

import "time"

// Policy es la configuración de bloqueo. Threshold <= 0 lo desactiva.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Duration: 5 * time.Minute}
}

// State es la porción de la cuenta que la política lee y produce.
type State struct {
	FailedAttempts int
	LockoutEndsAt  *time.Time
}

func (p Policy) Enabled() bool {
	return p.Threshold > 0
}

// Locked se calcula al leer: un bloqueo vencido no requiere escritura.
func (p Policy) Locked(s State, now time.Time) bool {
	return s.LockoutEndsAt != nil && now.Before(*s.LockoutEndsAt)
}

// Remaining devuelve cuánto falta para que expire el bloqueo, o cero.
func (p Policy) Remaining(s State, now time.Time) time.Duration {
	if !p.Locked(s, now) {
		return 0
	}
	return s.LockoutEndsAt.Sub(now)
}

// RegisterFailure cuenta un intento fallido; al llegar al umbral bloquea y reinicia el contador.
func (p Policy) RegisterFailure(s State, now time.Time) State {
	if !p.Enabled() {
		return State{FailedAttempts: s.FailedAttempts + 1}
	}
	next := State{FailedAttempts: s.FailedAttempts + 1}
	if s.LockoutEndsAt != nil && !now.Before(*s.LockoutEndsAt) {
		next.LockoutEndsAt = nil
	} else {
		next.LockoutEndsAt = s.LockoutEndsAt
	}
	if next.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		return State{FailedAttempts: 0, LockoutEndsAt: &until}
	}
	return next
}

func (p Policy) RegisterSuccess(State) State {
	return State{}
}
