package password

import (
	"strconv"
	"strings"
	"unicode"
)

// Policy define los requisitos mínimos de fortaleza de una contraseña.
type Policy struct {
	MinLength       int
	RequireUpper    bool
	RequireLower    bool
	RequireDigit    bool
	RequireNonAlnum bool
}

// DefaultPolicy replica la configuración observada en producción.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// PolicyError lista cada regla incumplida.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}

// Validate devuelve nil o un *PolicyError con todas las reglas incumplidas.
func (p Policy) Validate(pw string) error {
	var hasUpper, hasLower, hasDigit, hasOther bool
	length := 0
	for _, r := range pw {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r):
			hasOther = true
		}
	}

	var violations []string
	if length < p.MinLength {
		violations = append(violations, "must be at least "+strconv.Itoa(p.MinLength)+" characters")
	}
	if p.RequireUpper && !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if p.RequireNonAlnum && !hasOther {
		violations = append(violations, "must contain a non-alphanumeric character")
	}
	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}
