// Package federation verifica identidades externas y las concilia con cuentas locales.
package federation

import (
	"context"
	"errors"
)

var ErrVerificationFailed = errors.New("external identity verification failed")

// Assertion es la identidad ya verificada que entrega el proveedor externo.
type Assertion struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// Verifier valida un token crudo del proveedor y devuelve la aserción confiable.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Assertion, error)
}

// StaticVerifier permite tests sin llamar al proveedor real.
type StaticVerifier struct {
	Tokens map[string]Assertion
	Err    error
}

func (s *StaticVerifier) Verify(_ context.Context, rawToken string) (Assertion, error) {
	if s.Err != nil {
		return Assertion{}, s.Err
	}
	a, ok := s.Tokens[rawToken]
	if !ok {
		return Assertion{}, ErrVerificationFailed
	}
	return a, nil
}
