// Package token emite tokens firmados de un solo propósito (confirmación de email, reseteo).
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"secure-auth/internal/domain"
)

// Purpose acota el uso de un token a una sola operación.
type Purpose string

const (
	EmailConfirm  Purpose = "email_confirm"
	PasswordReset Purpose = "password_reset"
)

var (
	ErrInvalid = errors.New("token invalid")

	ErrMalformed        = fmt.Errorf("%w: malformed", ErrInvalid)
	ErrPurposeMismatch  = fmt.Errorf("%w: purpose mismatch", ErrInvalid)
	ErrExpired          = fmt.Errorf("%w: expired", ErrInvalid)
	ErrStampMismatch    = fmt.Errorf("%w: security stamp changed", ErrInvalid)
	ErrSubjectMismatch  = fmt.Errorf("%w: subject mismatch", ErrInvalid)
	ErrAlreadyConsumed  = fmt.Errorf("%w: already used", ErrInvalid)
	errUnknownPurpose   = errors.New("unknown token purpose")
	errEmptySecurityKey = errors.New("purpose token secret is empty")
)

const derivationLabel = "secure-auth/purpose-token/v1"

// DeriveSecret obtiene la clave de propósito a partir del secreto de sesión cuando no se configura una propia.
func DeriveSecret(sessionSecret string) []byte {
	mac := hmac.New(sha256.New, []byte(sessionSecret))
	mac.Write([]byte(derivationLabel))
	return mac.Sum(nil)
}

type claims struct {
	Purpose Purpose `json:"pur"`
	Stamp   string  `json:"sst"`
	jwt.RegisteredClaims
}

// Issuer firma y valida tokens de propósito atados al security stamp de la cuenta.
type Issuer struct {
	secret []byte
	issuer string
	ttls   map[Purpose]time.Duration
	ledger Ledger
	now    func() time.Time
}

type Option func(*Issuer)

// WithClock reemplaza el reloj; usado en tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func WithLedger(l Ledger) Option {
	return func(i *Issuer) {
		if l != nil {
			i.ledger = l
		}
	}
}

func NewIssuer(secret []byte, issuer string, confirmTTL, resetTTL time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errEmptySecurityKey
	}
	if confirmTTL <= 0 {
		confirmTTL = 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	i := &Issuer{
		secret: secret,
		issuer: issuer,
		ttls: map[Purpose]time.Duration{
			EmailConfirm:  confirmTTL,
			PasswordReset: resetTTL,
		},
		ledger: NewMemoryLedger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Issuer) TTL(p Purpose) time.Duration {
	return i.ttls[p]
}

func (i *Issuer) Issue(account domain.Account, purpose Purpose) (string, error) {
	ttl, ok := i.ttls[purpose]
	if !ok {
		return "", errUnknownPurpose
	}
	now := i.now()
	c := claims{
		Purpose: purpose,
		Stamp:   fingerprint(account.SecurityStamp),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

// Validate comprueba firma, propósito, vigencia, sujeto, stamp actual y que no haya sido consumido.
func (i *Issuer) Validate(ctx context.Context, raw string, expected Purpose, account domain.Account) error {
	c, err := i.parse(raw, false)
	if err != nil {
		return err
	}
	if c.Purpose != expected {
		return ErrPurposeMismatch
	}
	if c.Subject != account.ID {
		return ErrSubjectMismatch
	}
	if subtle.ConstantTimeCompare([]byte(c.Stamp), []byte(fingerprint(account.SecurityStamp))) != 1 {
		return ErrStampMismatch
	}
	seen, err := i.ledger.Seen(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("token ledger: %w", err)
	}
	if seen {
		return ErrAlreadyConsumed
	}
	return nil
}

// Consume marca el token como usado hasta su expiración.
func (i *Issuer) Consume(ctx context.Context, raw string) error {
	c, err := i.parse(raw, true)
	if err != nil {
		return err
	}
	ttl := c.ExpiresAt.Time.Sub(i.now())
	if ttl <= 0 {
		return nil
	}
	first, err := i.ledger.Mark(ctx, c.ID, ttl)
	if err != nil {
		return fmt.Errorf("token ledger: %w", err)
	}
	if !first {
		return ErrAlreadyConsumed
	}
	return nil
}

func (i *Issuer) parse(raw string, allowExpired bool) (claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return claims{}, ErrMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	var c claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims{}, ErrExpired
		}
		return claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.ID == "" || c.Subject == "" || c.ExpiresAt == nil {
		return claims{}, ErrMalformed
	}
	return c, nil
}

// fingerprint evita exponer el stamp dentro del token.
func fingerprint(stamp string) string {
	sum := sha256.Sum256([]byte(stamp))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
