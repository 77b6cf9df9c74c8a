package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"secure-auth/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testAccount() domain.Account {
	return domain.Account{ID: "acc-1", Email: "alice@example.com"}
}

func TestIssuer_IssueAndParse(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	iss := NewIssuer(testSecret, "secure-auth", "secure-auth-clients", 60*time.Minute).
		WithClock(func() time.Time { return fixed })

	tok, err := iss.Issue(testAccount())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Value == "" || tok.ID == "" {
		t.Fatalf("expected token value and id")
	}
	if !tok.ExpiresAt.Equal(fixed.Add(60 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", tok.ExpiresAt)
	}

	claims, err := iss.Parse(tok.Value)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AccountID != "acc-1" || claims.Email != "alice@example.com" || claims.Subject != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "secure-auth" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "secure-auth-clients" {
		t.Fatalf("unexpected audience %v", claims.Audience)
	}
	if claims.ID != tok.ID {
		t.Fatalf("jti mismatch")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 60*time.Minute {
		t.Fatalf("expected exp = iat + 60m, got %v", got)
	}
}

func TestIssuer_PayloadUsesWireNames(t *testing.T) {
	iss := NewIssuer(testSecret, "secure-auth", "clients", time.Minute)
	tok, err := iss.Issue(testAccount())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(tok.Value, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact jwt, got %d parts", len(parts))
	}
	header, _ := base64.RawURLEncoding.DecodeString(parts[0])
	if !strings.Contains(string(header), `"alg":"HS256"`) {
		t.Fatalf("expected HS256 header, got %s", header)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for _, key := range []string{"sub", "jti", "accountId", "email", "iss", "aud", "iat", "exp"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing claim %q in %s", key, payload)
		}
	}
}

func TestIssuer_UniqueJTI(t *testing.T) {
	iss := NewIssuer(testSecret, "secure-auth", "clients", time.Minute)
	a, _ := iss.Issue(testAccount())
	b, _ := iss.Issue(testAccount())
	if a.ID == b.ID {
		t.Fatalf("expected a fresh jti per issuance")
	}
}

func TestIssuer_TamperedPayloadFails(t *testing.T) {
	iss := NewIssuer(testSecret, "secure-auth", "clients", time.Minute)
	tok, err := iss.Issue(testAccount())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(tok.Value, ".")
	payload := []byte(parts[1])
	if payload[5] == 'A' {
		payload[5] = 'B'
	} else {
		payload[5] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := iss.Parse(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestIssuer_RejectsWrongAudienceIssuerAndExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	iss := NewIssuer(testSecret, "secure-auth", "clients", time.Minute).WithClock(func() time.Time { return now })
	tok, err := iss.Issue(testAccount())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	otherAud := NewIssuer(testSecret, "secure-auth", "other", time.Minute).WithClock(func() time.Time { return now })
	if _, err := otherAud.Parse(tok.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
	otherIss := NewIssuer(testSecret, "someone-else", "clients", time.Minute).WithClock(func() time.Time { return now })
	if _, err := otherIss.Parse(tok.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
	otherKey := NewIssuer("ffffffffffffffffffffffffffffffff", "secure-auth", "clients", time.Minute).WithClock(func() time.Time { return now })
	if _, err := otherKey.Parse(tok.Value); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected signature mismatch to fail, got %v", err)
	}

	later := iss.WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := later.Parse(tok.Value); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
