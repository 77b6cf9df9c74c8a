package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"secure-auth/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestIssuer(t *testing.T, opts ...Option) (*Issuer, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	iss, err := NewIssuer(DeriveSecret("0123456789abcdef0123456789abcdef"), "secure-auth", 24*time.Hour, time.Hour, opts...)
	require.NoError(t, err)
	return iss, clk
}

func testAccount() domain.Account {
	return domain.Account{ID: "acc-1", Email: "alice@example.com", SecurityStamp: "stamp-1"}
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss, _ := newTestIssuer(t)
	acc := testAccount()
	ctx := context.Background()

	raw, err := iss.Issue(acc, EmailConfirm)
	require.NoError(t, err)
	require.NoError(t, iss.Validate(ctx, raw, EmailConfirm, acc))
}

func TestIssuer_PurposeIsolation(t *testing.T) {
	iss, _ := newTestIssuer(t)
	acc := testAccount()
	ctx := context.Background()

	confirm, err := iss.Issue(acc, EmailConfirm)
	require.NoError(t, err)
	reset, err := iss.Issue(acc, PasswordReset)
	require.NoError(t, err)

	require.ErrorIs(t, iss.Validate(ctx, confirm, PasswordReset, acc), ErrPurposeMismatch)
	require.ErrorIs(t, iss.Validate(ctx, reset, EmailConfirm, acc), ErrPurposeMismatch)
}

func TestIssuer_StampRotationInvalidates(t *testing.T) {
	iss, _ := newTestIssuer(t)
	acc := testAccount()

	raw, err := iss.Issue(acc, PasswordReset)
	require.NoError(t, err)

	acc.SecurityStamp = "stamp-2"
	err = iss.Validate(context.Background(), raw, PasswordReset, acc)
	require.ErrorIs(t, err, ErrStampMismatch)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestIssuer_Expiry(t *testing.T) {
	iss, clk := newTestIssuer(t)
	acc := testAccount()

	raw, err := iss.Issue(acc, PasswordReset)
	require.NoError(t, err)

	clk.advance(59 * time.Minute)
	require.NoError(t, iss.Validate(context.Background(), raw, PasswordReset, acc))

	clk.advance(2 * time.Minute)
	require.ErrorIs(t, iss.Validate(context.Background(), raw, PasswordReset, acc), ErrExpired)
}

func TestIssuer_RejectsOtherAccountAndTampering(t *testing.T) {
	iss, _ := newTestIssuer(t)
	acc := testAccount()
	ctx := context.Background()

	raw, err := iss.Issue(acc, EmailConfirm)
	require.NoError(t, err)

	other := acc
	other.ID = "acc-2"
	require.ErrorIs(t, iss.Validate(ctx, raw, EmailConfirm, other), ErrSubjectMismatch)

	tampered := []byte(raw)
	tampered[len(tampered)-3] ^= 0x01
	require.ErrorIs(t, iss.Validate(ctx, string(tampered), EmailConfirm, acc), ErrInvalid)

	require.ErrorIs(t, iss.Validate(ctx, "", EmailConfirm, acc), ErrMalformed)
	require.ErrorIs(t, iss.Validate(ctx, "not-a-token", EmailConfirm, acc), ErrInvalid)
}

func TestIssuer_RejectsTokenSignedWithOtherKey(t *testing.T) {
	iss, _ := newTestIssuer(t)
	other, err := NewIssuer([]byte("another-secret-another-secret-xx"), "secure-auth", time.Hour, time.Hour)
	require.NoError(t, err)
	acc := testAccount()

	raw, err := other.Issue(acc, EmailConfirm)
	require.NoError(t, err)
	require.ErrorIs(t, iss.Validate(context.Background(), raw, EmailConfirm, acc), ErrInvalid)
}

func TestIssuer_ConsumeIsSingleUse(t *testing.T) {
	iss, _ := newTestIssuer(t)
	acc := testAccount()
	ctx := context.Background()

	raw, err := iss.Issue(acc, EmailConfirm)
	require.NoError(t, err)
	require.NoError(t, iss.Consume(ctx, raw))

	require.ErrorIs(t, iss.Validate(ctx, raw, EmailConfirm, acc), ErrAlreadyConsumed)
	require.ErrorIs(t, iss.Consume(ctx, raw), ErrAlreadyConsumed)

	fresh, err := iss.Issue(acc, EmailConfirm)
	require.NoError(t, err)
	require.NoError(t, iss.Validate(ctx, fresh, EmailConfirm, acc))
}

func TestDeriveSecret_DiffersFromInput(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	derived := DeriveSecret(secret)
	require.Len(t, derived, 32)
	require.NotEqual(t, []byte(secret), derived)
	require.Equal(t, derived, DeriveSecret(secret))
}

func TestRedisLedger_WithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	iss, _ := newTestIssuer(t, WithLedger(NewRedisLedger(client)))
	acc := testAccount()
	ctx := context.Background()

	raw, err := iss.Issue(acc, PasswordReset)
	require.NoError(t, err)
	require.NoError(t, iss.Consume(ctx, raw))
	require.ErrorIs(t, iss.Validate(ctx, raw, PasswordReset, acc), ErrAlreadyConsumed)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.True(t, mr.TTL(keys[0]) > 0)

	mr.FastForward(2 * time.Hour)
	seen, err := NewRedisLedger(client).Seen(ctx, "missing")
	require.NoError(t, err)
	require.False(t, seen)
}

type failingLedger struct{}

func (failingLedger) Mark(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("down")
}
func (failingLedger) Seen(context.Context, string) (bool, error) { return false, errors.New("down") }

func TestIssuer_LedgerFailureIsNotTreatedAsValid(t *testing.T) {
	iss, _ := newTestIssuer(t, WithLedger(failingLedger{}))
	acc := testAccount()
	raw, err := iss.Issue(acc, EmailConfirm)
	require.NoError(t, err)

	err = iss.Validate(context.Background(), raw, EmailConfirm, acc)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalid)
}
