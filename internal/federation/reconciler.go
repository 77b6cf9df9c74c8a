package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secure-auth/internal/domain"
	"secure-auth/internal/repository"
)

// Reconciler asocia una aserción verificada con la cuenta local por email normalizado.
type Reconciler struct {
	logger   *zap.Logger
	accounts repository.AccountRepository
	now      func() time.Time
}

func NewReconciler(logger *zap.Logger, accounts repository.AccountRepository) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		logger:   logger,
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile devuelve la cuenta existente sin modificarla o crea una confirmada sin contraseña.
// created es true solo para quien ganó la creación.
func (r *Reconciler) Reconcile(ctx context.Context, a Assertion) (domain.Account, bool, error) {
	email := domain.NormalizeEmail(a.Email)
	if email == "" {
		return domain.Account{}, false, fmt.Errorf("%w: assertion without email", ErrVerificationFailed)
	}

	existing, err := r.accounts.FindByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Account{}, false, err
	}

	stamp, err := domain.NewSecurityStamp()
	if err != nil {
		return domain.Account{}, false, err
	}
	now := r.now()
	account := domain.Account{
		ID:             uuid.NewString(),
		Email:          strings.TrimSpace(a.Email),
		DisplayName:    displayName(a),
		EmailConfirmed: true,
		SecurityStamp:  stamp,
		AuthProvider:   strings.ToLower(strings.TrimSpace(a.Provider)),
		AuthSubject:    strings.TrimSpace(a.Subject),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := r.accounts.Create(ctx, account)
	if err == nil {
		r.logger.Info("federated account created",
			zap.String("account_id", created.ID),
			zap.String("provider", created.AuthProvider),
		)
		return created, true, nil
	}
	if !errors.Is(err, repository.ErrDuplicateEmail) {
		return domain.Account{}, false, err
	}

	winner, err := r.accounts.FindByEmail(ctx, email)
	if err != nil {
		return domain.Account{}, false, err
	}
	return winner, false, nil
}

func displayName(a Assertion) string {
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(strings.TrimSpace(a.Email), "@")
	return local
}
