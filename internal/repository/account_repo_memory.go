package repository

import (
	"context"
	"sync"
	"time"

	"secure-auth/internal/domain"
)

// MemoryAccountRepository guarda cuentas en memoria; pensado para desarrollo y tests.
type MemoryAccountRepository struct {
	mu      sync.Mutex
	byID    map[string]domain.Account
	byEmail map[string]string
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]domain.Account),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryAccountRepository) Create(_ context.Context, account domain.Account) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account = prepareForCreate(account)
	if _, ok := r.byEmail[account.NormalizedEmail]; ok {
		return domain.Account{}, ErrDuplicateEmail
	}
	r.byID[account.ID] = cloneAccount(account)
	r.byEmail[account.NormalizedEmail] = account.ID
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) FindByID(_ context.Context, id string) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.byID[id]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) FindByEmail(_ context.Context, normalizedEmail string) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[normalizedEmail]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryAccountRepository) Update(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}
	return r.storeLocked(account)
}

func (r *MemoryAccountRepository) Modify(_ context.Context, id string, fn func(*domain.Account) error) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[id]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	account := cloneAccount(current)
	if err := fn(&account); err != nil {
		return domain.Account{}, err
	}
	account.ID = id
	account.UpdatedAt = time.Now().UTC()
	if err := r.storeLocked(account); err != nil {
		return domain.Account{}, err
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) storeLocked(account domain.Account) error {
	current, ok := r.byID[account.ID]
	if !ok {
		return ErrNotFound
	}
	account.NormalizedEmail = domain.NormalizeEmail(account.Email)
	if account.NormalizedEmail != current.NormalizedEmail {
		if _, taken := r.byEmail[account.NormalizedEmail]; taken {
			return ErrDuplicateEmail
		}
		delete(r.byEmail, current.NormalizedEmail)
		r.byEmail[account.NormalizedEmail] = account.ID
	}
	account.CreatedAt = current.CreatedAt
	r.byID[account.ID] = cloneAccount(account)
	return nil
}

// Len devuelve la cantidad de cuentas almacenadas.
func (r *MemoryAccountRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func cloneAccount(a domain.Account) domain.Account {
	if a.PasswordHash != nil {
		hash := *a.PasswordHash
		a.PasswordHash = &hash
	}
	if a.LockoutEndsAt != nil {
		until := *a.LockoutEndsAt
		a.LockoutEndsAt = &until
	}
	return a
}
