package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"secure-auth/internal/domain"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("duplicate email")
)

// AccountRepository define el contrato de persistencia para cuentas.
//
// Create debe ser atómico respecto a la unicidad del email normalizado y Modify
// debe ejecutar lectura-modificación-escritura sin perder actualizaciones
// concurrentes sobre la misma cuenta.
//
// Update es la escritura simple, sin lectura previa: sobrescribe la fila completa
// y solo sirve a quien ya tiene el registro entero y no compite con otros
// escritores (herramientas de importación, tests). Los cambios de AuthService
// pasan siempre por Modify.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	FindByID(ctx context.Context, id string) (domain.Account, error)
	FindByEmail(ctx context.Context, normalizedEmail string) (domain.Account, error)
	Update(ctx context.Context, account domain.Account) error
	Modify(ctx context.Context, id string, fn func(*domain.Account) error) (domain.Account, error)
}

const pgUniqueViolation = "23505"

const accountColumns = `id, email, normalized_email, display_name, password_hash, email_confirmed,
	security_stamp, failed_attempt_count, lockout_ends_at, auth_provider, auth_subject,
	created_at, updated_at`

// PgAccountRepository implementa AccountRepository usando pgxpool.
type PgAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPgAccountRepository(pool *pgxpool.Pool) *PgAccountRepository {
	return &PgAccountRepository{pool: pool}
}

func (r *PgAccountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	const query = `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	account = prepareForCreate(account)
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.Email,
		account.NormalizedEmail,
		account.DisplayName,
		account.PasswordHash,
		account.EmailConfirmed,
		account.SecurityStamp,
		account.FailedAttemptCount,
		account.LockoutEndsAt,
		account.AuthProvider,
		account.AuthSubject,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Account{}, ErrDuplicateEmail
		}
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (r *PgAccountRepository) FindByID(ctx context.Context, id string) (domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanPgAccount(r.pool.QueryRow(ctx, query, id))
}

func (r *PgAccountRepository) FindByEmail(ctx context.Context, normalizedEmail string) (domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE normalized_email = $1`
	return scanPgAccount(r.pool.QueryRow(ctx, query, normalizedEmail))
}

func (r *PgAccountRepository) Update(ctx context.Context, account domain.Account) error {
	return pgUpdate(ctx, r.pool, account)
}

// Modify bloquea la fila con SELECT ... FOR UPDATE durante fn.
func (r *PgAccountRepository) Modify(ctx context.Context, id string, fn func(*domain.Account) error) (domain.Account, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	account, err := scanPgAccount(tx.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Account{}, err
	}
	if err := fn(&account); err != nil {
		return domain.Account{}, err
	}
	account.ID = id
	account.UpdatedAt = time.Now().UTC()
	if err := pgUpdate(ctx, tx, account); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Account{}, fmt.Errorf("commit tx: %w", err)
	}
	return account, nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func pgUpdate(ctx context.Context, db pgExecer, account domain.Account) error {
	const query = `
		UPDATE accounts
		SET email = $2,
			normalized_email = $3,
			display_name = $4,
			password_hash = $5,
			email_confirmed = $6,
			security_stamp = $7,
			failed_attempt_count = $8,
			lockout_ends_at = $9,
			auth_provider = $10,
			auth_subject = $11,
			updated_at = $12
		WHERE id = $1
	`
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}
	tag, err := db.Exec(ctx, query,
		account.ID,
		account.Email,
		domain.NormalizeEmail(account.Email),
		account.DisplayName,
		account.PasswordHash,
		account.EmailConfirmed,
		account.SecurityStamp,
		account.FailedAttemptCount,
		account.LockoutEndsAt,
		account.AuthProvider,
		account.AuthSubject,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.NormalizedEmail,
		&a.DisplayName,
		&a.PasswordHash,
		&a.EmailConfirmed,
		&a.SecurityStamp,
		&a.FailedAttemptCount,
		&a.LockoutEndsAt,
		&a.AuthProvider,
		&a.AuthSubject,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

func prepareForCreate(account domain.Account) domain.Account {
	account.NormalizedEmail = domain.NormalizeEmail(account.Email)
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	return account
}
