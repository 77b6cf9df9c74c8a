package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"secure-auth/internal/domain"
)

// SqliteAccountRepository implementa AccountRepository sobre SQLite.
//
// Los timestamps se guardan en milisegundos UTC. El pool debe abrirse con una
// única conexión para que Modify serialice escrituras.
type SqliteAccountRepository struct {
	db *sql.DB
}

func NewSqliteAccountRepository(db *sql.DB) *SqliteAccountRepository {
	return &SqliteAccountRepository{db: db}
}

func (r *SqliteAccountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	const query = `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	account = prepareForCreate(account)
	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.NormalizedEmail,
		account.DisplayName,
		nullString(account.PasswordHash),
		account.EmailConfirmed,
		account.SecurityStamp,
		account.FailedAttemptCount,
		nullMillis(account.LockoutEndsAt),
		account.AuthProvider,
		account.AuthSubject,
		toMillis(account.CreatedAt),
		toMillis(account.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, ErrDuplicateEmail
		}
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (r *SqliteAccountRepository) FindByID(ctx context.Context, id string) (domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanSqliteAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *SqliteAccountRepository) FindByEmail(ctx context.Context, normalizedEmail string) (domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE normalized_email = ?`
	return scanSqliteAccount(r.db.QueryRowContext(ctx, query, normalizedEmail))
}

func (r *SqliteAccountRepository) Update(ctx context.Context, account domain.Account) error {
	return sqliteUpdate(ctx, r.db, account)
}

func (r *SqliteAccountRepository) Modify(ctx context.Context, id string, fn func(*domain.Account) error) (domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	account, err := scanSqliteAccount(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return domain.Account{}, err
	}
	if err := fn(&account); err != nil {
		return domain.Account{}, err
	}
	account.ID = id
	account.UpdatedAt = time.Now().UTC()
	if err := sqliteUpdate(ctx, tx, account); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, fmt.Errorf("commit tx: %w", err)
	}
	return account, nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteUpdate(ctx context.Context, db sqlExecer, account domain.Account) error {
	const query = `
		UPDATE accounts
		SET email = ?,
			normalized_email = ?,
			display_name = ?,
			password_hash = ?,
			email_confirmed = ?,
			security_stamp = ?,
			failed_attempt_count = ?,
			lockout_ends_at = ?,
			auth_provider = ?,
			auth_subject = ?,
			updated_at = ?
		WHERE id = ?
	`
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, query,
		account.Email,
		domain.NormalizeEmail(account.Email),
		account.DisplayName,
		nullString(account.PasswordHash),
		account.EmailConfirmed,
		account.SecurityStamp,
		account.FailedAttemptCount,
		nullMillis(account.LockoutEndsAt),
		account.AuthProvider,
		account.AuthSubject,
		toMillis(account.UpdatedAt),
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSqliteAccount(row *sql.Row) (domain.Account, error) {
	var (
		a            domain.Account
		passwordHash sql.NullString
		lockoutEnds  sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.NormalizedEmail,
		&a.DisplayName,
		&passwordHash,
		&a.EmailConfirmed,
		&a.SecurityStamp,
		&a.FailedAttemptCount,
		&lockoutEnds,
		&a.AuthProvider,
		&a.AuthSubject,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("scan account: %w", err)
	}
	if passwordHash.Valid {
		hash := passwordHash.String
		a.PasswordHash = &hash
	}
	if lockoutEnds.Valid {
		until := fromMillis(lockoutEnds.Int64)
		a.LockoutEndsAt = &until
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
