package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"

	"secure-auth/internal/config"
	"secure-auth/internal/repository"
)

// Store agrupa el repositorio de cuentas elegido por configuración y sus recursos.
type Store struct {
	Accounts repository.AccountRepository
	// SQL es nil para el almacenamiento en memoria.
	SQL     *sql.DB
	Dialect Dialect
	closers []func()
}

// Open abre el backend configurado en ACCOUNT_STORE.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store() {
	case config.StorePostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := Ping(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		sqlDB := stdlib.OpenDBFromPool(pool)
		return &Store{
			Accounts: repository.NewPgAccountRepository(pool),
			SQL:      sqlDB,
			Dialect:  DialectPostgres,
			closers:  []func(){func() { _ = sqlDB.Close() }, pool.Close},
		}, nil
	case config.StoreSQLite:
		sqlDB, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Store{
			Accounts: repository.NewSqliteAccountRepository(sqlDB),
			SQL:      sqlDB,
			Dialect:  DialectSQLite,
			closers:  []func(){func() { _ = sqlDB.Close() }},
		}, nil
	case config.StoreMemory:
		return &Store{Accounts: repository.NewMemoryAccountRepository()}, nil
	default:
		return nil, fmt.Errorf("unknown account store %q", cfg.AccountStore)
	}
}

// Migrate aplica migraciones si el backend es SQL.
func (s *Store) Migrate(ctx context.Context) error {
	if s.SQL == nil {
		return nil
	}
	return Migrate(ctx, s.SQL, s.Dialect)
}

func (s *Store) Close() {
	for _, c := range s.closers {
		c()
	}
}
