package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect identifica el juego de migraciones a aplicar.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func (d Dialect) dir() string {
	if d == DialectSQLite {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}

// gooseUpContext es un seam para tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func setup(dialect Dialect) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return nil
}

// Migrate aplica las migraciones embebidas pendientes.
func Migrate(ctx context.Context, sqlDB *sql.DB, dialect Dialect) error {
	if err := setup(dialect); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, sqlDB, dialect.dir()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Version devuelve la versión de esquema aplicada.
func Version(ctx context.Context, sqlDB *sql.DB, dialect Dialect) (int64, error) {
	if err := setup(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, sqlDB)
}

// Status imprime el estado de cada migración mediante el logger de goose.
func Status(ctx context.Context, sqlDB *sql.DB, dialect Dialect) error {
	if err := setup(dialect); err != nil {
		return err
	}
	return goose.StatusContext(ctx, sqlDB, dialect.dir())
}
