package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	// registers the "pgx" database/sql driver used by OpenSQL
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded SQL migrations with goose.
type Migrator struct {
	db *sql.DB
}

func NewMigrator(db *sql.DB) *Migrator {
	goose.SetBaseFS(migrationsFS)
	return &Migrator{db: db}
}

// OpenSQL opens a plain database/sql handle over pgx, for tooling that does
// not need gorm.
func OpenSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (m *Migrator) dialect() error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

func (m *Migrator) Up(ctx context.Context) error {
	if err := m.dialect(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.dialect(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

func (m *Migrator) Status(ctx context.Context) error {
	if err := m.dialect(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, m.db, migrationsDir)
}

func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := m.dialect(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, m.db)
}
