// Package migrate applies the embedded SQL schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the schema files rooted at the migration directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

type Migrator struct {
	db       *sql.DB
	provider *goose.Provider
	logger   *zap.Logger
}

// New opens a database/sql handle on top of pool for goose. Close releases
// the handle but leaves the pool open.
func New(pool *pgxpool.Pool, logger *zap.Logger) (*Migrator, error) {
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	return &Migrator{db: db, provider: provider, logger: logger.Named("migrate")}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		m.logger.Info("applied", zap.String("migration", r.Source.Path), zap.Duration("took", r.Duration))
	}
	if len(results) == 0 {
		m.logger.Info("schema is up to date")
	}
	return nil
}

// Down rolls back the latest migration only.
func (m *Migrator) Down(ctx context.Context) error {
	r, err := m.provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	m.logger.Info("rolled back", zap.String("migration", r.Source.Path))
	return nil
}

func (m *Migrator) Status(ctx context.Context) error {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, s := range statuses {
		fields := []zap.Field{
			zap.Int64("version", s.Source.Version),
			zap.String("migration", s.Source.Path),
			zap.String("state", string(s.State)),
		}
		if !s.AppliedAt.IsZero() {
			fields = append(fields, zap.Time("applied_at", s.AppliedAt))
		}
		m.logger.Info("migration", fields...)
	}
	return nil
}

func (m *Migrator) Close() error {
	return m.db.Close()
}
