package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	cfgpkg "github.com/fatflowers/subledger/pkg/config"
	gormzap "github.com/fatflowers/subledger/pkg/gormlog"
)

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	level := gormlogger.Warn
	if cfg.Env == cfgpkg.EnvDev {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormzap.New(l, gormzap.WithLevel(level)),
		// every ledger write goes through an explicit transaction
		SkipDefaultTransaction: true,
	})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	ConfigurePool(sqlDB, cfg.Database)
	l.Infow("connected to postgres via DSN",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)
	return db, nil
}

// ConfigurePool sizes the pool for bursty webhook delivery. When the pool is
// exhausted callers block until their context deadline, which surfaces as a
// retryable error.
func ConfigurePool(sqlDB *sql.DB, c cfgpkg.DBConfig) {
	if c.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(runMigrations),
	fx.Invoke(registerDBClose),
)

// runMigrations applies pending goose migrations on startup when enabled.
func runMigrations(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config, gdb *gorm.DB) {
	if !cfg.Database.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return fmt.Errorf("failed to get sql.DB: %w", err)
			}
			if err := NewMigrator(sqlDB).Up(ctx); err != nil {
				l.Errorf("migrate failed: %v", err)
				return err
			}
			l.Infow("migrate completed")
			return nil
		},
	})
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
