package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/familyfund/backend/internal/config"
	"github.com/familyfund/backend/internal/storage"
)

// OpenPostgres opens and pings the production database.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	slog.Info("database connection established", "driver", "postgres", "host", cfg.Host, "name", cfg.Name)
	return db, nil
}

// OpenSQLite opens a file database. Writers serialize on a single connection
// and every transaction takes the write lock at BEGIN, which gives balance
// updates the same exclusivity as a Postgres row lock.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", storage.SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	slog.Info("database connection established", "driver", "sqlite", "path", path)
	return db, nil
}

// OpenStore opens the configured database, runs migrations and wraps it in a
// storage.Store.
func OpenStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	var (
		db      *sql.DB
		dialect storage.Dialect
		err     error
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err = OpenSQLite(cfg.Storage.SQLitePath)
		dialect = storage.SQLite
	default:
		db, err = OpenPostgres(ctx, cfg.Database)
		dialect = storage.Postgres
	}
	if err != nil {
		return nil, err
	}

	store := storage.New(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
