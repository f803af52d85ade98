package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/database/migrations"
	"reddot-watch/newsfeed/internal/store"
)

// DB is the SQLite implementation of store.Store.
// It is opened once per process and shared by the pipeline and the API.
type DB struct {
	*sqlx.DB
}

var _ store.Store = (*DB)(nil)

// NewDB creates a new database connection with optimized settings
func NewDB(cfg *Config) (*DB, error) {
	dir := filepath.Dir(cfg.DBPath)
	if dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}

	// Connect to database with optimized settings for concurrency
	// WAL mode allows concurrent reads while writing
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		cfg.DBPath, cfg.BusyTimeoutMS)

	if cfg.ReadOnly {
		dsn += "&mode=ro"
		log.Info().Str("path", cfg.DBPath).Msg("Opening database in Read-Only mode (from config)")
	} else {
		log.Info().Str("path", cfg.DBPath).Msg("Opening database in Read-Write mode (from config)")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, store.Unavailable("open", fmt.Errorf("failed to open database: %w", err))
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Apply optimal SQLite PRAGMAs
	// Journal/Sync/Timeout set via DSN
	// Use slightly different pragmas based on mode
	var pragmas []string
	if cfg.ReadOnly {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB), // Cache good for reads
			"PRAGMA temp_store = MEMORY;",
			"PRAGMA query_only = ON;",    // Extra safety for read-only
			"PRAGMA foreign_keys = OFF;", // Not strictly needed for reads
		}
	} else {
		pragmas = []string{
			fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
			"PRAGMA temp_store = MEMORY;",
			"PRAGMA foreign_keys = ON;",
		}
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}

	if !cfg.ReadOnly {
		log.Info().Msg("Running database migrations...")
		migrationList, err := migrations.Embedded()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}

		if err := migrations.RunMigrations(db.DB, migrationList); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed successfully")
	} else {
		log.Info().Msg("Skipping migrations for read-only connection (from config).")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, store.Unavailable("connect", fmt.Errorf("failed to ping db (%s): %w", modeStr(cfg.ReadOnly), err))
	}

	log.Info().Str("mode", modeStr(cfg.ReadOnly)).Msg("Database connection successful")
	return &DB{db}, nil
}

// Helper for logging
func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return store.Unavailable("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}
