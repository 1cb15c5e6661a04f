package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/daily-log/internal/config"
	"github.com/chirino/daily-log/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/daily-log/internal/registry/migrate"
	registrystore "github.com/chirino/daily-log/internal/registry/store"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DriverName is the sqlite3 driver with unicode_lower registered on every
// connection. SQLite's own LOWER only folds ASCII.
const DriverName = "sqlite3_dailylog"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("unicode_lower", strings.ToLower, true)
		},
	})

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg.DBURL)
			if err != nil {
				return nil, err
			}
			// In-memory databases live only as long as this connection, so the
			// schema is created here rather than by the migrate command.
			if cfg.DatastoreMigrateAtStart {
				if err := sqlstore.Migrate(db); err != nil {
					return nil, err
				}
			}
			return sqlstore.New(db, sqlstore.SQLite), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// Open connects to a sqlite database. SQLite serializes writers, so the pool
// is pinned to a single connection.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "file:daily-log.db?_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: DriverName, DSN: dsn}), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := Open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := sqlstore.Migrate(db.WithContext(ctx)); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
