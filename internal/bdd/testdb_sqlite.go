package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/daily-log/internal/plugin/store/sqlite"
	"github.com/chirino/daily-log/internal/testutil/cucumber"
	"gorm.io/gorm"
)

// SQLiteTestDB implements cucumber.TestDB over the server's sqlite file.
type SQLiteTestDB struct {
	db *gorm.DB
}

var _ cucumber.TestDB = (*SQLiteTestDB)(nil)

func NewSQLiteTestDB(dsn string) (*SQLiteTestDB, error) {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteTestDB{db: db}, nil
}

func (s *SQLiteTestDB) ClearAll(ctx context.Context) error {
	for _, table := range tables {
		if err := s.db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteTestDB) Count(ctx context.Context, table string) (int64, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteTestDB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
