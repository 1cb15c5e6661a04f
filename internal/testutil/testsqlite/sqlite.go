package testsqlite

import (
	"fmt"
	"testing"

	"github.com/chirino/daily-log/internal/plugin/store/sqlite"
	"github.com/chirino/daily-log/internal/plugin/store/sqlstore"
	"github.com/google/uuid"
)

// NewStore returns a migrated store over a private in-memory sqlite database.
func NewStore(tb testing.TB) *sqlstore.Store {
	tb.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := sqlite.Open(dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := sqlstore.Migrate(db); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	store := sqlstore.New(db, sqlstore.SQLite)
	tb.Cleanup(func() {
		if err := store.Close(); err != nil {
			tb.Errorf("close sqlite: %v", err)
		}
	})
	return store
}
