package sqlstore

import (
	"fmt"

	"github.com/chirino/daily-log/internal/model"
	"gorm.io/gorm"
)

// Migrate creates the entity tables from the model definitions. The postgres
// plugin ships hand written DDL instead; this path serves sqlite.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Post{}, &model.Tag{}, &model.Follow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// At most one draft per author.
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_one_draft ON posts (author) WHERE status = 'draft'").Error; err != nil {
		return fmt.Errorf("create draft index: %w", err)
	}
	return nil
}
