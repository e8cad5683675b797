package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// CreateSyncRun persists a bulk sync summary. ID is assigned when empty.
func CreateSyncRun(ctx context.Context, db *gorm.DB, run *domain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(run).Error
}

// GetSyncRun fetches a stored run, or ErrNotFound.
func GetSyncRun(ctx context.Context, db *gorm.DB, id string) (*domain.SyncRun, error) {
	var run domain.SyncRun
	if err := db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
