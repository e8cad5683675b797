package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// ListVersion identifies the state of a filtered order list: any insert,
// delete or update of a matching order changes it.
type ListVersion struct {
	Count        int64
	LatestUpdate time.Time // zero when Count is 0
}

// OrderListVersion computes the ListVersion of the orders matching f.
func OrderListVersion(ctx context.Context, db *gorm.DB, f OrderFilter) (ListVersion, error) {
	var v ListVersion
	if err := f.apply(db.WithContext(ctx).Model(&domain.Order{})).Count(&v.Count).Error; err != nil {
		return ListVersion{}, err
	}
	if v.Count == 0 {
		return v, nil
	}
	// MAX(updated_at) comes back as TEXT from SQLite; read the newest row.
	var latest domain.Order
	err := f.apply(db.WithContext(ctx).Model(&domain.Order{})).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Take(&latest).Error
	if err != nil {
		return ListVersion{}, err
	}
	v.LatestUpdate = latest.UpdatedAt
	return v, nil
}
