package domain

import "time"

// SyncItemResult is the outcome of syncing one order.
type SyncItemResult struct {
	OrderID        string `json:"order_id"`
	Success        bool   `json:"success"`
	Skipped        bool   `json:"skipped,omitempty"`
	Changed        bool   `json:"changed"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
}

// SyncRun is the persisted summary of one bulk sync, kept so an
// idempotent retry of the admin action can be answered without re-syncing.
type SyncRun struct {
	ID         string           `json:"id"          gorm:"type:char(36);primaryKey"`
	Principal  string           `json:"principal"   gorm:"type:varchar(64);not null;index"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Changed    int              `json:"changed"`
	Skipped    int              `json:"skipped"`
	Results    []SyncItemResult `json:"results"     gorm:"serializer:json"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TableName returns the database table name for SyncRun.
func (SyncRun) TableName() string { return "sync_runs" }
