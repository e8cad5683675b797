// Package domain defines the persistence models and value types shared by
// the upstream integration core: orders and their upstream status projection,
// partner sessions, cart line items, and reconciliation output. The GORM
// mapped types form the data layer; the rest are plain values.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Coarse order statuses. PENDING is set at placement; the others are derived
// from the upstream status by the synchronizer only.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusCreated   = "CREATED"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusFailed    = "FAILED"
)

// Upstream status values with special meaning. Anything else reported by the
// partner is treated as an in-progress state.
const (
	UpstreamStatusDone   = "DONE"
	UpstreamStatusFailed = "FAILED"
)

// PackageInfo is the booked test/profile as priced at checkout.
type PackageInfo struct {
	Code  string          `json:"code"`
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Price decimal.Decimal `json:"price"`
}

// Beneficiary is a person a sample is collected from.
type Beneficiary struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// ContactInfo is where the collection happens and who to call.
type ContactInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
}

// Appointment is the requested collection slot.
type Appointment struct {
	Date string `json:"date"`
	Slot string `json:"slot"`
}

// StatusChange is one entry of the append-only upstream status history.
type StatusChange struct {
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
	Source         string    `json:"source"`
}

// UpstreamStatus is the embedded projection of the partner's view of an
// order.
//
// Fields:
//   - ReferenceNumber: partner order number; empty until booked upstream.
//   - Status: current upstream status (projection of StatusHistory).
//   - StatusHistory: append-only list of changes.
//   - LastSyncedAt: last time a sync attempt completed (success or not).
//   - Error / RetryCount: last sync failure message and consecutive failures.
//   - RawResponse: last raw order-summary payload, kept for audit.
//   - ReportURLs: report artifact URLs keyed by beneficiary.
type UpstreamStatus struct {
	ReferenceNumber string            `json:"reference_number" gorm:"type:varchar(64);index"`
	Status          string            `json:"status"           gorm:"type:varchar(64)"`
	StatusHistory   []StatusChange    `json:"status_history"   gorm:"serializer:json"`
	LastSyncedAt    *time.Time        `json:"last_synced_at,omitempty"`
	Error           string            `json:"error,omitempty"  gorm:"type:text"`
	RetryCount      int               `json:"retry_count"      gorm:"not null;default:0"`
	RawResponse     string            `json:"-"                gorm:"type:text"`
	ReportURLs      map[string]string `json:"report_urls,omitempty" gorm:"serializer:json"`
}

// Order is a booked lab-test order.
type Order struct {
	ID            string          `json:"id"            gorm:"type:char(36);primaryKey"`
	CustomerID    string          `json:"customer_id"   gorm:"type:varchar(64);not null;index"`
	Package       PackageInfo     `json:"package"       gorm:"serializer:json"`
	Beneficiaries []Beneficiary   `json:"beneficiaries" gorm:"serializer:json"`
	ContactInfo   ContactInfo     `json:"contact_info"  gorm:"serializer:json"`
	Appointment   Appointment     `json:"appointment"   gorm:"serializer:json"`
	Items         []CartLineItem  `json:"items"         gorm:"serializer:json"`
	TotalAmount   decimal.Decimal `json:"total_amount"  gorm:"type:decimal(12,2);not null;default:0"`
	Status        string          `json:"status"        gorm:"type:varchar(16);not null;default:'PENDING';index"`
	Upstream      UpstreamStatus  `json:"upstream"      gorm:"embedded;embeddedPrefix:upstream_"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `json:"-"             gorm:"index"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// ParentStatusFor maps an upstream status onto the coarse order status.
// The second return value is false when the upstream value is an initial
// (or empty) state that must not move the order.
func ParentStatusFor(upstream string) (string, bool) {
	switch upstream {
	case "":
		return "", false
	case UpstreamStatusDone:
		return OrderStatusCompleted, true
	case UpstreamStatusFailed:
		return OrderStatusFailed, true
	case OrderStatusPending:
		return "", false
	default:
		return OrderStatusCreated, true
	}
}

// IsTerminalUpstream reports whether no further upstream transitions are
// expected for the status.
func IsTerminalUpstream(status string) bool {
	return status == UpstreamStatusDone || status == UpstreamStatusFailed
}
