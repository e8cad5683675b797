package domain

import "time"

// Credential is the partner-issued API credential. It is valid until the
// partner's daily invalidation boundary (ExpiresAt), not for a sliding TTL.
// Values are immutable once issued; refreshing produces a new Credential.
type Credential struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"-"`
	APIKey    string    `json:"-"`
	RespID    string    `json:"resp_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsZero reports whether c carries no token.
func (c Credential) IsZero() bool { return c.Token == "" && c.APIKey == "" }

// UpstreamSession records one issued Credential for a principal. At most one
// row per principal has IsActive=true; a new credential supersedes the old
// rows instead of mutating them.
type UpstreamSession struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	Principal    string     `json:"principal"     gorm:"type:varchar(64);not null;index:idx_session_principal_active,priority:1"`
	IsActive     bool       `json:"is_active"     gorm:"not null;default:false;index:idx_session_principal_active,priority:2"`
	AccessToken  string     `json:"-"             gorm:"type:text;not null"`
	APIKey       string     `json:"-"             gorm:"type:text"`
	RespID       string     `json:"resp_id"       gorm:"type:varchar(128)"`
	ClientIP     string     `json:"client_ip"     gorm:"type:varchar(64)"`
	UserAgent    string     `json:"user_agent"    gorm:"type:varchar(255)"`
	IssuedAt     time.Time  `json:"issued_at"     gorm:"not null"`
	ExpiresAt    time.Time  `json:"expires_at"    gorm:"not null;index"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RequestCount int64      `json:"request_count" gorm:"not null;default:0"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UpstreamSession.
func (UpstreamSession) TableName() string { return "upstream_sessions" }

// Credential returns the credential carried by the session row.
func (s UpstreamSession) Credential() Credential {
	return Credential{
		SessionID: s.ID,
		Token:     s.AccessToken,
		APIKey:    s.APIKey,
		RespID:    s.RespID,
		IssuedAt:  s.IssuedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
