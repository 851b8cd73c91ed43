package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is one admitted holder of an access code. A row is created only
// after a successful ledger increment and ended by logout, the inactivity
// sweep, or the expiry sweep of its owning code.
type Session struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CodeID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"code_id"`
	Token        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	LastActivity time.Time  `gorm:"not null;index" json:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	IsActive     bool       `gorm:"not null;default:true;index" json:"is_active"`

	Code *AccessCode `gorm:"foreignKey:CodeID" json:"-"`
}

func (Session) TableName() string { return "sessions" }
