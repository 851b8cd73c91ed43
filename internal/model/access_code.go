package model

import (
	"time"

	"github.com/google/uuid"
)

type CodeType string

const (
	CodeTypeIndividual CodeType = "individual"
	CodeTypeCenter     CodeType = "center"
	CodeTypeBulk       CodeType = "bulk"
)

// AccessCode is the capacity ledger row for one credential.
// UsageCount tracks concurrently admitted holders, not historical uses;
// it is mutated only through the CapacityLedger atomic operations.
type AccessCode struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Code          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Type          CodeType   `gorm:"type:varchar(16);not null;default:'individual'" json:"type"`
	UsageCount    int        `gorm:"not null;default:0" json:"usage_count"`
	MaxUsageCount int        `gorm:"not null;default:1" json:"max_usage_count"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	EventID       *uuid.UUID `gorm:"type:uuid" json:"event_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Event *Event `gorm:"foreignKey:EventID" json:"event,omitempty"`
}

func (AccessCode) TableName() string { return "access_codes" }

// IsExpired reports whether the code's expiry, if set, has passed.
func (c *AccessCode) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}
