package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is display metadata optionally linked to an access code.
// It plays no part in the admission invariant.
type Event struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Title     string     `gorm:"type:varchar(255);not null" json:"title"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Event) TableName() string { return "events" }
