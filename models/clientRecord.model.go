package models

import (
	"time"

	"gorm.io/datatypes"
)

// ClientRecord is a named JSON document kept in the client-local database.
// The offline heartbeat queue is stored as a single record.
type ClientRecord struct {
	Key       string         `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}
