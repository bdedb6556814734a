package models

import (
	"strconv"
	"time"
)

// SecurityEvent is the backend copy of a guard event. Rows for one user form
// a hash chain: PrevDigest is the Digest of that user's previous row.
type SecurityEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex"`
	UserUUID   string    `json:"user_id" gorm:"index"`
	EventType  string    `json:"event_type" gorm:"index"`
	Details    string    `json:"details" gorm:"type:text"`
	RiskLevel  string    `json:"risk_level"`
	PrevDigest string    `json:"prev_hash"`
	Digest     string    `json:"hash"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// ChainFields returns the hashed fields in a fixed order.
func (e SecurityEvent) ChainFields() []string {
	return []string{
		e.UUID,
		e.UserUUID,
		e.EventType,
		e.Details,
		e.RiskLevel,
		strconv.FormatInt(e.CreatedAt.UTC().UnixNano(), 10),
	}
}

func (e SecurityEvent) PrevHash() string { return e.PrevDigest }
func (e SecurityEvent) Hash() string     { return e.Digest }
