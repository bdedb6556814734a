package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is an external alert destination reached through
// shoutrrr (discord, slack, gotify, telegram, generic).
type NotificationProvider struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`

	// MinRisk is the lowest event risk level forwarded to this provider.
	MinRisk         string `json:"min_risk" gorm:"default:high"`
	NotifyIncidents bool   `json:"notify_incidents" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if strings.TrimSpace(n.MinRisk) == "" {
		n.MinRisk = "high"
	}
	return
}
