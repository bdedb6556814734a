package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/models"
)

func TestNotificationProvider_BeforeCreate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.NotificationProvider{}))

	provider := models.NotificationProvider{Name: "Ops", Type: "slack", URL: "slack://token@channel"}
	require.NoError(t, db.Create(&provider).Error)
	assert.NotEmpty(t, provider.ID)
	assert.Equal(t, "high", provider.MinRisk)

	provider2 := models.NotificationProvider{Name: "Pager", MinRisk: "critical"}
	require.NoError(t, db.Create(&provider2).Error)
	assert.Equal(t, "critical", provider2.MinRisk)
}
