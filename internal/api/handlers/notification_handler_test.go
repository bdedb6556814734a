package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/models"
)

func TestNotificationHandler(t *testing.T) {
	env := setupTestEnv(t)
	user := env.register(t, "admin@example.com")

	first, err := env.notify.Create(models.NotificationTypeWarning, user.UserID, "Risk", "high risk event")
	require.NoError(t, err)
	_, err = env.notify.Create(models.NotificationTypeInfo, user.UserID, "Info", "all good")
	require.NoError(t, err)

	w := env.request(t, http.MethodGet, "/api/v1/notifications", user.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "high risk event")

	w = env.request(t, http.MethodPost, "/api/v1/notifications/"+first.ID+"/read", user.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	unread, err := env.notify.List(true)
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	w = env.request(t, http.MethodPost, "/api/v1/notifications/read-all", user.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	unread, err = env.notify.List(true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
