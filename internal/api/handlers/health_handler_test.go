package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Wikid82/gearshare/backend/internal/version"
)

func TestHealthHandler(t *testing.T) {
	env := setupTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, version.Name, resp["service"])
	assert.NotEmpty(t, resp["version"])
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	env := setupTestEnv(t)
	sqlDB, err := env.db.DB()
	assert.NoError(t, err)
	sqlDB.Close()

	w := env.request(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}
