package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/api/middleware"
	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/database"
	"github.com/Wikid82/gearshare/backend/internal/services"
)

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	auth   *services.AuthService
	notify *services.NotificationService
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		db:     db,
		auth:   services.NewAuthService(db, config.Config{JWTSecret: "handler-secret"}),
		notify: services.NewNotificationService(db),
	}
	events := services.NewSecurityEventService(db, env.notify)
	rpc := NewRPCHandler(services.NewRoleService(db), events, services.NewPaymentService(db, 5_000_000, "https://pay.example.com"))
	authHandler := NewAuthHandler(env.auth)
	notifications := NewNotificationHandler(env.notify)

	r := gin.New()
	api := r.Group("/api/v1")
	api.GET("/health", HealthHandler(db))
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(env.auth))
	protected.GET("/auth/session", authHandler.Session)
	protected.POST("/auth/logout", authHandler.Logout)
	protected.POST("/rpc/get_user_roles", rpc.GetUserRoles)
	protected.POST("/rpc/admin", rpc.Admin)
	protected.POST("/rpc/log_security_event", rpc.LogSecurityEvent)
	protected.POST("/rpc/log_payment_action", rpc.LogPaymentAction)
	protected.POST("/rpc/validate_payment_operation", rpc.ValidatePaymentOperation)
	protected.POST("/rpc/create_checkout_session", rpc.CreateCheckoutSession)
	protected.GET("/rpc/security_audit_status", rpc.SecurityAuditStatus)
	protected.GET("/notifications", notifications.List)
	protected.POST("/notifications/:id/read", notifications.MarkAsRead)
	protected.POST("/notifications/read-all", notifications.MarkAllAsRead)
	env.router = r
	return env
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// register creates an account through the API and returns its session.
func (e *testEnv) register(t *testing.T, email string) services.Session {
	t.Helper()
	w := e.request(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": email, "password": "correct-horse", "name": "Test User",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sess services.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	return sess
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
