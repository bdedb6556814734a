package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/api/handlers"
	"github.com/Wikid82/gearshare/backend/internal/api/middleware"
	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/database"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/services"
)

// Register wires up API routes and performs automatic migrations. The
// Prometheus endpoint is mounted only when a gatherer is supplied.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, gatherer prometheus.Gatherer) error {
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(cfg.Debug),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{IsDevelopment: cfg.Environment == "development"}),
	)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	notificationService := services.NewNotificationService(db, cfg.AlertURLs...)
	authService := services.NewAuthService(db, cfg)
	roleService := services.NewRoleService(db)
	eventService := services.NewSecurityEventService(db, notificationService)
	paymentService := services.NewPaymentService(db, cfg.Security.MaxPaymentAmount, cfg.CheckoutURL)

	authHandler := handlers.NewAuthHandler(authService)
	rpcHandler := handlers.NewRPCHandler(roleService, eventService, paymentService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	api := router.Group("/api/v1")
	api.GET("/health", handlers.HealthHandler(db))
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(authService), middleware.RequireCSRFHeader())
	{
		protected.GET("/auth/session", authHandler.Session)
		protected.POST("/auth/logout", authHandler.Logout)

		protected.POST("/rpc/get_user_roles", rpcHandler.GetUserRoles)
		protected.POST("/rpc/admin", rpcHandler.Admin)
		protected.POST("/rpc/log_security_event", rpcHandler.LogSecurityEvent)
		protected.POST("/rpc/log_payment_action", rpcHandler.LogPaymentAction)
		protected.POST("/rpc/validate_payment_operation", rpcHandler.ValidatePaymentOperation)
		protected.POST("/rpc/create_checkout_session", rpcHandler.CreateCheckoutSession)
		protected.GET("/rpc/security_audit_status", rpcHandler.SecurityAuditStatus)

		protected.GET("/security/events", rpcHandler.RecentEvents)
		protected.GET("/payments/actions", rpcHandler.PaymentActions)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireAdmin(roleService))
	{
		admin.GET("/audits", rpcHandler.AdminAudits)
		admin.GET("/notifications", notificationHandler.List)
		admin.POST("/notifications/:id/read", notificationHandler.MarkAsRead)
		admin.POST("/notifications/read-all", notificationHandler.MarkAllAsRead)
	}

	logger.Log().WithField("routes", len(router.Routes())).Info("api routes registered")
	return nil
}
