package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Wikid82/gearshare/backend/internal/api/middleware"
	"github.com/Wikid82/gearshare/backend/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.authService.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrAccountLocked):
		c.JSON(http.StatusLocked, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrInvalidCredentials.Error()})
		return
	}

	c.JSON(http.StatusOK, sess)
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	sess, err := h.authService.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// Session describes the caller's session. Suspended or disabled accounts
// lose their session immediately.
func (h *AuthHandler) Session(c *gin.Context) {
	claims := currentClaims(c)
	user, err := h.authService.GetUserByUUID(claims.Subject)
	if err != nil || !user.Active() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session no longer valid"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    user.UUID,
		"issued_at":  claims.IssuedAt.Time,
		"expires_at": claims.ExpiresAt.Time,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	h.authService.Logout(currentClaims(c))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func currentUser(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

func currentClaims(c *gin.Context) *jwt.RegisteredClaims {
	if v, ok := c.Get(middleware.ClaimsKey); ok {
		if claims, ok := v.(*jwt.RegisteredClaims); ok {
			return claims
		}
	}
	return &jwt.RegisteredClaims{}
}
