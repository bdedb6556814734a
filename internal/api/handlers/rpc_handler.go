package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/services"
	"github.com/Wikid82/gearshare/backend/internal/util"
)

// RPCHandler serves the remote procedures the guard library calls.
type RPCHandler struct {
	roles    *services.RoleService
	events   *services.SecurityEventService
	payments *services.PaymentService
}

func NewRPCHandler(roles *services.RoleService, events *services.SecurityEventService, payments *services.PaymentService) *RPCHandler {
	return &RPCHandler{roles: roles, events: events, payments: payments}
}

// sameUser reports whether the caller may act on behalf of userID. Only the
// caller itself qualifies.
func sameUser(c *gin.Context, userID string) bool {
	if userID == currentUser(c) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "user_id does not match the session"})
	return false
}

type userRolesRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *RPCHandler) GetUserRoles(c *gin.Context) {
	var req userRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID != currentUser(c) {
		admin, err := h.roles.VerifyAdmin(currentUser(c))
		if err != nil || !admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot read roles of another user"})
			return
		}
	}

	roles, err := h.roles.GetUserRoles(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load roles"})
		return
	}
	if roles == nil {
		roles = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// Admin answers the verify probe and runs role and suspension changes.
func (h *RPCHandler) Admin(c *gin.Context) {
	var req services.AdminActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := currentUser(c)

	if req.Action == services.ActionVerify {
		admin, err := h.roles.VerifyAdmin(actor)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify privileges"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"admin": admin})
		return
	}

	err := h.roles.PerformAdminAction(actor, req)
	switch {
	case errors.Is(err, services.ErrNotAdmin):
		h.logEvent(actor, secevent.TypeSuspicious, fmt.Sprintf("admin action %q attempted without privileges", util.SanitizeForLog(req.Action)), risk.High)
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrUnknownAction), errors.Is(err, services.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrSelfAction):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to perform admin action"})
		return
	}

	h.logEvent(actor, secevent.TypeAdminAction, fmt.Sprintf("%s on %s", req.Action, req.TargetUserID), risk.Low)
	c.JSON(http.StatusOK, gin.H{"message": "Admin action completed"})
}

func (h *RPCHandler) logEvent(userID string, t secevent.Type, details string, level risk.Level) {
	// The action already happened; a failed audit write is logged by the service.
	_, _ = h.events.Log(userID, string(t), details, level)
}

type securityEventRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	EventType    string `json:"event_type" binding:"required"`
	EventDetails string `json:"event_details"`
	RiskLevel    string `json:"risk_level" binding:"required"`
}

func (h *RPCHandler) LogSecurityEvent(c *gin.Context) {
	var req securityEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sameUser(c, req.UserID) {
		return
	}
	level, err := risk.Parse(req.RiskLevel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := h.events.Log(req.UserID, req.EventType, req.EventDetails, level)
	if err != nil {
		if errors.Is(err, services.ErrUnknownEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log security event"})
		return
	}
	c.JSON(http.StatusCreated, ev)
}

type paymentActionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	secevent.PaymentAction
}

func (h *RPCHandler) LogPaymentAction(c *gin.Context) {
	var req paymentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sameUser(c, req.UserID) {
		return
	}
	if err := h.payments.LogPaymentAction(req.UserID, req.PaymentAction); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Payment action logged"})
}

type paymentOperationRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Operation string `json:"operation" binding:"required"`
	Amount    int64  `json:"amount"`
}

func (h *RPCHandler) ValidatePaymentOperation(c *gin.Context) {
	var req paymentOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sameUser(c, req.UserID) {
		return
	}
	allowed, err := h.payments.ValidatePaymentOperation(req.UserID, req.Operation, req.Amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate payment operation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

type checkoutRequest struct {
	UserID string `json:"user_id" binding:"required"`
	payment.Params
}

func (h *RPCHandler) CreateCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sameUser(c, req.UserID) {
		return
	}
	sess, err := h.payments.CreateCheckoutSession(req.UserID, req.Params)
	if err != nil {
		if errors.Is(err, services.ErrPaymentRejected) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.SessionID, "url": sess.URL})
}

func (h *RPCHandler) SecurityAuditStatus(c *gin.Context) {
	status, err := h.events.AuditStatus(currentUser(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute audit status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// RecentEvents lists the caller's own security events.
func (h *RPCHandler) RecentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.events.Recent(currentUser(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list security events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// PaymentActions lists the caller's logged checkout steps.
func (h *RPCHandler) PaymentActions(c *gin.Context) {
	actions, err := h.payments.Actions(currentUser(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payment actions"})
		return
	}
	c.JSON(http.StatusOK, actions)
}

// AdminAudits lists recent admin actions. Mounted behind RequireAdmin.
func (h *RPCHandler) AdminAudits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	audits, err := h.roles.ListAudits(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list admin audits"})
		return
	}
	c.JSON(http.StatusOK, audits)
}
