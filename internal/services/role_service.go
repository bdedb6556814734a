package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/models"
)

// Admin endpoint actions.
const (
	ActionVerify     = "verify"
	ActionAssignRole = "assign_role"
	ActionRemoveRole = "remove_role"
	ActionSuspend    = "suspend_user"
	ActionReactivate = "reactivate_user"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUnknownRole   = errors.New("unknown role")
	ErrUnknownAction = errors.New("unknown admin action")
	ErrNotAdmin      = errors.New("administrator privileges required")
	ErrSelfAction    = errors.New("administrators cannot remove their own admin role or suspend themselves")
)

// AdminActionRequest is the body of the admin endpoint.
type AdminActionRequest struct {
	Action       string `json:"action" binding:"required"`
	TargetUserID string `json:"target_user_id"`
	Role         string `json:"role"`
	Reason       string `json:"reason"`
}

// RoleService owns role assignment and the admin-gated account actions.
type RoleService struct {
	db *gorm.DB
}

func NewRoleService(db *gorm.DB) *RoleService {
	return &RoleService{db: db}
}

// GetUserRoles returns the roles assigned to userID.
func (s *RoleService) GetUserRoles(userID string) ([]string, error) {
	var roles []string
	if err := s.db.Model(&models.UserRole{}).Where("user_uuid = ?", userID).Order("role").Pluck("role", &roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// VerifyAdmin re-reads the account and the role table. A disabled or
// suspended account is never an administrator.
func (s *RoleService) VerifyAdmin(userID string) (bool, error) {
	var user models.User
	if err := s.db.Where("uuid = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !user.Active() {
		return false, nil
	}
	var n int64
	if err := s.db.Model(&models.UserRole{}).Where("user_uuid = ? AND role = ?", userID, models.RoleAdmin).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// PerformAdminAction applies a role or suspension change on behalf of
// actorID and records it in the audit table.
func (s *RoleService) PerformAdminAction(actorID string, req AdminActionRequest) error {
	ok, err := s.VerifyAdmin(actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.Where("uuid = ?", req.TargetUserID).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		details := req.Reason
		switch req.Action {
		case ActionAssignRole:
			if !models.IsKnownRole(req.Role) {
				return ErrUnknownRole
			}
			role := models.UserRole{UserUUID: target.UUID, Role: req.Role, AssignedBy: actorID}
			if err := tx.Where(models.UserRole{UserUUID: target.UUID, Role: req.Role}).FirstOrCreate(&role).Error; err != nil {
				return err
			}
			details = "role=" + req.Role
		case ActionRemoveRole:
			if !models.IsKnownRole(req.Role) {
				return ErrUnknownRole
			}
			if target.UUID == actorID && req.Role == models.RoleAdmin {
				return ErrSelfAction
			}
			if err := tx.Where("user_uuid = ? AND role = ?", target.UUID, req.Role).Delete(&models.UserRole{}).Error; err != nil {
				return err
			}
			details = "role=" + req.Role
		case ActionSuspend:
			if target.UUID == actorID {
				return ErrSelfAction
			}
			if err := tx.Model(&target).Updates(map[string]interface{}{"suspended": true, "suspended_reason": req.Reason}).Error; err != nil {
				return err
			}
		case ActionReactivate:
			if err := tx.Model(&target).Updates(map[string]interface{}{"suspended": false, "suspended_reason": ""}).Error; err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
		}

		return tx.Create(&models.SecurityAudit{
			UUID:    uuid.NewString(),
			Actor:   actorID,
			Action:  req.Action,
			Target:  target.UUID,
			Details: details,
		}).Error
	})
	if err != nil {
		return err
	}

	logger.Log().WithFields(map[string]interface{}{
		"actor":  actorID,
		"action": req.Action,
		"target": req.TargetUserID,
	}).Info("admin action applied")
	return nil
}

// ListAudits returns the most recent admin actions.
func (s *RoleService) ListAudits(limit int) ([]models.SecurityAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.SecurityAudit
	err := s.db.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}
