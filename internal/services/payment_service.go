package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/models"
	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
)

// Payment operations the backend authorizes.
var knownPaymentOperations = map[string]bool{
	payment.OperationCheckout: true,
	"refund":                  true,
	"payout":                  true,
}

var ErrPaymentRejected = errors.New("payment rejected")

// PaymentService logs checkout attempts and authorizes payment operations.
type PaymentService struct {
	db          *gorm.DB
	maxAmount   int64
	checkoutURL string
	now         func() time.Time
}

// NewPaymentService returns a service that authorizes amounts up to
// maxAmount minor units and hands out sessions under checkoutURL.
func NewPaymentService(db *gorm.DB, maxAmount int64, checkoutURL string) *PaymentService {
	return &PaymentService{db: db, maxAmount: maxAmount, checkoutURL: strings.TrimRight(checkoutURL, "/"), now: time.Now}
}

// LogPaymentAction stores one step of a checkout attempt.
func (s *PaymentService) LogPaymentAction(userID string, a secevent.PaymentAction) error {
	if strings.TrimSpace(a.Action) == "" {
		return fmt.Errorf("payment action is required")
	}
	meta := "{}"
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(raw)
	}
	return s.db.Create(&models.PaymentAction{
		UUID:            uuid.NewString(),
		UserUUID:        userID,
		BookingID:       a.BookingID,
		Action:          a.Action,
		Amount:          a.Amount,
		PaymentMethod:   a.PaymentMethod,
		Metadata:        meta,
		StripeSessionID: a.StripeSessionID,
	}).Error
}

// ValidatePaymentOperation reports whether userID may perform operation for
// amount. Unknown users, inactive accounts and out-of-range amounts are
// refused without an error.
func (s *PaymentService) ValidatePaymentOperation(userID, operation string, amount int64) (bool, error) {
	if !knownPaymentOperations[operation] {
		return false, nil
	}
	if amount <= 0 || (s.maxAmount > 0 && amount > s.maxAmount) {
		return false, nil
	}
	var user models.User
	if err := s.db.Where("uuid = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.Active(), nil
}

// CreateCheckoutSession re-applies the booking rules and authorization
// server-side, then opens a checkout session.
func (s *PaymentService) CreateCheckoutSession(userID string, p payment.Params) (*models.CheckoutSession, error) {
	if res := payment.Check(p, s.now()); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrPaymentRejected, strings.Join(res.Errors, "; "))
	}
	ok, err := s.ValidatePaymentOperation(userID, payment.OperationCheckout, p.TotalPrice)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: operation not authorized", ErrPaymentRejected)
	}

	id := "cs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	sess := &models.CheckoutSession{
		SessionID:   id,
		UserUUID:    userID,
		EquipmentID: p.EquipmentID,
		Amount:      p.TotalPrice,
		URL:         s.checkoutURL + "/" + id,
	}
	if err := s.db.Create(sess).Error; err != nil {
		return nil, err
	}
	logger.Log().WithFields(map[string]interface{}{
		"user":    userID,
		"session": id,
		"amount":  p.TotalPrice,
	}).Info("checkout session created")
	return sess, nil
}

// Actions returns the logged payment steps of userID, newest first.
func (s *PaymentService) Actions(userID string) ([]models.PaymentAction, error) {
	var out []models.PaymentAction
	err := s.db.Where("user_uuid = ?", userID).Order("id desc").Find(&out).Error
	return out, err
}
