package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/gearshare/backend/internal/models"
	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
)

func TestPaymentService_LogPaymentAction(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPaymentService(db, 5_000_000, "https://checkout.example.com")

	err := svc.LogPaymentAction("u1", secevent.PaymentAction{
		BookingID:     "b1",
		Action:        "initiated",
		Amount:        15000,
		PaymentMethod: "card",
		Metadata:      map[string]interface{}{"risk_level": "low"},
	})
	require.NoError(t, err)
	assert.Error(t, svc.LogPaymentAction("u1", secevent.PaymentAction{}))

	actions, err := svc.Actions("u1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(actions[0].Metadata), &meta))
	assert.Equal(t, "low", meta["risk_level"])
}

func TestPaymentService_ValidatePaymentOperation(t *testing.T) {
	db := setupTestDB(t)
	_, renter := seedUsers(t, db)
	svc := NewPaymentService(db, 100_000, "https://checkout.example.com")

	cases := []struct {
		name   string
		user   string
		op     string
		amount int64
		want   bool
	}{
		{"valid", renter.UUID, payment.OperationCheckout, 15000, true},
		{"unknown operation", renter.UUID, "transfer", 15000, false},
		{"zero amount", renter.UUID, payment.OperationCheckout, 0, false},
		{"over ceiling", renter.UUID, payment.OperationCheckout, 100_001, false},
		{"unknown user", "missing", payment.OperationCheckout, 15000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := svc.ValidatePaymentOperation(tc.user, tc.op, tc.amount)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}

	require.NoError(t, db.Model(&models.User{}).Where("uuid = ?", renter.UUID).Update("suspended", true).Error)
	ok, err := svc.ValidatePaymentOperation(renter.UUID, payment.OperationCheckout, 15000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaymentService_CreateCheckoutSession(t *testing.T) {
	db := setupTestDB(t)
	_, renter := seedUsers(t, db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewPaymentService(db, 5_000_000, "https://checkout.example.com/")
	svc.now = func() time.Time { return now }

	p := payment.Params{
		EquipmentID:    "eq-1",
		EquipmentTitle: "Tent",
		TotalPrice:     15000,
		StartDate:      now.Add(72 * time.Hour),
		EndDate:        now.Add(120 * time.Hour),
	}
	sess, err := svc.CreateCheckoutSession(renter.UUID, p)
	require.NoError(t, err)
	assert.Regexp(t, `^cs_[0-9a-f]{32}$`, sess.SessionID)
	assert.Equal(t, "https://checkout.example.com/"+sess.SessionID, sess.URL)

	p.EndDate = p.StartDate.Add(400 * 24 * time.Hour)
	_, err = svc.CreateCheckoutSession(renter.UUID, p)
	assert.ErrorIs(t, err, ErrPaymentRejected)

	p.EndDate = now.Add(120 * time.Hour)
	_, err = svc.CreateCheckoutSession("missing", p)
	assert.ErrorIs(t, err, ErrPaymentRejected)
}
