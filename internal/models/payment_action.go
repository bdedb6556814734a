package models

import "time"

// PaymentAction is one logged step of a checkout attempt.
type PaymentAction struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	UUID            string    `json:"uuid" gorm:"uniqueIndex"`
	UserUUID        string    `json:"user_id" gorm:"index"`
	BookingID       string    `json:"booking_id,omitempty"`
	Action          string    `json:"action"`
	Amount          int64     `json:"amount"`
	PaymentMethod   string    `json:"payment_method"`
	Metadata        string    `json:"metadata" gorm:"type:text"` // JSON object
	StripeSessionID string    `json:"stripe_session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CheckoutSession is a payment session handed to the payment processor.
type CheckoutSession struct {
	ID          uint      `json:"-" gorm:"primaryKey"`
	SessionID   string    `json:"session_id" gorm:"uniqueIndex"`
	UserUUID    string    `json:"user_id" gorm:"index"`
	EquipmentID string    `json:"equipment_id"`
	Amount      int64     `json:"amount"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}
