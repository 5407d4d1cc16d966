package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClientIdentity is the durable pseudo-identity of this client. It is a
// convenience for resuming tracking, not an authorization boundary.
type ClientIdentity struct {
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiry"`
}

// TrackedOrderRecord is the locally cached pointer to the order being tracked.
type TrackedOrderRecord struct {
	OrderID       string          `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	CreatedAt     time.Time       `json:"createdAt"`
	ClientID      string          `json:"clientId"`
	SavedAt       time.Time       `json:"savedAt"`
}

// RecordFromOrder builds the cache record for o owned by clientID.
func RecordFromOrder(o *Order, clientID string) TrackedOrderRecord {
	return TrackedOrderRecord{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		TotalAmount:   o.TotalAmount,
		CreatedAt:     o.CreatedAt,
		ClientID:      clientID,
	}
}

// OrderNotification is a row of order_notifications, written when a status
// changes.
type OrderNotification struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	OldStatus   Status    `json:"old_status"`
	NewStatus   Status    `json:"new_status"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusChange is emitted when a tracked order moves to a new status.
type StatusChange struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Label       string    `json:"label"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}
