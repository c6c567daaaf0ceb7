package events

import "time"

// Event types published to the orders topic.
const (
	TypeOrderCreated          = "order.created"
	TypeOrderPaid             = "order.paid"
	TypeOrderCancelled        = "order.cancelled"
	TypeOrderExpired          = "order.expired"
	TypeSubOrderStatusChanged = "suborder.status_changed"
)

// Envelope is the wire format for domain events.
type Envelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	OrderID    string         `json:"order_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
