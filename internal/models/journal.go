package models

import (
	"encoding/json"
	"time"
)

// StateTransition is one entry in a refund request's hash-chained journal.
type StateTransition struct {
	ID              string       `json:"id"`
	RefundRequestID string       `json:"refund_request_id"`
	Seq             int          `json:"seq"`
	FromStatus      RefundStatus `json:"from_status"`
	ToStatus        RefundStatus `json:"to_status"`
	Event           Event        `json:"event"`
	Actor           string       `json:"actor"`
	Reason          string       `json:"reason"`
	PrevHash        string       `json:"prev_hash"`
	Hash            string       `json:"hash"`
	CreatedAt       time.Time    `json:"created_at"`
}

// OutboxEventType names an event handed to an external collaborator.
type OutboxEventType string

const (
	// EventRefundApproved asks the payment collaborator to execute a refund.
	EventRefundApproved OutboxEventType = "refund.approved"
)

// OutboxEvent is a durable, not-yet-delivered message to a collaborator.
type OutboxEvent struct {
	ID           string          `json:"id"`
	AggregateID  string          `json:"aggregate_id"`
	Type         OutboxEventType `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
}

// RefundApprovedPayload is the body of a refund.approved event.
type RefundApprovedPayload struct {
	RefundRequestID string        `json:"refund_request_id"`
	RequestNo       string        `json:"request_no"`
	OrderID         string        `json:"order_id"`
	OrderNo         string        `json:"order_no"`
	HotelID         string        `json:"hotel_id"`
	Amount          string        `json:"amount"`
	Currency        string        `json:"currency"`
	Decision        FinalDecision `json:"decision"`
	ViaArbitration  bool          `json:"via_arbitration"`
	ApprovedAt      time.Time     `json:"approved_at"`
}
