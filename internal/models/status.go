package models

// RefundStatus is the lifecycle status of a refund request.
type RefundStatus string

const (
	StatusPendingMerchant RefundStatus = "PENDING_MERCHANT"
	StatusNegotiating     RefundStatus = "NEGOTIATING"
	StatusArbitrating     RefundStatus = "ARBITRATING"
	StatusCompleted       RefundStatus = "COMPLETED"
	StatusRejected        RefundStatus = "REJECTED"
	StatusUserWithdrawn   RefundStatus = "USER_WITHDRAWN"
)

// IsTerminal reports whether no further transition is permitted.
func (s RefundStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusUserWithdrawn:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s RefundStatus) Valid() bool {
	switch s {
	case StatusPendingMerchant, StatusNegotiating, StatusArbitrating,
		StatusCompleted, StatusRejected, StatusUserWithdrawn:
		return true
	}
	return false
}

// Event is something that happens to a refund request.
type Event string

const (
	EventSubmitted               Event = "submitted"
	EventMerchantAccept          Event = "merchant_accept"
	EventMerchantReject          Event = "merchant_reject"
	EventMerchantRejectEscalated Event = "merchant_reject_escalated"
	EventMerchantCounter         Event = "merchant_counter"
	EventGuestAcceptCounter      Event = "guest_accept_counter"
	EventGuestDeclineCounter     Event = "guest_decline_counter"
	EventGuestEscalate           Event = "guest_escalate"
	EventCaseApproved            Event = "case_approved"
	EventCaseRejected            Event = "case_rejected"
	EventGuestWithdraw           Event = "guest_withdraw"
)

// transitions is the refund state machine. Terminal statuses have no entries.
var transitions = map[RefundStatus]map[Event]RefundStatus{
	StatusPendingMerchant: {
		EventMerchantAccept:          StatusCompleted,
		EventMerchantReject:          StatusRejected,
		EventMerchantRejectEscalated: StatusArbitrating,
		EventMerchantCounter:         StatusNegotiating,
		EventGuestWithdraw:           StatusUserWithdrawn,
	},
	StatusNegotiating: {
		EventMerchantAccept:          StatusCompleted,
		EventMerchantReject:          StatusRejected,
		EventMerchantRejectEscalated: StatusArbitrating,
		EventMerchantCounter:         StatusNegotiating,
		EventGuestAcceptCounter:      StatusCompleted,
		EventGuestDeclineCounter:     StatusRejected,
		EventGuestEscalate:           StatusArbitrating,
		EventGuestWithdraw:           StatusUserWithdrawn,
	},
	StatusArbitrating: {
		EventCaseApproved: StatusCompleted,
		EventCaseRejected: StatusRejected,
	},
}

// Next returns the status reached from s on event e.
func (s RefundStatus) Next(e Event) (RefundStatus, bool) {
	to, ok := transitions[s][e]
	return to, ok
}

// AllowedEvents lists the events accepted in status s.
func AllowedEvents(s RefundStatus) []Event {
	out := make([]Event, 0, len(transitions[s]))
	for e := range transitions[s] {
		out = append(out, e)
	}
	return out
}

// Escalates reports whether e moves a request into arbitration.
func (e Event) Escalates() bool {
	return e == EventMerchantRejectEscalated || e == EventGuestEscalate
}

// FinalDecision is the outcome recorded on a closed refund request or case.
type FinalDecision string

const (
	DecisionApproved FinalDecision = "approved"
	DecisionRejected FinalDecision = "rejected"
)

// StatusDescription returns a human-readable description of a status.
func StatusDescription(s RefundStatus) string {
	switch s {
	case StatusPendingMerchant:
		return "Waiting for the merchant to respond"
	case StatusNegotiating:
		return "Merchant made a counter-offer; guest and merchant are negotiating"
	case StatusArbitrating:
		return "Escalated to the hotel's arbitration committee"
	case StatusCompleted:
		return "Refund approved"
	case StatusRejected:
		return "Refund rejected"
	case StatusUserWithdrawn:
		return "Guest withdrew the request"
	default:
		return "Unknown status"
	}
}
