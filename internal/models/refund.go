package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for currency amounts.
const MoneyScale = 2

// Order is the snapshot of the order collaborator's record taken when a refund
// request is submitted. It is treated as immutable input.
type Order struct {
	OrderID    string          `json:"order_id"`
	OrderNo    string          `json:"order_no"`
	HotelID    string          `json:"hotel_id"`
	HotelName  string          `json:"hotel_name"`
	GuestName  string          `json:"guest_name"`
	GuestPhone string          `json:"guest_phone"`
	ActualPaid decimal.Decimal `json:"actual_paid"`
	Currency   string          `json:"currency"`
}

// RefundRequest is a guest's request for a (partial) refund of an order.
type RefundRequest struct {
	ID        string `json:"id"`
	RequestNo string `json:"request_no"`
	Order

	RefundRatio  int             `json:"refund_ratio"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	CounterRatio *int            `json:"counter_ratio,omitempty"`

	Reason               string     `json:"reason"`
	Evidence             []string   `json:"evidence"`
	MerchantResponse     string     `json:"merchant_response,omitempty"`
	MerchantResponseTime *time.Time `json:"merchant_response_time,omitempty"`

	Status        RefundStatus   `json:"status"`
	ArbitrationID *string        `json:"arbitration_id,omitempty"`
	FinalDecision *FinalDecision `json:"final_decision,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// ComputeRefundAmount returns round(paid × ratio / 100) at MoneyScale decimals.
func ComputeRefundAmount(paid decimal.Decimal, ratio int) (decimal.Decimal, error) {
	if err := ValidateRatio(ratio); err != nil {
		return decimal.Zero, err
	}
	if paid.IsNegative() {
		return decimal.Zero, Errorf(KindInvalidAmount, "amount paid %s must not be negative", paid.String())
	}
	amount := paid.Mul(decimal.NewFromInt(int64(ratio))).Div(decimal.NewFromInt(100)).Round(MoneyScale)
	if amount.GreaterThan(paid) {
		return decimal.Zero, Errorf(KindInvalidAmount, "refund amount %s exceeds amount paid %s", amount.StringFixed(MoneyScale), paid.StringFixed(MoneyScale))
	}
	return amount, nil
}

// ValidateRatio checks that a refund ratio is a percentage.
func ValidateRatio(ratio int) error {
	if ratio < 0 || ratio > 100 {
		return Errorf(KindInvalidAmount, "refund ratio %d is outside [0, 100]", ratio)
	}
	return nil
}

// Recompute derives RefundAmount from ActualPaid and RefundRatio.
func (r *RefundRequest) Recompute() error {
	amount, err := ComputeRefundAmount(r.ActualPaid, r.RefundRatio)
	if err != nil {
		return err
	}
	r.RefundAmount = amount
	return nil
}

// CheckInvariants validates the stored fields against each other. Stores call
// it on every save so a drifted amount or a dangling arbitration link is never
// persisted.
func (r *RefundRequest) CheckInvariants() error {
	expected, err := ComputeRefundAmount(r.ActualPaid, r.RefundRatio)
	if err != nil {
		return err
	}
	if !expected.Equal(r.RefundAmount) {
		return Errorf(KindInvalidAmount, "refund amount %s does not match %d%% of %s", r.RefundAmount.StringFixed(MoneyScale), r.RefundRatio, r.ActualPaid.StringFixed(MoneyScale))
	}
	if !r.Status.Valid() {
		return Errorf(KindInvalidArgument, "unknown status %q", r.Status)
	}
	switch r.Status {
	case StatusPendingMerchant, StatusNegotiating, StatusUserWithdrawn:
		if r.ArbitrationID != nil {
			return Errorf(KindInvalidTransition, "refund request %s in status %s cannot reference an arbitration case", r.ID, r.Status)
		}
	case StatusArbitrating:
		if r.ArbitrationID == nil {
			return Errorf(KindInvalidTransition, "refund request %s is arbitrating without a case", r.ID)
		}
	}
	if r.Status.IsTerminal() != (r.ClosedAt != nil) {
		return Errorf(KindInvalidTransition, "refund request %s closed timestamp does not match status %s", r.ID, r.Status)
	}
	return nil
}

// Escalated reports whether the request was ever sent to arbitration.
func (r *RefundRequest) Escalated() bool {
	return r.ArbitrationID != nil
}

// Clone returns a deep copy.
func (r *RefundRequest) Clone() *RefundRequest {
	c := *r
	c.Evidence = append([]string(nil), r.Evidence...)
	c.CounterRatio = cloneInt(r.CounterRatio)
	c.MerchantResponseTime = cloneTime(r.MerchantResponseTime)
	c.EscalatedAt = cloneTime(r.EscalatedAt)
	c.ClosedAt = cloneTime(r.ClosedAt)
	if r.ArbitrationID != nil {
		id := *r.ArbitrationID
		c.ArbitrationID = &id
	}
	if r.FinalDecision != nil {
		d := *r.FinalDecision
		c.FinalDecision = &d
	}
	return &c
}

// ValidateEvidence requires every evidence reference to be an absolute URI.
func ValidateEvidence(evidence []string) error {
	for i, ref := range evidence {
		ref = strings.TrimSpace(ref)
		u, err := url.Parse(ref)
		if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
			return Errorf(KindInvalidArgument, "evidence[%d] %q is not an absolute URI", i, ref)
		}
	}
	return nil
}

// ToMinor converts an amount to integer minor units (cents) for storage.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(MoneyScale).Round(0).IntPart()
}

// FromMinor converts integer minor units back to an amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MoneyScale)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
