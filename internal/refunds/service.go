// Package refunds is the guest-facing side of a refund dispute: submitting a
// request, recording the merchant's answer and the guest's reaction to a
// counter-offer. Status changes are delegated to the disputes controller.
package refunds

import (
	"context"
	"log/slog"
	"strings"

	"github.com/example/hotel-refunds/internal/disputes"
	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

// DefaultCurrency is used when the order snapshot carries none.
const DefaultCurrency = "CNY"

// MerchantDecision is the merchant's answer to a refund request.
type MerchantDecision string

const (
	MerchantAccept  MerchantDecision = "accept"
	MerchantReject  MerchantDecision = "reject"
	MerchantCounter MerchantDecision = "counter"
)

// SubmitRequest is a guest's new refund request.
type SubmitRequest struct {
	Order          models.Order `json:"order"`
	Reason         string       `json:"reason"`
	Evidence       []string     `json:"evidence"`
	RequestedRatio int          `json:"requested_ratio"`
}

// MerchantResponse is the merchant's answer. CounterRatio is read only for
// MerchantCounter; GuestEscalates only for MerchantReject.
type MerchantResponse struct {
	Text           string           `json:"text"`
	Decision       MerchantDecision `json:"decision"`
	CounterRatio   int              `json:"counter_ratio"`
	GuestEscalates bool             `json:"guest_escalates"`
}

// Service implements the refund request operations.
type Service struct {
	store  store.Store
	ctrl   *disputes.Controller
	ids    *idgen.Generator
	logger *slog.Logger
}

// NewService wires the service to its controller.
func NewService(st store.Store, ctrl *disputes.Controller, ids *idgen.Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, ctrl: ctrl, ids: ids, logger: logger}
}

// Submit validates and stores a new request in PENDING_MERCHANT.
func (s *Service) Submit(ctx context.Context, in SubmitRequest) (*models.RefundRequest, error) {
	order := in.Order
	order.HotelID = strings.TrimSpace(order.HotelID)
	order.OrderID = strings.TrimSpace(order.OrderID)
	reason := strings.TrimSpace(in.Reason)
	switch {
	case order.HotelID == "":
		return nil, models.Errorf(models.KindInvalidArgument, "order snapshot is missing hotel_id")
	case order.OrderID == "":
		return nil, models.Errorf(models.KindInvalidArgument, "order snapshot is missing order_id")
	case reason == "":
		return nil, models.Errorf(models.KindInvalidArgument, "reason must not be empty")
	}
	if !order.ActualPaid.IsPositive() {
		return nil, models.Errorf(models.KindInvalidAmount, "amount paid %s must be positive", order.ActualPaid.String())
	}
	if !order.ActualPaid.Equal(order.ActualPaid.Round(models.MoneyScale)) {
		return nil, models.Errorf(models.KindInvalidAmount, "amount paid %s has more than %d decimal places", order.ActualPaid.String(), models.MoneyScale)
	}
	if err := models.ValidateRatio(in.RequestedRatio); err != nil {
		return nil, err
	}
	if err := models.ValidateEvidence(in.Evidence); err != nil {
		return nil, err
	}
	if order.Currency == "" {
		order.Currency = DefaultCurrency
	}
	order.ActualPaid = order.ActualPaid.Round(models.MoneyScale)

	now := s.ctrl.Now()
	req := &models.RefundRequest{
		ID:          s.ids.ID(),
		RequestNo:   s.ids.RequestNo(),
		Order:       order,
		RefundRatio: in.RequestedRatio,
		Reason:      reason,
		Evidence:    trimAll(in.Evidence),
		Status:      models.StatusPendingMerchant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := req.Recompute(); err != nil {
		return nil, err
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.ctrl.Open(ctx, tx, req, disputes.ActorGuest)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund_submitted",
		"refund_request_id", req.ID,
		"request_no", req.RequestNo,
		"hotel_id", req.HotelID,
		"order_id", req.OrderID,
		"refund_amount", req.RefundAmount.StringFixed(models.MoneyScale),
	)
	return req, nil
}

// RecordMerchantResponse applies the merchant's answer. A rejection the guest
// contests goes straight to arbitration.
func (s *Service) RecordMerchantResponse(ctx context.Context, id string, in MerchantResponse) (*models.RefundRequest, error) {
	var event models.Event
	switch in.Decision {
	case MerchantAccept:
		event = models.EventMerchantAccept
	case MerchantCounter:
		event = models.EventMerchantCounter
		if err := models.ValidateRatio(in.CounterRatio); err != nil {
			return nil, err
		}
	case MerchantReject:
		event = models.EventMerchantReject
		if in.GuestEscalates {
			event = models.EventMerchantRejectEscalated
		}
	default:
		return nil, models.Errorf(models.KindInvalidArgument, "merchant decision %q must be accept, reject or counter", in.Decision)
	}

	return s.apply(ctx, id, event, disputes.ActorMerchant, in.Text, func(req *models.RefundRequest) error {
		now := s.ctrl.Now()
		req.MerchantResponse = strings.TrimSpace(in.Text)
		req.MerchantResponseTime = &now
		if event == models.EventMerchantCounter {
			ratio := in.CounterRatio
			if _, err := models.ComputeRefundAmount(req.ActualPaid, ratio); err != nil {
				return err
			}
			req.CounterRatio = &ratio
		}
		return nil
	})
}

// AcceptCounter closes a negotiation on the merchant's counter ratio.
func (s *Service) AcceptCounter(ctx context.Context, id string) (*models.RefundRequest, error) {
	return s.apply(ctx, id, models.EventGuestAcceptCounter, disputes.ActorGuest, "guest accepted counter-offer", func(req *models.RefundRequest) error {
		if req.CounterRatio == nil {
			return models.Errorf(models.KindInvalidTransition, "refund request %s has no counter-offer to accept", req.ID)
		}
		req.RefundRatio = *req.CounterRatio
		return req.Recompute()
	})
}

// DeclineCounter refuses the counter-offer and either escalates or gives up.
func (s *Service) DeclineCounter(ctx context.Context, id string, escalate bool) (*models.RefundRequest, error) {
	if escalate {
		return s.apply(ctx, id, models.EventGuestEscalate, disputes.ActorGuest, "guest declined counter-offer", nil)
	}
	return s.apply(ctx, id, models.EventGuestDeclineCounter, disputes.ActorGuest, "guest declined counter-offer", nil)
}

// Escalate sends a negotiation to the hotel's arbitration committee.
func (s *Service) Escalate(ctx context.Context, id, note string) (*models.RefundRequest, error) {
	return s.apply(ctx, id, models.EventGuestEscalate, disputes.ActorGuest, note, nil)
}

// Withdraw closes an open request at the guest's wish.
func (s *Service) Withdraw(ctx context.Context, id, note string) (*models.RefundRequest, error) {
	return s.apply(ctx, id, models.EventGuestWithdraw, disputes.ActorGuest, note, nil)
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (*models.RefundRequest, error) {
	var req *models.RefundRequest
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.Refunds().Get(ctx, id)
		return err
	})
	return req, err
}

// List returns requests matching filter, oldest first.
func (s *Service) List(ctx context.Context, filter store.RefundFilter) ([]*models.RefundRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.Errorf(models.KindInvalidArgument, "unknown status %q", filter.Status)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, models.Errorf(models.KindInvalidArgument, "limit and offset must not be negative")
	}
	var out []*models.RefundRequest
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Refunds().List(ctx, filter)
		return err
	})
	return out, err
}

// apply loads the request, checks the event before any field is touched,
// runs mutate and fires the event, all in one transaction.
func (s *Service) apply(ctx context.Context, id string, event models.Event, actor, note string, mutate func(*models.RefundRequest) error) (*models.RefundRequest, error) {
	var out *models.RefundRequest
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.Refunds().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.ctrl.Check(req, event); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(req); err != nil {
				return err
			}
		}
		if err := s.ctrl.Fire(ctx, tx, req, event, actor, strings.TrimSpace(note)); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
