// Package disputes is the dispute lifecycle controller. It owns the refund
// state machine: every status change goes through Fire, which checks the
// transition table, opens an arbitration case on escalation, stamps the
// request, appends a hash-chained journal entry and queues the payout event
// for approved refunds, all inside the caller's store transaction.
package disputes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
	"github.com/example/hotel-refunds/pkg/audit"
)

// Actors recorded in the journal.
const (
	ActorGuest       = "guest"
	ActorMerchant    = "merchant"
	ActorArbitration = "arbitration"
)

// CaseOpener creates the arbitration case for an escalated request.
type CaseOpener interface {
	CreateCase(ctx context.Context, tx store.Tx, req *models.RefundRequest) (*models.ArbitrationCase, error)
}

// Controller applies refund lifecycle events.
type Controller struct {
	store  store.Store
	opener CaseOpener
	ids    *idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// NewController returns a controller that escalates through opener.
func NewController(st store.Store, opener CaseOpener, ids *idgen.Generator, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:  st,
		opener: opener,
		ids:    ids,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Now returns the controller's current time, truncated to the microsecond
// precision every store keeps.
func (c *Controller) Now() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// Check reports whether event is accepted in req's current status.
func (c *Controller) Check(req *models.RefundRequest, event models.Event) error {
	if _, ok := req.Status.Next(event); !ok {
		return &models.InvalidTransitionError{RequestID: req.ID, From: req.Status, Event: event}
	}
	return nil
}

// Open persists a newly submitted request and starts its journal.
func (c *Controller) Open(ctx context.Context, tx store.Tx, req *models.RefundRequest, actor string) error {
	if req.Status != models.StatusPendingMerchant {
		return models.Errorf(models.KindInvalidTransition, "new refund request must start in %s, got %s", models.StatusPendingMerchant, req.Status)
	}
	if err := tx.Refunds().Create(ctx, req); err != nil {
		return err
	}
	return c.record(ctx, tx, req.ID, "", req.Status, models.EventSubmitted, actor, req.Reason, req.CreatedAt)
}

// Fire applies event to req and persists the result. Callers load req inside
// tx and may change event-specific fields (ratio, merchant response) first.
func (c *Controller) Fire(ctx context.Context, tx store.Tx, req *models.RefundRequest, event models.Event, actor, note string) error {
	from := req.Status
	to, ok := from.Next(event)
	if !ok {
		return &models.InvalidTransitionError{RequestID: req.ID, From: from, Event: event}
	}
	now := c.Now()

	if event.Escalates() {
		if req.ArbitrationID != nil {
			return models.Errorf(models.KindAlreadyEscalated, "refund request %s already has case %s", req.ID, *req.ArbitrationID)
		}
		ac, err := c.opener.CreateCase(ctx, tx, req)
		if err != nil {
			return err
		}
		req.ArbitrationID = &ac.ID
		req.EscalatedAt = &now
	}

	req.Status = to
	req.UpdatedAt = now
	switch to {
	case models.StatusCompleted:
		d := models.DecisionApproved
		req.FinalDecision = &d
		req.ClosedAt = &now
	case models.StatusRejected:
		d := models.DecisionRejected
		req.FinalDecision = &d
		req.ClosedAt = &now
	case models.StatusUserWithdrawn:
		req.ClosedAt = &now
	}

	if err := tx.Refunds().Update(ctx, req); err != nil {
		return err
	}
	if err := c.record(ctx, tx, req.ID, from, to, event, actor, note, now); err != nil {
		return err
	}
	if to == models.StatusCompleted {
		if err := c.enqueueApproval(ctx, tx, req, now); err != nil {
			return err
		}
	}

	c.logger.Info("refund_transition",
		"refund_request_id", req.ID,
		"from", string(from),
		"to", string(to),
		"event", string(event),
		"actor", actor,
	)
	return nil
}

// ApplyArbitrationResult closes the parent request of a decided case. It runs
// in the transaction that recorded the deciding vote.
func (c *Controller) ApplyArbitrationResult(ctx context.Context, tx store.Tx, requestID, caseID string, result models.FinalDecision) error {
	req, err := tx.Refunds().Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ArbitrationID == nil || *req.ArbitrationID != caseID {
		return models.Errorf(models.KindInvalidArgument, "case %s does not belong to refund request %s", caseID, requestID)
	}
	event := models.EventCaseRejected
	if result == models.DecisionApproved {
		event = models.EventCaseApproved
	}
	return c.Fire(ctx, tx, req, event, ActorArbitration, "case "+caseID+" resolved "+string(result))
}

// History returns the journal of a request, oldest first.
func (c *Controller) History(ctx context.Context, requestID string) ([]*models.StateTransition, error) {
	var out []*models.StateTransition
	err := c.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Refunds().Get(ctx, requestID); err != nil {
			return err
		}
		var err error
		out, err = tx.Transitions().History(ctx, requestID)
		return err
	})
	return out, err
}

// VerifyHistory recomputes the journal's hash chain and checks that it ends
// in the request's stored status.
func (c *Controller) VerifyHistory(ctx context.Context, requestID string) (bool, error) {
	var (
		req     *models.RefundRequest
		history []*models.StateTransition
	)
	err := c.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if req, err = tx.Refunds().Get(ctx, requestID); err != nil {
			return err
		}
		history, err = tx.Transitions().History(ctx, requestID)
		return err
	})
	if err != nil {
		return false, err
	}

	prev := audit.ZeroHash
	for i, t := range history {
		if t.Seq != i+1 {
			return false, fmt.Errorf("journal gap at transition %s: seq %d, expected %d", t.ID, t.Seq, i+1)
		}
		if t.PrevHash != prev {
			return false, fmt.Errorf("hash chain broken at transition %s: expected %s, got %s", t.ID, prev, t.PrevHash)
		}
		if want := transitionHash(t); t.Hash != want {
			return false, fmt.Errorf("hash mismatch at transition %s: expected %s, got %s", t.ID, want, t.Hash)
		}
		prev = t.Hash
	}
	if len(history) > 0 && history[len(history)-1].ToStatus != req.Status {
		return false, fmt.Errorf("journal ends in %s but refund request %s is %s", history[len(history)-1].ToStatus, requestID, req.Status)
	}
	return true, nil
}

func (c *Controller) record(ctx context.Context, tx store.Tx, requestID string, from, to models.RefundStatus, event models.Event, actor, note string, at time.Time) error {
	latest, err := tx.Transitions().Latest(ctx, requestID)
	if err != nil {
		return err
	}
	t := &models.StateTransition{
		ID:              c.ids.ID(),
		RefundRequestID: requestID,
		Seq:             1,
		FromStatus:      from,
		ToStatus:        to,
		Event:           event,
		Actor:           actor,
		Reason:          note,
		PrevHash:        audit.ZeroHash,
		CreatedAt:       at.UTC().Truncate(time.Microsecond),
	}
	if latest != nil {
		t.Seq = latest.Seq + 1
		t.PrevHash = latest.Hash
	}
	t.Hash = transitionHash(t)
	return tx.Transitions().Append(ctx, t)
}

func transitionHash(t *models.StateTransition) string {
	return audit.Link(t.PrevHash,
		t.RefundRequestID,
		strconv.Itoa(t.Seq),
		string(t.FromStatus),
		string(t.ToStatus),
		string(t.Event),
		t.Actor,
		t.Reason,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
}

func (c *Controller) enqueueApproval(ctx context.Context, tx store.Tx, req *models.RefundRequest, at time.Time) error {
	payload, err := json.Marshal(models.RefundApprovedPayload{
		RefundRequestID: req.ID,
		RequestNo:       req.RequestNo,
		OrderID:         req.OrderID,
		OrderNo:         req.OrderNo,
		HotelID:         req.HotelID,
		Amount:          req.RefundAmount.StringFixed(models.MoneyScale),
		Currency:        req.Currency,
		Decision:        models.DecisionApproved,
		ViaArbitration:  req.Escalated(),
		ApprovedAt:      at,
	})
	if err != nil {
		return fmt.Errorf("failed to encode refund.approved payload: %w", err)
	}
	return tx.Outbox().Enqueue(ctx, &models.OutboxEvent{
		ID:          c.ids.ID(),
		AggregateID: req.ID,
		Type:        models.EventRefundApproved,
		Payload:     payload,
		CreatedAt:   at,
	})
}
