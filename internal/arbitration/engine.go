package arbitration

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/example/hotel-refunds/internal/locks"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

// Resolver closes the parent refund request of a decided case. It is called
// inside the transaction that recorded the deciding vote.
type Resolver interface {
	ApplyArbitrationResult(ctx context.Context, tx store.Tx, requestID, caseID string, result models.FinalDecision) error
}

// CastVoteRequest is one arbitrator's ballot.
type CastVoteRequest struct {
	CaseID       string              `json:"case_id"`
	ArbitratorID string              `json:"arbitrator_id"`
	Decision     models.VoteDecision `json:"decision"`
	Comment      string              `json:"comment"`
}

// Engine records votes and resolves cases.
type Engine struct {
	*CaseFactory

	store    store.Store
	locker   locks.Locker
	resolver Resolver
	logger   *slog.Logger
}

// NewEngine wires the engine. Votes on one case are serialized through locker.
func NewEngine(st store.Store, locker locks.Locker, factory *CaseFactory, resolver Resolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		CaseFactory: factory,
		store:       st,
		locker:      locker,
		resolver:    resolver,
		logger:      logger,
	}
}

// CastVote records a vote. When the vote decides the case, the case is closed
// and the parent request updated in the same transaction.
func (e *Engine) CastVote(ctx context.Context, in CastVoteRequest) (*models.ArbitrationCase, error) {
	if !in.Decision.Cast() {
		return nil, models.Errorf(models.KindInvalidArgument, "decision %q must be %s or %s", in.Decision, models.VoteSupport, models.VoteOppose)
	}
	if in.CaseID == "" || in.ArbitratorID == "" {
		return nil, models.Errorf(models.KindInvalidArgument, "case_id and arbitrator_id are required")
	}

	lease, err := e.locker.Acquire(ctx, locks.CaseKey(in.CaseID))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("case_lock_release_failed", "case_id", in.CaseID, "error", err)
		}
	}()

	var (
		out      *models.ArbitrationCase
		resolved bool
	)
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		resolved = false
		ac, err := tx.Cases().Get(ctx, in.CaseID)
		if err != nil {
			return err
		}
		if ac.Status == models.CaseCompleted {
			return models.Errorf(models.KindCaseClosed, "case %s is closed with result %s", ac.ID, *ac.FinalResult)
		}
		slot := ac.VoteFor(in.ArbitratorID)
		if slot == nil {
			return models.Errorf(models.KindUnknownArbitrator, "arbitrator %s is not on the committee of case %s", in.ArbitratorID, ac.ID)
		}
		if slot.Decision.Cast() {
			return models.Errorf(models.KindUnknownArbitrator, "arbitrator %s already voted %s on case %s", in.ArbitratorID, slot.Decision, ac.ID)
		}

		now := e.now().UTC().Truncate(time.Microsecond)
		slot.Decision = in.Decision
		slot.VotedAt = &now
		slot.Comment = strings.TrimSpace(in.Comment)
		ac.Tally()

		if result, done := ac.Decide(); done {
			ac.Status = models.CaseCompleted
			ac.FinalResult = &result
			ac.CompletedAt = &now
			resolved = true
		}
		if err := tx.Cases().Update(ctx, ac); err != nil {
			return err
		}
		if resolved {
			if err := e.resolver.ApplyArbitrationResult(ctx, tx, ac.RefundRequestID, ac.ID, *ac.FinalResult); err != nil {
				return err
			}
		}
		out = ac
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("arbitration_vote_cast",
		"case_id", out.ID,
		"arbitrator_id", in.ArbitratorID,
		"decision", string(in.Decision),
		"support", out.SupportCount,
		"oppose", out.OpposeCount,
		"pending", out.PendingCount,
	)
	if resolved {
		e.logger.Info("arbitration_case_resolved",
			"case_id", out.ID,
			"refund_request_id", out.RefundRequestID,
			"result", string(*out.FinalResult),
		)
	}
	return out, nil
}

// GetCase returns one case with its votes.
func (e *Engine) GetCase(ctx context.Context, id string) (*models.ArbitrationCase, error) {
	var out *models.ArbitrationCase
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Cases().Get(ctx, id)
		return err
	})
	return out, err
}

// CaseForRequest returns the case opened for a refund request.
func (e *Engine) CaseForRequest(ctx context.Context, refundRequestID string) (*models.ArbitrationCase, error) {
	var out *models.ArbitrationCase
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Cases().GetByRefundRequest(ctx, refundRequestID)
		return err
	})
	return out, err
}

// ListCases returns cases matching filter, oldest first.
func (e *Engine) ListCases(ctx context.Context, filter store.CaseFilter) ([]*models.ArbitrationCase, error) {
	if filter.Status != "" && filter.Status != models.CaseVoting && filter.Status != models.CaseCompleted {
		return nil, models.Errorf(models.KindInvalidArgument, "unknown case status %q", filter.Status)
	}
	var out []*models.ArbitrationCase
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Cases().List(ctx, filter)
		return err
	})
	return out, err
}
