// Package store defines the persistence boundary of the dispute service. Every
// mutation runs inside Store.WithinTx so that a vote, the case resolution it
// triggers, the parent refund request update, the journal entry and the
// outbox event commit together or not at all.
package store

import (
	"context"
	"time"

	"github.com/example/hotel-refunds/internal/models"
)

// Store is a transactional unit of work over the repositories.
type Store interface {
	// WithinTx runs fn in a read-write transaction. Implementations retry fn
	// on serialization or lock conflicts; business errors returned by fn are
	// never retried.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Refunds() RefundRequestRepository
	Arbitrators() ArbitratorRepository
	Cases() ArbitrationCaseRepository
	Transitions() TransitionRepository
	Outbox() OutboxRepository
}

// RefundFilter selects refund requests.
type RefundFilter struct {
	HotelID string
	OrderID string
	Status  models.RefundStatus
	Limit   int
	Offset  int
}

// RefundRequestRepository persists refund requests.
type RefundRequestRepository interface {
	Create(ctx context.Context, r *models.RefundRequest) error
	// Get returns models.ErrNotFound when the id is unknown. Inside WithinTx
	// the row is locked for the rest of the transaction where the engine
	// supports it.
	Get(ctx context.Context, id string) (*models.RefundRequest, error)
	Update(ctx context.Context, r *models.RefundRequest) error
	List(ctx context.Context, filter RefundFilter) ([]*models.RefundRequest, error)
}

// ArbitratorRepository persists hotel rosters.
type ArbitratorRepository interface {
	Create(ctx context.Context, a *models.Arbitrator) error
	Get(ctx context.Context, id string) (*models.Arbitrator, error)
	Update(ctx context.Context, a *models.Arbitrator) error
	Delete(ctx context.Context, id string) error
	// ListByHotel returns the roster ordered by creation time.
	ListByHotel(ctx context.Context, hotelID string, activeOnly bool) ([]*models.Arbitrator, error)
	// FindByPhone returns models.ErrNotFound when no member of the hotel uses phone.
	FindByPhone(ctx context.Context, hotelID, phone string) (*models.Arbitrator, error)
}

// CaseFilter selects arbitration cases.
type CaseFilter struct {
	HotelID string
	Status  models.CaseStatus
	Limit   int
	Offset  int
}

// ArbitrationCaseRepository persists cases together with their votes.
type ArbitrationCaseRepository interface {
	Create(ctx context.Context, c *models.ArbitrationCase) error
	Get(ctx context.Context, id string) (*models.ArbitrationCase, error)
	GetByRefundRequest(ctx context.Context, refundRequestID string) (*models.ArbitrationCase, error)
	Update(ctx context.Context, c *models.ArbitrationCase) error
	List(ctx context.Context, filter CaseFilter) ([]*models.ArbitrationCase, error)
	// HasVotesBy reports whether the arbitrator cast a vote in any case.
	HasVotesBy(ctx context.Context, arbitratorID string) (bool, error)
}

// TransitionRepository is the append-only refund journal.
type TransitionRepository interface {
	Append(ctx context.Context, t *models.StateTransition) error
	// Latest returns nil, nil for a request without history.
	Latest(ctx context.Context, refundRequestID string) (*models.StateTransition, error)
	History(ctx context.Context, refundRequestID string) ([]*models.StateTransition, error)
}

// OutboxRepository stores events for external collaborators.
type OutboxRepository interface {
	Enqueue(ctx context.Context, e *models.OutboxEvent) error
	// Pending returns undelivered events, oldest first.
	Pending(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}
