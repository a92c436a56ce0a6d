package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/hotel-refunds/internal/models"
)

const transitionColumns = `id, refund_request_id, seq, from_status, to_status, event, actor, reason, prev_hash, hash, created_at`

type transitionRepo struct{ tx *Tx }

func (r *transitionRepo) Append(ctx context.Context, t *models.StateTransition) error {
	_, err := r.tx.exec(ctx, `
		INSERT INTO refund_transitions (`+transitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RefundRequestID, t.Seq, string(t.FromStatus), string(t.ToStatus), string(t.Event),
		t.Actor, t.Reason, t.PrevHash, t.Hash, t.CreatedAt.UTC(),
	)
	if err != nil {
		if r.tx.d.unique(err) {
			return fmt.Errorf("transition seq %d for refund request %s already recorded: %w", t.Seq, t.RefundRequestID, err)
		}
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (r *transitionRepo) Latest(ctx context.Context, refundRequestID string) (*models.StateTransition, error) {
	row := r.tx.queryRow(ctx, `
		SELECT `+transitionColumns+` FROM refund_transitions
		WHERE refund_request_id = ? ORDER BY seq DESC LIMIT 1`, refundRequestID)
	t, err := scanTransition(row)
	if errors.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest transition: %w", err)
	}
	return t, nil
}

func (r *transitionRepo) History(ctx context.Context, refundRequestID string) ([]*models.StateTransition, error) {
	rows, err := r.tx.query(ctx, `
		SELECT `+transitionColumns+` FROM refund_transitions
		WHERE refund_request_id = ? ORDER BY seq`, refundRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []*models.StateTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransition(row Row) (*models.StateTransition, error) {
	var (
		t               models.StateTransition
		from, to, event string
	)
	err := row.Scan(&t.ID, &t.RefundRequestID, &t.Seq, &from, &to, &event, &t.Actor, &t.Reason, &t.PrevHash, &t.Hash, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.FromStatus = models.RefundStatus(from)
	t.ToStatus = models.RefundStatus(to)
	t.Event = models.Event(event)
	return &t, nil
}

const outboxColumns = `id, aggregate_id, event_type, payload, created_at, dispatched_at, attempts, last_error`

type outboxRepo struct{ tx *Tx }

func (r *outboxRepo) Enqueue(ctx context.Context, e *models.OutboxEvent) error {
	_, err := r.tx.exec(ctx, `
		INSERT INTO refund_outbox (`+outboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AggregateID, string(e.Type), string(e.Payload), e.CreatedAt.UTC(), timeOrNil(e.DispatchedAt), e.Attempts, e.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepo) Pending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	query, args := limitOffset(`
		SELECT `+outboxColumns+` FROM refund_outbox
		WHERE dispatched_at IS NULL ORDER BY created_at, id`, nil, limit, 0)
	rows, err := r.tx.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxEvent
	for rows.Next() {
		var (
			e          models.OutboxEvent
			eventType  string
			payload    string
			dispatched sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &eventType, &payload, &e.CreatedAt, &dispatched, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Type = models.OutboxEventType(eventType)
		e.Payload = []byte(payload)
		e.DispatchedAt = timePtr(dispatched)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *outboxRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	n, err := r.tx.exec(ctx, `
		UPDATE refund_outbox SET dispatched_at = ?, attempts = attempts + 1, last_error = ''
		WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event dispatched: %w", err)
	}
	if n == 0 {
		return models.NotFoundf("outbox event", id)
	}
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	n, err := r.tx.exec(ctx, `
		UPDATE refund_outbox SET attempts = attempts + 1, last_error = ?
		WHERE id = ?`, lastErr, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	if n == 0 {
		return models.NotFoundf("outbox event", id)
	}
	return nil
}
