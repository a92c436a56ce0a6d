package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

const caseColumns = `id, case_no, refund_request_id, hotel_id, hotel_name,
	order_no, guest_name, actual_paid_minor, refund_ratio, refund_amount_minor, reason,
	support_count, oppose_count, pending_count, status, final_result, policy,
	created_at, completed_at`

type caseRepo struct{ tx *Tx }

func (r *caseRepo) Create(ctx context.Context, c *models.ArbitrationCase) error {
	if err := c.CheckInvariants(); err != nil {
		return err
	}
	_, err := r.tx.exec(ctx, `
		INSERT INTO arbitration_cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CaseNo, c.RefundRequestID, c.HotelID, c.HotelName,
		c.Snapshot.OrderNo, c.Snapshot.GuestName, models.ToMinor(c.Snapshot.ActualPaid), c.Snapshot.RefundRatio,
		models.ToMinor(c.Snapshot.RefundAmount), c.Snapshot.Reason,
		c.SupportCount, c.OpposeCount, c.PendingCount, string(c.Status), decisionOrNil(c.FinalResult), string(c.Policy),
		c.CreatedAt.UTC(), timeOrNil(c.CompletedAt),
	)
	if err != nil {
		if r.tx.d.unique(err) {
			return models.Errorf(models.KindAlreadyEscalated, "refund request %s already has an arbitration case", c.RefundRequestID)
		}
		return fmt.Errorf("failed to insert arbitration case: %w", err)
	}
	for i, v := range c.Votes {
		_, err := r.tx.exec(ctx, `
			INSERT INTO arbitration_votes (case_id, arbitrator_id, position, arbitrator_name, decision, voted_at, comment)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, v.ArbitratorID, i, v.ArbitratorName, string(v.Decision), timeOrNil(v.VotedAt), v.Comment,
		)
		if err != nil {
			return fmt.Errorf("failed to insert vote slot for arbitrator %s: %w", v.ArbitratorID, err)
		}
	}
	return nil
}

func (r *caseRepo) Get(ctx context.Context, id string) (*models.ArbitrationCase, error) {
	row := r.tx.queryRow(ctx, r.tx.forUpdate(`SELECT `+caseColumns+` FROM arbitration_cases WHERE id = ?`), id)
	return r.load(ctx, row, id)
}

func (r *caseRepo) GetByRefundRequest(ctx context.Context, refundRequestID string) (*models.ArbitrationCase, error) {
	row := r.tx.queryRow(ctx, r.tx.forUpdate(`SELECT `+caseColumns+` FROM arbitration_cases WHERE refund_request_id = ?`), refundRequestID)
	return r.load(ctx, row, "for refund request "+refundRequestID)
}

func (r *caseRepo) load(ctx context.Context, row Row, ref string) (*models.ArbitrationCase, error) {
	c, err := scanCase(row)
	if errors.Is(err, ErrNoRows) {
		return nil, models.NotFoundf("arbitration case", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get arbitration case: %w", err)
	}
	if err := r.loadVotes(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *caseRepo) Update(ctx context.Context, c *models.ArbitrationCase) error {
	if err := c.CheckInvariants(); err != nil {
		return err
	}
	n, err := r.tx.exec(ctx, `
		UPDATE arbitration_cases SET
			support_count = ?, oppose_count = ?, pending_count = ?,
			status = ?, final_result = ?, completed_at = ?
		WHERE id = ?`,
		c.SupportCount, c.OpposeCount, c.PendingCount,
		string(c.Status), decisionOrNil(c.FinalResult), timeOrNil(c.CompletedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update arbitration case: %w", err)
	}
	if n == 0 {
		return models.NotFoundf("arbitration case", c.ID)
	}
	for _, v := range c.Votes {
		n, err := r.tx.exec(ctx, `
			UPDATE arbitration_votes SET decision = ?, voted_at = ?, comment = ?
			WHERE case_id = ? AND arbitrator_id = ?`,
			string(v.Decision), timeOrNil(v.VotedAt), v.Comment, c.ID, v.ArbitratorID,
		)
		if err != nil {
			return fmt.Errorf("failed to update vote of arbitrator %s: %w", v.ArbitratorID, err)
		}
		if n == 0 {
			return models.Errorf(models.KindUnknownArbitrator, "arbitrator %s is not assigned to case %s", v.ArbitratorID, c.ID)
		}
	}
	return nil
}

func (r *caseRepo) List(ctx context.Context, f store.CaseFilter) ([]*models.ArbitrationCase, error) {
	query := `SELECT ` + caseColumns + ` FROM arbitration_cases WHERE 1 = 1`
	var args []any
	if f.HotelID != "" {
		query += " AND hotel_id = ?"
		args = append(args, f.HotelID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at, id"
	query, args = limitOffset(query, args, f.Limit, f.Offset)

	rows, err := r.tx.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list arbitration cases: %w", err)
	}
	var out []*models.ArbitrationCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan arbitration case: %w", err)
		}
		out = append(out, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Votes are read after the case cursor is closed; pgx allows one open
	// result set per connection.
	for _, c := range out {
		if err := r.loadVotes(ctx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *caseRepo) HasVotesBy(ctx context.Context, arbitratorID string) (bool, error) {
	var n int64
	err := r.tx.queryRow(ctx, `
		SELECT COUNT(*) FROM arbitration_votes WHERE arbitrator_id = ? AND decision <> ?`,
		arbitratorID, string(models.VotePending),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count votes: %w", err)
	}
	return n > 0, nil
}

func (r *caseRepo) loadVotes(ctx context.Context, c *models.ArbitrationCase) error {
	rows, err := r.tx.query(ctx, `
		SELECT arbitrator_id, arbitrator_name, decision, voted_at, comment
		FROM arbitration_votes WHERE case_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load votes: %w", err)
	}
	defer rows.Close()

	c.Votes = c.Votes[:0]
	for rows.Next() {
		var (
			v        models.ArbitrationVote
			decision string
			votedAt  sql.NullTime
		)
		if err := rows.Scan(&v.ArbitratorID, &v.ArbitratorName, &decision, &votedAt, &v.Comment); err != nil {
			return fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Decision = models.VoteDecision(decision)
		v.VotedAt = timePtr(votedAt)
		c.Votes = append(c.Votes, v)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := c.CheckInvariants(); err != nil {
		return fmt.Errorf("stored arbitration case %s is inconsistent: %w", c.ID, err)
	}
	return nil
}

func scanCase(row Row) (*models.ArbitrationCase, error) {
	var (
		c                   models.ArbitrationCase
		paidMinor, amtMinor int64
		status, policy      string
		result              sql.NullString
		completed           sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.CaseNo, &c.RefundRequestID, &c.HotelID, &c.HotelName,
		&c.Snapshot.OrderNo, &c.Snapshot.GuestName, &paidMinor, &c.Snapshot.RefundRatio, &amtMinor, &c.Snapshot.Reason,
		&c.SupportCount, &c.OpposeCount, &c.PendingCount, &status, &result, &policy,
		&c.CreatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	c.Snapshot.ActualPaid = models.FromMinor(paidMinor)
	c.Snapshot.RefundAmount = models.FromMinor(amtMinor)
	c.Status = models.CaseStatus(status)
	c.Policy = models.ResolutionPolicy(policy)
	if result.Valid {
		d := models.FinalDecision(result.String)
		c.FinalResult = &d
	}
	c.CompletedAt = timePtr(completed)
	return &c, nil
}
