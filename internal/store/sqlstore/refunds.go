package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

const refundColumns = `id, request_no, order_id, order_no, hotel_id, hotel_name, guest_name, guest_phone,
	actual_paid_minor, currency, refund_ratio, refund_amount_minor, counter_ratio,
	reason, evidence, merchant_response, merchant_response_time,
	status, arbitration_id, final_decision,
	created_at, updated_at, escalated_at, closed_at`

type refundRepo struct{ tx *Tx }

func (r *refundRepo) Create(ctx context.Context, req *models.RefundRequest) error {
	if err := req.CheckInvariants(); err != nil {
		return err
	}
	evidence, err := json.Marshal(nonNil(req.Evidence))
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	_, err = r.tx.exec(ctx, `
		INSERT INTO refund_requests (`+refundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RequestNo, req.OrderID, req.OrderNo, req.HotelID, req.HotelName, req.GuestName, req.GuestPhone,
		models.ToMinor(req.ActualPaid), req.Currency, req.RefundRatio, models.ToMinor(req.RefundAmount), intOrNil(req.CounterRatio),
		req.Reason, string(evidence), req.MerchantResponse, timeOrNil(req.MerchantResponseTime),
		string(req.Status), stringOrNil(req.ArbitrationID), decisionOrNil(req.FinalDecision),
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(), timeOrNil(req.EscalatedAt), timeOrNil(req.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert refund request: %w", err)
	}
	return nil
}

func (r *refundRepo) Get(ctx context.Context, id string) (*models.RefundRequest, error) {
	row := r.tx.queryRow(ctx, r.tx.forUpdate(`SELECT `+refundColumns+` FROM refund_requests WHERE id = ?`), id)
	req, err := scanRefund(row)
	if errors.Is(err, ErrNoRows) {
		return nil, models.NotFoundf("refund request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund request: %w", err)
	}
	return req, nil
}

func (r *refundRepo) Update(ctx context.Context, req *models.RefundRequest) error {
	if err := req.CheckInvariants(); err != nil {
		return err
	}
	evidence, err := json.Marshal(nonNil(req.Evidence))
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	n, err := r.tx.exec(ctx, `
		UPDATE refund_requests SET
			refund_ratio = ?, refund_amount_minor = ?, counter_ratio = ?,
			reason = ?, evidence = ?, merchant_response = ?, merchant_response_time = ?,
			status = ?, arbitration_id = ?, final_decision = ?,
			updated_at = ?, escalated_at = ?, closed_at = ?
		WHERE id = ?`,
		req.RefundRatio, models.ToMinor(req.RefundAmount), intOrNil(req.CounterRatio),
		req.Reason, string(evidence), req.MerchantResponse, timeOrNil(req.MerchantResponseTime),
		string(req.Status), stringOrNil(req.ArbitrationID), decisionOrNil(req.FinalDecision),
		req.UpdatedAt.UTC(), timeOrNil(req.EscalatedAt), timeOrNil(req.ClosedAt),
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund request: %w", err)
	}
	if n == 0 {
		return models.NotFoundf("refund request", req.ID)
	}
	return nil
}

func (r *refundRepo) List(ctx context.Context, f store.RefundFilter) ([]*models.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE 1 = 1`
	var args []any
	if f.HotelID != "" {
		query += " AND hotel_id = ?"
		args = append(args, f.HotelID)
	}
	if f.OrderID != "" {
		query += " AND order_id = ?"
		args = append(args, f.OrderID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at, id"
	query, args = limitOffset(query, args, f.Limit, f.Offset)

	rows, err := r.tx.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund requests: %w", err)
	}
	defer rows.Close()

	var out []*models.RefundRequest
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRefund(row Row) (*models.RefundRequest, error) {
	var (
		req                     models.RefundRequest
		paidMinor, amountMinor  int64
		counter                 sql.NullInt64
		evidence                string
		responseTime, escalated sql.NullTime
		closed                  sql.NullTime
		status                  string
		arbitrationID, decision sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.RequestNo, &req.OrderID, &req.OrderNo, &req.HotelID, &req.HotelName, &req.GuestName, &req.GuestPhone,
		&paidMinor, &req.Currency, &req.RefundRatio, &amountMinor, &counter,
		&req.Reason, &evidence, &req.MerchantResponse, &responseTime,
		&status, &arbitrationID, &decision,
		&req.CreatedAt, &req.UpdatedAt, &escalated, &closed,
	)
	if err != nil {
		return nil, err
	}
	req.ActualPaid = models.FromMinor(paidMinor)
	req.RefundAmount = models.FromMinor(amountMinor)
	req.Status = models.RefundStatus(status)
	if counter.Valid {
		v := int(counter.Int64)
		req.CounterRatio = &v
	}
	if err := json.Unmarshal([]byte(evidence), &req.Evidence); err != nil {
		return nil, fmt.Errorf("failed to decode evidence: %w", err)
	}
	req.MerchantResponseTime = timePtr(responseTime)
	req.EscalatedAt = timePtr(escalated)
	req.ClosedAt = timePtr(closed)
	if arbitrationID.Valid {
		req.ArbitrationID = &arbitrationID.String
	}
	if decision.Valid {
		d := models.FinalDecision(decision.String)
		req.FinalDecision = &d
	}
	if err := req.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("stored refund request %s is inconsistent: %w", req.ID, err)
	}
	return &req, nil
}
