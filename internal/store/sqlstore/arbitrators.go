package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/hotel-refunds/internal/models"
)

const arbitratorColumns = `id, hotel_id, hotel_name, name, phone, is_active, created_at, updated_at`

type arbitratorRepo struct{ tx *Tx }

func (r *arbitratorRepo) Create(ctx context.Context, a *models.Arbitrator) error {
	_, err := r.tx.exec(ctx, `
		INSERT INTO arbitrators (`+arbitratorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.HotelID, a.HotelName, a.Name, a.Phone, a.IsActive, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		if r.tx.d.unique(err) {
			return models.Errorf(models.KindDuplicatePhone, "phone %s is already on the roster of hotel %s", a.Phone, a.HotelID)
		}
		return fmt.Errorf("failed to insert arbitrator: %w", err)
	}
	return nil
}

func (r *arbitratorRepo) Get(ctx context.Context, id string) (*models.Arbitrator, error) {
	row := r.tx.queryRow(ctx, r.tx.forUpdate(`SELECT `+arbitratorColumns+` FROM arbitrators WHERE id = ?`), id)
	a, err := scanArbitrator(row)
	if errors.Is(err, ErrNoRows) {
		return nil, models.NotFoundf("arbitrator", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get arbitrator: %w", err)
	}
	return a, nil
}

func (r *arbitratorRepo) Update(ctx context.Context, a *models.Arbitrator) error {
	n, err := r.tx.exec(ctx, `
		UPDATE arbitrators SET hotel_name = ?, name = ?, phone = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		a.HotelName, a.Name, a.Phone, a.IsActive, a.UpdatedAt.UTC(), a.ID,
	)
	if err != nil {
		if r.tx.d.unique(err) {
			return models.Errorf(models.KindDuplicatePhone, "phone %s is already on the roster of hotel %s", a.Phone, a.HotelID)
		}
		return fmt.Errorf("failed to update arbitrator: %w", err)
	}
	if n == 0 {
		return models.NotFoundf("arbitrator", a.ID)
	}
	return nil
}

func (r *arbitratorRepo) Delete(ctx context.Context, id string) error {
	n, err := r.tx.exec(ctx, `DELETE FROM arbitrators WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete arbitrator: %w", err)
	}
	if n == 0 {
		return models.NotFoundf("arbitrator", id)
	}
	return nil
}

func (r *arbitratorRepo) ListByHotel(ctx context.Context, hotelID string, activeOnly bool) ([]*models.Arbitrator, error) {
	query := `SELECT ` + arbitratorColumns + ` FROM arbitrators WHERE hotel_id = ?`
	args := []any{hotelID}
	if activeOnly {
		query += " AND is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY created_at, id"

	rows, err := r.tx.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list arbitrators: %w", err)
	}
	defer rows.Close()

	var out []*models.Arbitrator
	for rows.Next() {
		a, err := scanArbitrator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan arbitrator: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *arbitratorRepo) FindByPhone(ctx context.Context, hotelID, phone string) (*models.Arbitrator, error) {
	row := r.tx.queryRow(ctx, `SELECT `+arbitratorColumns+` FROM arbitrators WHERE hotel_id = ? AND phone = ?`, hotelID, phone)
	a, err := scanArbitrator(row)
	if errors.Is(err, ErrNoRows) {
		return nil, models.NotFoundf("arbitrator with phone", phone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find arbitrator: %w", err)
	}
	return a, nil
}

func scanArbitrator(row Row) (*models.Arbitrator, error) {
	var a models.Arbitrator
	if err := row.Scan(&a.ID, &a.HotelID, &a.HotelName, &a.Name, &a.Phone, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
