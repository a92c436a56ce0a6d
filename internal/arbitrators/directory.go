// Package arbitrators maintains each hotel's arbitration committee roster.
package arbitrators

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

// AddRequest registers a new committee member.
type AddRequest struct {
	HotelID   string `json:"hotel_id"`
	HotelName string `json:"hotel_name"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
}

// Directory implements roster management.
type Directory struct {
	store  store.Store
	ids    *idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// NewDirectory returns a directory backed by st.
func NewDirectory(st store.Store, ids *idgen.Generator, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: st, ids: ids, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// AddArbitrator adds an active member to the hotel's roster.
func (d *Directory) AddArbitrator(ctx context.Context, in AddRequest) (*models.Arbitrator, error) {
	in.HotelID = strings.TrimSpace(in.HotelID)
	in.HotelName = strings.TrimSpace(in.HotelName)
	in.Name = strings.TrimSpace(in.Name)
	phone := models.NormalizePhone(in.Phone)
	switch {
	case in.HotelID == "":
		return nil, models.Errorf(models.KindInvalidArgument, "hotel_id must not be empty")
	case in.Name == "":
		return nil, models.Errorf(models.KindInvalidArgument, "name must not be empty")
	case phone == "" || phone == "+":
		return nil, models.Errorf(models.KindInvalidArgument, "phone %q has no digits", in.Phone)
	}

	now := d.now().UTC().Truncate(time.Microsecond)
	arb := &models.Arbitrator{
		ID:        d.ids.ID(),
		HotelID:   in.HotelID,
		HotelName: in.HotelName,
		Name:      in.Name,
		Phone:     phone,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.Arbitrators().FindByPhone(ctx, arb.HotelID, phone)
		switch {
		case err == nil:
			return models.Errorf(models.KindDuplicatePhone, "phone %s is already used by arbitrator %s of hotel %s", phone, existing.ID, arb.HotelID)
		case models.KindOf(err) != models.KindNotFound:
			return err
		}
		if err := checkRoomFor(ctx, tx, arb.HotelID); err != nil {
			return err
		}
		return tx.Arbitrators().Create(ctx, arb)
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("arbitrator_added", "arbitrator_id", arb.ID, "hotel_id", arb.HotelID)
	return arb, nil
}

// SetActive activates or deactivates a member. Setting the current state again
// is a no-op.
func (d *Directory) SetActive(ctx context.Context, id string, active bool) (*models.Arbitrator, error) {
	var out *models.Arbitrator
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		arb, err := tx.Arbitrators().Get(ctx, id)
		if err != nil {
			return err
		}
		out = arb
		if arb.IsActive == active {
			return nil
		}
		if active {
			if err := checkRoomFor(ctx, tx, arb.HotelID); err != nil {
				return err
			}
		}
		arb.IsActive = active
		arb.UpdatedAt = d.now().UTC().Truncate(time.Microsecond)
		return tx.Arbitrators().Update(ctx, arb)
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("arbitrator_active_set", "arbitrator_id", id, "active", active)
	return out, nil
}

// RemoveArbitrator deletes a member that never took part in a vote. Members
// with history must be deactivated instead.
func (d *Directory) RemoveArbitrator(ctx context.Context, id string) error {
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		arb, err := tx.Arbitrators().Get(ctx, id)
		if err != nil {
			return err
		}
		voted, err := tx.Cases().HasVotesBy(ctx, id)
		if err != nil {
			return err
		}
		if voted {
			return models.Errorf(models.KindArbitratorInUse, "arbitrator %s has cast votes; deactivate instead", id)
		}
		open, err := tx.Cases().List(ctx, store.CaseFilter{HotelID: arb.HotelID, Status: models.CaseVoting})
		if err != nil {
			return err
		}
		for _, c := range open {
			if c.VoteFor(id) != nil {
				return models.Errorf(models.KindArbitratorInUse, "arbitrator %s sits on open case %s", id, c.ID)
			}
		}
		return tx.Arbitrators().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	d.logger.Info("arbitrator_removed", "arbitrator_id", id)
	return nil
}

// Get returns one member.
func (d *Directory) Get(ctx context.Context, id string) (*models.Arbitrator, error) {
	var out *models.Arbitrator
	err := d.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Arbitrators().Get(ctx, id)
		return err
	})
	return out, err
}

// RosterFor returns every member of the hotel, active or not.
func (d *Directory) RosterFor(ctx context.Context, hotelID string) ([]*models.Arbitrator, error) {
	return d.list(ctx, hotelID, false)
}

// ActiveRosterFor returns the active members, oldest first.
func (d *Directory) ActiveRosterFor(ctx context.Context, hotelID string) ([]*models.Arbitrator, error) {
	return d.list(ctx, hotelID, true)
}

func (d *Directory) list(ctx context.Context, hotelID string, activeOnly bool) ([]*models.Arbitrator, error) {
	var out []*models.Arbitrator
	err := d.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Arbitrators().ListByHotel(ctx, hotelID, activeOnly)
		return err
	})
	return out, err
}

func checkRoomFor(ctx context.Context, tx store.Tx, hotelID string) error {
	active, err := tx.Arbitrators().ListByHotel(ctx, hotelID, true)
	if err != nil {
		return err
	}
	if len(active) >= models.CommitteeSize {
		return models.Errorf(models.KindRosterFull, "hotel %s already has %d active arbitrators", hotelID, models.CommitteeSize)
	}
	return nil
}
