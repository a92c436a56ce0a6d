// Package arbitration runs the seven-member committee vote on escalated refund
// requests.
package arbitration

import (
	"context"
	"time"

	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

// CaseFactory opens cases. It runs inside the escalating transaction, so a
// failed snapshot leaves neither a case nor a status change behind.
type CaseFactory struct {
	ids    *idgen.Generator
	policy models.ResolutionPolicy
	now    func() time.Time
}

// NewCaseFactory returns a factory stamping new cases with policy. An empty
// policy means PolicyMajority.
func NewCaseFactory(ids *idgen.Generator, policy models.ResolutionPolicy) *CaseFactory {
	if policy == "" {
		policy = models.PolicyMajority
	}
	return &CaseFactory{ids: ids, policy: policy, now: time.Now}
}

// WithClock replaces the time source.
func (f *CaseFactory) WithClock(now func() time.Time) *CaseFactory {
	f.now = now
	return f
}

// Policy returns the resolution policy applied to new cases.
func (f *CaseFactory) Policy() models.ResolutionPolicy {
	return f.policy
}

// CreateCase snapshots the hotel's active roster into a new voting case for req.
func (f *CaseFactory) CreateCase(ctx context.Context, tx store.Tx, req *models.RefundRequest) (*models.ArbitrationCase, error) {
	if req.ArbitrationID != nil {
		return nil, models.Errorf(models.KindAlreadyEscalated, "refund request %s already has case %s", req.ID, *req.ArbitrationID)
	}
	if existing, err := tx.Cases().GetByRefundRequest(ctx, req.ID); err == nil {
		return nil, models.Errorf(models.KindAlreadyEscalated, "refund request %s already has case %s", req.ID, existing.ID)
	} else if models.KindOf(err) != models.KindNotFound {
		return nil, err
	}

	roster, err := tx.Arbitrators().ListByHotel(ctx, req.HotelID, true)
	if err != nil {
		return nil, err
	}
	switch {
	case len(roster) < models.CommitteeSize:
		return nil, models.Errorf(models.KindIncompleteRoster, "roster has only %d active arbitrators, need %d", len(roster), models.CommitteeSize)
	case len(roster) > models.CommitteeSize:
		return nil, models.Errorf(models.KindRosterFull, "roster has %d active arbitrators, expected %d", len(roster), models.CommitteeSize)
	}

	votes := make([]models.ArbitrationVote, 0, models.CommitteeSize)
	for _, a := range roster {
		votes = append(votes, models.ArbitrationVote{
			ArbitratorID:   a.ID,
			ArbitratorName: a.Name,
			Decision:       models.VotePending,
		})
	}
	hotelName := req.HotelName
	if hotelName == "" {
		hotelName = roster[0].HotelName
	}
	ac := &models.ArbitrationCase{
		ID:              f.ids.ID(),
		CaseNo:          f.ids.CaseNo(),
		RefundRequestID: req.ID,
		Snapshot: models.CaseSnapshot{
			OrderNo:      req.OrderNo,
			GuestName:    req.GuestName,
			ActualPaid:   req.ActualPaid,
			RefundRatio:  req.RefundRatio,
			RefundAmount: req.RefundAmount,
			Reason:       req.Reason,
		},
		HotelID:   req.HotelID,
		HotelName: hotelName,
		Votes:     votes,
		Status:    models.CaseVoting,
		Policy:    f.policy,
		CreatedAt: f.now().UTC().Truncate(time.Microsecond),
	}
	ac.Tally()
	if err := tx.Cases().Create(ctx, ac); err != nil {
		return nil, err
	}
	return ac, nil
}
