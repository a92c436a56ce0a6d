// Package storetest holds the behaviour every store.Store implementation must
// share. Engine packages run it from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

// Suite exercises a store.Store. NewStore must return an empty store.
type Suite struct {
	suite.Suite
	NewStore func() store.Store

	st  store.Store
	ctx context.Context
	now time.Time
}

func (s *Suite) SetupTest() {
	s.st = s.NewStore()
	s.ctx = context.Background()
	s.now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.st.Close())
}

func (s *Suite) refund(hotelID string) *models.RefundRequest {
	r := &models.RefundRequest{
		ID:        uuid.NewString(),
		RequestNo: "RR" + uuid.NewString()[:8],
		Order: models.Order{
			OrderID:    uuid.NewString(),
			OrderNo:    "ORD-1",
			HotelID:    hotelID,
			HotelName:  "Seaside",
			GuestName:  "Guest",
			GuestPhone: "13800000000",
			ActualPaid: decimal.NewFromInt(1580),
			Currency:   "CNY",
		},
		RefundRatio: 80,
		Reason:      "room not as described",
		Evidence:    []string{"https://cdn.example.com/1.jpg"},
		Status:      models.StatusPendingMerchant,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	s.Require().NoError(r.Recompute())
	return r
}

func (s *Suite) arbitrator(hotelID string, i int) *models.Arbitrator {
	return &models.Arbitrator{
		ID:        uuid.NewString(),
		HotelID:   hotelID,
		HotelName: "Seaside",
		Name:      fmt.Sprintf("Member %d", i),
		Phone:     fmt.Sprintf("1390000000%d", i),
		IsActive:  true,
		CreatedAt: s.now.Add(time.Duration(i) * time.Second),
		UpdatedAt: s.now,
	}
}

func (s *Suite) write(fn func(tx store.Tx) error) error {
	return s.st.WithinTx(s.ctx, func(_ context.Context, tx store.Tx) error { return fn(tx) })
}

func (s *Suite) read(fn func(tx store.Tx) error) {
	s.Require().NoError(s.st.View(s.ctx, func(_ context.Context, tx store.Tx) error { return fn(tx) }))
}

func (s *Suite) TestRefundRoundTrip() {
	r := s.refund("h1")
	counter := 50
	r.CounterRatio = &counter
	r.Status = models.StatusNegotiating
	s.Require().NoError(s.write(func(tx store.Tx) error { return tx.Refunds().Create(s.ctx, r) }))

	s.read(func(tx store.Tx) error {
		got, err := tx.Refunds().Get(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(r.RequestNo, got.RequestNo)
		s.True(decimal.NewFromInt(1264).Equal(got.RefundAmount), "got %s", got.RefundAmount)
		s.True(r.ActualPaid.Equal(got.ActualPaid))
		s.Equal(r.Evidence, got.Evidence)
		s.Require().NotNil(got.CounterRatio)
		s.Equal(50, *got.CounterRatio)
		s.Nil(got.ArbitrationID)
		s.True(r.CreatedAt.Equal(got.CreatedAt))
		return nil
	})
}

func (s *Suite) TestRefundGetMissing() {
	s.read(func(tx store.Tx) error {
		_, err := tx.Refunds().Get(s.ctx, "missing")
		s.ErrorIs(err, models.ErrNotFound)
		return nil
	})
}

func (s *Suite) TestRefundRejectsDriftedAmount() {
	r := s.refund("h1")
	r.RefundAmount = decimal.NewFromInt(1500)
	err := s.write(func(tx store.Tx) error { return tx.Refunds().Create(s.ctx, r) })
	s.ErrorIs(err, models.ErrInvalidAmount)
}

func (s *Suite) TestFailedTransactionLeavesNoState() {
	r := s.refund("h1")
	boom := errors.New("boom")
	err := s.write(func(tx store.Tx) error {
		if err := tx.Refunds().Create(s.ctx, r); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	s.read(func(tx store.Tx) error {
		_, err := tx.Refunds().Get(s.ctx, r.ID)
		s.ErrorIs(err, models.ErrNotFound)
		return nil
	})
}

func (s *Suite) TestRefundListFilters() {
	a := s.refund("h1")
	b := s.refund("h1")
	b.CreatedAt = s.now.Add(time.Minute)
	c := s.refund("h2")
	s.Require().NoError(s.write(func(tx store.Tx) error {
		for _, r := range []*models.RefundRequest{a, b, c} {
			if err := tx.Refunds().Create(s.ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	s.read(func(tx store.Tx) error {
		got, err := tx.Refunds().List(s.ctx, store.RefundFilter{HotelID: "h1"})
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(a.ID, got[0].ID)
		s.Equal(b.ID, got[1].ID)

		got, err = tx.Refunds().List(s.ctx, store.RefundFilter{HotelID: "h1", Limit: 1, Offset: 1})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(b.ID, got[0].ID)

		got, err = tx.Refunds().List(s.ctx, store.RefundFilter{Status: models.StatusCompleted})
		s.Require().NoError(err)
		s.Empty(got)
		return nil
	})
}

func (s *Suite) TestArbitratorPhoneUniquePerHotel() {
	a := s.arbitrator("h1", 1)
	s.Require().NoError(s.write(func(tx store.Tx) error { return tx.Arbitrators().Create(s.ctx, a) }))

	dup := s.arbitrator("h1", 1)
	err := s.write(func(tx store.Tx) error { return tx.Arbitrators().Create(s.ctx, dup) })
	s.ErrorIs(err, models.ErrDuplicatePhone)

	other := s.arbitrator("h2", 1)
	s.NoError(s.write(func(tx store.Tx) error { return tx.Arbitrators().Create(s.ctx, other) }))

	s.read(func(tx store.Tx) error {
		found, err := tx.Arbitrators().FindByPhone(s.ctx, "h1", a.Phone)
		s.Require().NoError(err)
		s.Equal(a.ID, found.ID)
		return nil
	})
}

func (s *Suite) TestArbitratorListOrderAndActiveFilter() {
	var ids []string
	s.Require().NoError(s.write(func(tx store.Tx) error {
		for i := 0; i < 3; i++ {
			a := s.arbitrator("h1", i)
			a.IsActive = i != 1
			ids = append(ids, a.ID)
			if err := tx.Arbitrators().Create(s.ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))

	s.read(func(tx store.Tx) error {
		all, err := tx.Arbitrators().ListByHotel(s.ctx, "h1", false)
		s.Require().NoError(err)
		s.Require().Len(all, 3)
		s.Equal(ids[0], all[0].ID)

		active, err := tx.Arbitrators().ListByHotel(s.ctx, "h1", true)
		s.Require().NoError(err)
		s.Len(active, 2)
		for _, a := range active {
			s.True(a.IsActive)
		}
		return nil
	})

	s.Require().NoError(s.write(func(tx store.Tx) error { return tx.Arbitrators().Delete(s.ctx, ids[1]) }))
	err := s.write(func(tx store.Tx) error { return tx.Arbitrators().Delete(s.ctx, ids[1]) })
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *Suite) newCase(r *models.RefundRequest, members []*models.Arbitrator) *models.ArbitrationCase {
	c := &models.ArbitrationCase{
		ID:              uuid.NewString(),
		CaseNo:          "AC" + uuid.NewString()[:8],
		RefundRequestID: r.ID,
		HotelID:         r.HotelID,
		HotelName:       r.HotelName,
		Snapshot: models.CaseSnapshot{
			OrderNo:      r.OrderNo,
			GuestName:    r.GuestName,
			ActualPaid:   r.ActualPaid,
			RefundRatio:  r.RefundRatio,
			RefundAmount: r.RefundAmount,
			Reason:       r.Reason,
		},
		Status:    models.CaseVoting,
		Policy:    models.PolicyMajority,
		CreatedAt: s.now,
	}
	for _, m := range members {
		c.Votes = append(c.Votes, models.ArbitrationVote{ArbitratorID: m.ID, ArbitratorName: m.Name, Decision: models.VotePending})
	}
	c.Tally()
	return c
}

func (s *Suite) seedCase() (*models.RefundRequest, []*models.Arbitrator, *models.ArbitrationCase) {
	r := s.refund("h1")
	var members []*models.Arbitrator
	for i := 0; i < models.CommitteeSize; i++ {
		members = append(members, s.arbitrator("h1", i))
	}
	c := s.newCase(r, members)
	r.Status = models.StatusArbitrating
	r.ArbitrationID = &c.ID
	s.Require().NoError(s.write(func(tx store.Tx) error {
		for _, m := range members {
			if err := tx.Arbitrators().Create(s.ctx, m); err != nil {
				return err
			}
		}
		if err := tx.Refunds().Create(s.ctx, r); err != nil {
			return err
		}
		return tx.Cases().Create(s.ctx, c)
	}))
	return r, members, c
}

func (s *Suite) TestCaseVotesRoundTrip() {
	r, members, c := s.seedCase()

	s.read(func(tx store.Tx) error {
		got, err := tx.Cases().Get(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Require().Len(got.Votes, models.CommitteeSize)
		for i, v := range got.Votes {
			s.Equal(members[i].ID, v.ArbitratorID, "vote order follows the roster snapshot")
			s.Equal(models.VotePending, v.Decision)
		}
		s.Equal(models.CommitteeSize, got.PendingCount)

		byReq, err := tx.Cases().GetByRefundRequest(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(c.ID, byReq.ID)

		voted, err := tx.Cases().HasVotesBy(s.ctx, members[0].ID)
		s.Require().NoError(err)
		s.False(voted)
		return nil
	})

	votedAt := s.now.Add(time.Hour)
	s.Require().NoError(s.write(func(tx store.Tx) error {
		got, err := tx.Cases().Get(s.ctx, c.ID)
		if err != nil {
			return err
		}
		v := got.VoteFor(members[0].ID)
		v.Decision = models.VoteSupport
		v.VotedAt = &votedAt
		v.Comment = "photos are convincing"
		got.Tally()
		return tx.Cases().Update(s.ctx, got)
	}))

	s.read(func(tx store.Tx) error {
		got, err := tx.Cases().Get(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(1, got.SupportCount)
		s.Equal(models.CommitteeSize-1, got.PendingCount)
		v := got.VoteFor(members[0].ID)
		s.Require().NotNil(v.VotedAt)
		s.True(votedAt.Equal(*v.VotedAt))
		s.Equal("photos are convincing", v.Comment)

		voted, err := tx.Cases().HasVotesBy(s.ctx, members[0].ID)
		s.Require().NoError(err)
		s.True(voted)

		list, err := tx.Cases().List(s.ctx, store.CaseFilter{HotelID: "h1", Status: models.CaseVoting})
		s.Require().NoError(err)
		s.Len(list, 1)
		return nil
	})
}

func (s *Suite) TestSecondCaseForRequestIsRejected() {
	r, members, _ := s.seedCase()
	dup := s.newCase(r, members)
	err := s.write(func(tx store.Tx) error { return tx.Cases().Create(s.ctx, dup) })
	s.ErrorIs(err, models.ErrAlreadyEscalated)
}

func (s *Suite) TestCaseRejectsInconsistentCounters() {
	_, _, c := s.seedCase()
	err := s.write(func(tx store.Tx) error {
		got, err := tx.Cases().Get(s.ctx, c.ID)
		if err != nil {
			return err
		}
		got.SupportCount = 4
		return tx.Cases().Update(s.ctx, got)
	})
	s.Error(err)
}

func (s *Suite) TestTransitionsAppendInOrder() {
	r := s.refund("h1")
	s.Require().NoError(s.write(func(tx store.Tx) error {
		if err := tx.Refunds().Create(s.ctx, r); err != nil {
			return err
		}
		for i, to := range []models.RefundStatus{models.StatusPendingMerchant, models.StatusNegotiating} {
			t := &models.StateTransition{
				ID:              uuid.NewString(),
				RefundRequestID: r.ID,
				Seq:             i + 1,
				ToStatus:        to,
				Event:           models.EventSubmitted,
				Actor:           "guest",
				PrevHash:        fmt.Sprintf("prev-%d", i),
				Hash:            fmt.Sprintf("hash-%d", i),
				CreatedAt:       s.now.Add(time.Duration(i) * time.Second),
			}
			if err := tx.Transitions().Append(s.ctx, t); err != nil {
				return err
			}
		}
		return nil
	}))

	s.read(func(tx store.Tx) error {
		latest, err := tx.Transitions().Latest(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Require().NotNil(latest)
		s.Equal(2, latest.Seq)
		s.Equal(models.StatusNegotiating, latest.ToStatus)

		history, err := tx.Transitions().History(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Len(history, 2)

		none, err := tx.Transitions().Latest(s.ctx, "other")
		s.Require().NoError(err)
		s.Nil(none)
		return nil
	})

	err := s.write(func(tx store.Tx) error {
		return tx.Transitions().Append(s.ctx, &models.StateTransition{
			ID: uuid.NewString(), RefundRequestID: r.ID, Seq: 2, CreatedAt: s.now,
		})
	})
	s.Error(err, "sequence numbers are unique per request")
}

func (s *Suite) TestOutboxLifecycle() {
	payload, err := json.Marshal(map[string]string{"refund_request_id": "r1"})
	s.Require().NoError(err)
	first := &models.OutboxEvent{ID: uuid.NewString(), AggregateID: "r1", Type: models.EventRefundApproved, Payload: payload, CreatedAt: s.now}
	second := &models.OutboxEvent{ID: uuid.NewString(), AggregateID: "r2", Type: models.EventRefundApproved, Payload: payload, CreatedAt: s.now.Add(time.Second)}
	s.Require().NoError(s.write(func(tx store.Tx) error {
		if err := tx.Outbox().Enqueue(s.ctx, first); err != nil {
			return err
		}
		return tx.Outbox().Enqueue(s.ctx, second)
	}))

	s.Require().NoError(s.write(func(tx store.Tx) error {
		if err := tx.Outbox().MarkFailed(s.ctx, second.ID, "broker down"); err != nil {
			return err
		}
		return tx.Outbox().MarkDispatched(s.ctx, first.ID, s.now.Add(time.Minute))
	}))

	s.read(func(tx store.Tx) error {
		pending, err := tx.Outbox().Pending(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(second.ID, pending[0].ID)
		s.Equal(1, pending[0].Attempts)
		s.Equal("broker down", pending[0].LastError)
		s.JSONEq(string(payload), string(pending[0].Payload))
		return nil
	})
}
