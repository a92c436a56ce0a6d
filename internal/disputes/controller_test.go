package disputes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
	"github.com/example/hotel-refunds/internal/store/memory"
)

// stubOpener records escalations and creates a minimal case.
type stubOpener struct {
	calls int
	err   error
}

func (o *stubOpener) CreateCase(ctx context.Context, tx store.Tx, req *models.RefundRequest) (*models.ArbitrationCase, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	ac := &models.ArbitrationCase{
		ID:              "case-" + req.ID,
		CaseNo:          "AC1",
		RefundRequestID: req.ID,
		HotelID:         req.HotelID,
		Status:          models.CaseVoting,
		Policy:          models.PolicyMajority,
	}
	for i := 0; i < models.CommitteeSize; i++ {
		ac.Votes = append(ac.Votes, models.ArbitrationVote{
			ArbitratorID: "arb-" + string(rune('a'+i)),
			Decision:     models.VotePending,
		})
	}
	ac.Tally()
	return ac, tx.Cases().Create(ctx, ac)
}

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 123456789, time.UTC)

func newController(t *testing.T) (*Controller, *memory.Store, *stubOpener) {
	t.Helper()
	st := memory.New()
	opener := &stubOpener{}
	c := NewController(st, opener, idgen.MustNew(1), nil).WithClock(func() time.Time { return fixedNow })
	return c, st, opener
}

func newRequest(id string) *models.RefundRequest {
	req := &models.RefundRequest{
		ID:        id,
		RequestNo: "RR" + id,
		Order: models.Order{
			OrderID:    "order-" + id,
			OrderNo:    "NO-" + id,
			HotelID:    "hotel-1",
			HotelName:  "Lakeside",
			GuestName:  "Guest",
			ActualPaid: decimal.RequireFromString("500.00"),
			Currency:   "CNY",
		},
		RefundRatio: 60,
		Reason:      "room was not cleaned",
		Status:      models.StatusPendingMerchant,
		CreatedAt:   fixedNow.Truncate(time.Microsecond),
		UpdatedAt:   fixedNow.Truncate(time.Microsecond),
	}
	if err := req.Recompute(); err != nil {
		panic(err)
	}
	return req
}

func open(t *testing.T, c *Controller, st store.Store, id string) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return c.Open(ctx, tx, newRequest(id), ActorGuest)
	})
	require.NoError(t, err)
}

func fire(c *Controller, st store.Store, id string, event models.Event, actor string) error {
	return st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		req, err := tx.Refunds().Get(ctx, id)
		if err != nil {
			return err
		}
		return c.Fire(ctx, tx, req, event, actor, "")
	})
}

func load(t *testing.T, st store.Store, id string) *models.RefundRequest {
	t.Helper()
	var req *models.RefundRequest
	require.NoError(t, st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.Refunds().Get(ctx, id)
		return err
	}))
	return req
}

func pending(t *testing.T, st store.Store) []*models.OutboxEvent {
	t.Helper()
	var out []*models.OutboxEvent
	require.NoError(t, st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Outbox().Pending(ctx, 0)
		return err
	}))
	return out
}

func TestController_OpenStartsJournal(t *testing.T) {
	c, st, _ := newController(t)
	open(t, c, st, "r1")

	history, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Seq)
	assert.Equal(t, models.RefundStatus(""), history[0].FromStatus)
	assert.Equal(t, models.StatusPendingMerchant, history[0].ToStatus)
	assert.Equal(t, models.EventSubmitted, history[0].Event)

	ok, err := c.VerifyHistory(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestController_MerchantAcceptCompletesAndQueuesPayout(t *testing.T) {
	c, st, _ := newController(t)
	open(t, c, st, "r1")

	require.NoError(t, fire(c, st, "r1", models.EventMerchantAccept, ActorMerchant))

	req := load(t, st, "r1")
	assert.Equal(t, models.StatusCompleted, req.Status)
	require.NotNil(t, req.FinalDecision)
	assert.Equal(t, models.DecisionApproved, *req.FinalDecision)
	require.NotNil(t, req.ClosedAt)

	events := pending(t, st)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRefundApproved, events[0].Type)
	assert.Equal(t, "r1", events[0].AggregateID)

	var payload models.RefundApprovedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "300.00", payload.Amount)
	assert.Equal(t, "CNY", payload.Currency)
	assert.False(t, payload.ViaArbitration)
}

func TestController_RejectClosesWithoutPayout(t *testing.T) {
	c, st, _ := newController(t)
	open(t, c, st, "r1")

	require.NoError(t, fire(c, st, "r1", models.EventMerchantReject, ActorMerchant))

	req := load(t, st, "r1")
	assert.Equal(t, models.StatusRejected, req.Status)
	require.NotNil(t, req.FinalDecision)
	assert.Equal(t, models.DecisionRejected, *req.FinalDecision)
	assert.Empty(t, pending(t, st))
}

func TestController_TerminalStatesRejectEveryEvent(t *testing.T) {
	c, st, _ := newController(t)
	open(t, c, st, "r1")
	require.NoError(t, fire(c, st, "r1", models.EventGuestWithdraw, ActorGuest))

	events := []models.Event{
		models.EventMerchantAccept, models.EventMerchantReject, models.EventMerchantCounter,
		models.EventGuestEscalate, models.EventCaseApproved, models.EventGuestWithdraw,
	}
	for _, e := range events {
		err := fire(c, st, "r1", e, ActorGuest)
		assert.ErrorIs(t, err, models.ErrInvalidTransition, "event %s", e)
	}

	history, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, models.StatusUserWithdrawn, load(t, st, "r1").Status)
}

func TestController_EscalationOpensOneCase(t *testing.T) {
	c, st, opener := newController(t)
	open(t, c, st, "r1")
	require.NoError(t, fire(c, st, "r1", models.EventMerchantCounter, ActorMerchant))
	require.NoError(t, fire(c, st, "r1", models.EventGuestEscalate, ActorGuest))

	req := load(t, st, "r1")
	assert.Equal(t, models.StatusArbitrating, req.Status)
	require.NotNil(t, req.ArbitrationID)
	assert.Equal(t, "case-r1", *req.ArbitrationID)
	require.NotNil(t, req.EscalatedAt)
	assert.Equal(t, 1, opener.calls)

	err := fire(c, st, "r1", models.EventGuestEscalate, ActorGuest)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 1, opener.calls)
}

func TestController_FailedEscalationLeavesNoState(t *testing.T) {
	c, st, opener := newController(t)
	open(t, c, st, "r1")
	opener.err = models.Errorf(models.KindIncompleteRoster, "roster has only 3 active arbitrators, need 7")

	err := fire(c, st, "r1", models.EventMerchantRejectEscalated, ActorMerchant)
	assert.ErrorIs(t, err, models.ErrIncompleteRoster)

	req := load(t, st, "r1")
	assert.Equal(t, models.StatusPendingMerchant, req.Status)
	assert.Nil(t, req.ArbitrationID)
	history, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestController_ApplyArbitrationResult(t *testing.T) {
	c, st, _ := newController(t)
	open(t, c, st, "r1")
	require.NoError(t, fire(c, st, "r1", models.EventMerchantRejectEscalated, ActorMerchant))

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return c.ApplyArbitrationResult(ctx, tx, "r1", "some-other-case", models.DecisionApproved)
	})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return c.ApplyArbitrationResult(ctx, tx, "r1", "case-r1", models.DecisionApproved)
	})
	require.NoError(t, err)

	req := load(t, st, "r1")
	assert.Equal(t, models.StatusCompleted, req.Status)
	events := pending(t, st)
	require.Len(t, events, 1)
	var payload models.RefundApprovedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.True(t, payload.ViaArbitration)

	history, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ActorArbitration, history[2].Actor)
	assert.Equal(t, models.EventCaseApproved, history[2].Event)
}

func TestController_VerifyHistoryDetectsTampering(t *testing.T) {
	c, st, _ := newController(t)
	open(t, c, st, "r1")
	require.NoError(t, fire(c, st, "r1", models.EventMerchantCounter, ActorMerchant))
	require.NoError(t, fire(c, st, "r1", models.EventGuestAcceptCounter, ActorGuest))

	ok, err := c.VerifyHistory(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	history, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	prev := history[1].PrevHash
	history[1].Actor = "someone-else"
	assert.NotEqual(t, history[1].Hash, transitionHash(history[1]))
	assert.Equal(t, history[0].Hash, prev)
}

func TestController_HistoryUnknownRequest(t *testing.T) {
	c, _, _ := newController(t)
	_, err := c.History(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestController_Check(t *testing.T) {
	c, _, _ := newController(t)
	req := newRequest("r1")
	assert.NoError(t, c.Check(req, models.EventMerchantCounter))

	err := c.Check(req, models.EventCaseApproved)
	var te *models.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.StatusPendingMerchant, te.From)
	assert.Equal(t, models.EventCaseApproved, te.Event)
}
