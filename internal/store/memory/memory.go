// Package memory is an in-process store.Store. A transaction works on a private
// copy of the data and swaps it in on success, so a failed operation leaves no
// partial state behind.
//
// Every WithinTx and View copies the whole data set, so each call costs time
// proportional to everything stored. Use it for tests and local runs only.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
)

type state struct {
	refunds     map[string]*models.RefundRequest
	arbitrators map[string]*models.Arbitrator
	cases       map[string]*models.ArbitrationCase
	transitions map[string][]*models.StateTransition
	outbox      []*models.OutboxEvent
}

func newState() *state {
	return &state{
		refunds:     make(map[string]*models.RefundRequest),
		arbitrators: make(map[string]*models.Arbitrator),
		cases:       make(map[string]*models.ArbitrationCase),
		transitions: make(map[string][]*models.StateTransition),
	}
}

func (s *state) clone() *state {
	out := newState()
	for id, r := range s.refunds {
		out.refunds[id] = r.Clone()
	}
	for id, a := range s.arbitrators {
		c := *a
		out.arbitrators[id] = &c
	}
	for id, c := range s.cases {
		out.cases[id] = c.Clone()
	}
	for id, ts := range s.transitions {
		cp := make([]*models.StateTransition, len(ts))
		for i, t := range ts {
			c := *t
			cp[i] = &c
		}
		out.transitions[id] = cp
	}
	out.outbox = make([]*models.OutboxEvent, len(s.outbox))
	for i, e := range s.outbox {
		out.outbox[i] = cloneEvent(e)
	}
	return out
}

// Store keeps all data in memory. Transactions are serialized.
type Store struct {
	mu   sync.RWMutex
	data *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &tx{data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()
	return fn(ctx, &tx{data: work})
}

func (s *Store) Close() error { return nil }

type tx struct {
	data *state
}

func (t *tx) Refunds() store.RefundRequestRepository  { return refunds{t.data} }
func (t *tx) Arbitrators() store.ArbitratorRepository { return arbitrators{t.data} }
func (t *tx) Cases() store.ArbitrationCaseRepository  { return cases{t.data} }
func (t *tx) Transitions() store.TransitionRepository { return transitions{t.data} }
func (t *tx) Outbox() store.OutboxRepository          { return outbox{t.data} }

type refunds struct{ s *state }

func (r refunds) Create(_ context.Context, req *models.RefundRequest) error {
	if err := req.CheckInvariants(); err != nil {
		return err
	}
	if _, ok := r.s.refunds[req.ID]; ok {
		return fmt.Errorf("refund request %s already exists", req.ID)
	}
	r.s.refunds[req.ID] = req.Clone()
	return nil
}

func (r refunds) Get(_ context.Context, id string) (*models.RefundRequest, error) {
	req, ok := r.s.refunds[id]
	if !ok {
		return nil, models.NotFoundf("refund request", id)
	}
	return req.Clone(), nil
}

func (r refunds) Update(_ context.Context, req *models.RefundRequest) error {
	if err := req.CheckInvariants(); err != nil {
		return err
	}
	if _, ok := r.s.refunds[req.ID]; !ok {
		return models.NotFoundf("refund request", req.ID)
	}
	r.s.refunds[req.ID] = req.Clone()
	return nil
}

func (r refunds) List(_ context.Context, f store.RefundFilter) ([]*models.RefundRequest, error) {
	var out []*models.RefundRequest
	for _, req := range r.s.refunds {
		if f.HotelID != "" && req.HotelID != f.HotelID {
			continue
		}
		if f.OrderID != "" && req.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

type arbitrators struct{ s *state }

func (a arbitrators) Create(_ context.Context, arb *models.Arbitrator) error {
	if _, ok := a.s.arbitrators[arb.ID]; ok {
		return fmt.Errorf("arbitrator %s already exists", arb.ID)
	}
	for _, other := range a.s.arbitrators {
		if other.HotelID == arb.HotelID && other.Phone == arb.Phone {
			return models.Errorf(models.KindDuplicatePhone, "phone %s is already on the roster of hotel %s", arb.Phone, arb.HotelID)
		}
	}
	c := *arb
	a.s.arbitrators[arb.ID] = &c
	return nil
}

func (a arbitrators) Get(_ context.Context, id string) (*models.Arbitrator, error) {
	arb, ok := a.s.arbitrators[id]
	if !ok {
		return nil, models.NotFoundf("arbitrator", id)
	}
	c := *arb
	return &c, nil
}

func (a arbitrators) Update(_ context.Context, arb *models.Arbitrator) error {
	if _, ok := a.s.arbitrators[arb.ID]; !ok {
		return models.NotFoundf("arbitrator", arb.ID)
	}
	c := *arb
	a.s.arbitrators[arb.ID] = &c
	return nil
}

func (a arbitrators) Delete(_ context.Context, id string) error {
	if _, ok := a.s.arbitrators[id]; !ok {
		return models.NotFoundf("arbitrator", id)
	}
	delete(a.s.arbitrators, id)
	return nil
}

func (a arbitrators) ListByHotel(_ context.Context, hotelID string, activeOnly bool) ([]*models.Arbitrator, error) {
	var out []*models.Arbitrator
	for _, arb := range a.s.arbitrators {
		if arb.HotelID != hotelID || (activeOnly && !arb.IsActive) {
			continue
		}
		c := *arb
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (a arbitrators) FindByPhone(_ context.Context, hotelID, phone string) (*models.Arbitrator, error) {
	for _, arb := range a.s.arbitrators {
		if arb.HotelID == hotelID && arb.Phone == phone {
			c := *arb
			return &c, nil
		}
	}
	return nil, models.NotFoundf("arbitrator with phone", phone)
}

type cases struct{ s *state }

func (c cases) Create(_ context.Context, ac *models.ArbitrationCase) error {
	if err := ac.CheckInvariants(); err != nil {
		return err
	}
	if _, ok := c.s.cases[ac.ID]; ok {
		return fmt.Errorf("arbitration case %s already exists", ac.ID)
	}
	for _, other := range c.s.cases {
		if other.RefundRequestID == ac.RefundRequestID {
			return models.Errorf(models.KindAlreadyEscalated, "refund request %s already has case %s", ac.RefundRequestID, other.ID)
		}
	}
	c.s.cases[ac.ID] = ac.Clone()
	return nil
}

func (c cases) Get(_ context.Context, id string) (*models.ArbitrationCase, error) {
	ac, ok := c.s.cases[id]
	if !ok {
		return nil, models.NotFoundf("arbitration case", id)
	}
	return ac.Clone(), nil
}

func (c cases) GetByRefundRequest(_ context.Context, refundRequestID string) (*models.ArbitrationCase, error) {
	for _, ac := range c.s.cases {
		if ac.RefundRequestID == refundRequestID {
			return ac.Clone(), nil
		}
	}
	return nil, models.NotFoundf("arbitration case for refund request", refundRequestID)
}

func (c cases) Update(_ context.Context, ac *models.ArbitrationCase) error {
	if err := ac.CheckInvariants(); err != nil {
		return err
	}
	if _, ok := c.s.cases[ac.ID]; !ok {
		return models.NotFoundf("arbitration case", ac.ID)
	}
	c.s.cases[ac.ID] = ac.Clone()
	return nil
}

func (c cases) List(_ context.Context, f store.CaseFilter) ([]*models.ArbitrationCase, error) {
	var out []*models.ArbitrationCase
	for _, ac := range c.s.cases {
		if f.HotelID != "" && ac.HotelID != f.HotelID {
			continue
		}
		if f.Status != "" && ac.Status != f.Status {
			continue
		}
		out = append(out, ac.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (c cases) HasVotesBy(_ context.Context, arbitratorID string) (bool, error) {
	for _, ac := range c.s.cases {
		if v := ac.VoteFor(arbitratorID); v != nil && v.Decision.Cast() {
			return true, nil
		}
	}
	return false, nil
}

type transitions struct{ s *state }

func (t transitions) Append(_ context.Context, st *models.StateTransition) error {
	history := t.s.transitions[st.RefundRequestID]
	if st.Seq != len(history)+1 {
		return fmt.Errorf("transition seq %d for refund request %s, expected %d", st.Seq, st.RefundRequestID, len(history)+1)
	}
	c := *st
	t.s.transitions[st.RefundRequestID] = append(history, &c)
	return nil
}

func (t transitions) Latest(_ context.Context, refundRequestID string) (*models.StateTransition, error) {
	history := t.s.transitions[refundRequestID]
	if len(history) == 0 {
		return nil, nil
	}
	c := *history[len(history)-1]
	return &c, nil
}

func (t transitions) History(_ context.Context, refundRequestID string) ([]*models.StateTransition, error) {
	history := t.s.transitions[refundRequestID]
	out := make([]*models.StateTransition, len(history))
	for i, st := range history {
		c := *st
		out[i] = &c
	}
	return out, nil
}

type outbox struct{ s *state }

func (o outbox) Enqueue(_ context.Context, e *models.OutboxEvent) error {
	o.s.outbox = append(o.s.outbox, cloneEvent(e))
	return nil
}

func (o outbox) Pending(_ context.Context, limit int) ([]*models.OutboxEvent, error) {
	var out []*models.OutboxEvent
	for _, e := range o.s.outbox {
		if e.DispatchedAt != nil {
			continue
		}
		out = append(out, cloneEvent(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o outbox) MarkDispatched(_ context.Context, id string, at time.Time) error {
	e, err := o.find(id)
	if err != nil {
		return err
	}
	e.DispatchedAt = &at
	e.Attempts++
	e.LastError = ""
	return nil
}

func (o outbox) MarkFailed(_ context.Context, id string, lastErr string) error {
	e, err := o.find(id)
	if err != nil {
		return err
	}
	e.Attempts++
	e.LastError = lastErr
	return nil
}

func (o outbox) find(id string) (*models.OutboxEvent, error) {
	for _, e := range o.s.outbox {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, models.NotFoundf("outbox event", id)
}

func cloneEvent(e *models.OutboxEvent) *models.OutboxEvent {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.DispatchedAt != nil {
		at := *e.DispatchedAt
		c.DispatchedAt = &at
	}
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
