package refunds

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/example/hotel-refunds/internal/arbitration"
	"github.com/example/hotel-refunds/internal/disputes"
	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/store"
	"github.com/example/hotel-refunds/internal/store/memory"
)

type ServiceSuite struct {
	suite.Suite
	store   *memory.Store
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = memory.New()
	ids := idgen.MustNew(3)
	ctrl := disputes.NewController(s.store, arbitration.NewCaseFactory(ids, models.PolicyMajority), ids, nil)
	s.service = NewService(s.store, ctrl, ids, nil)
}

func (s *ServiceSuite) submitRequest(paid string, ratio int) SubmitRequest {
	return SubmitRequest{
		Order: models.Order{
			OrderID:    "order-42",
			OrderNo:    "HT42",
			HotelID:    "hotel-1",
			HotelName:  "Harbour Inn",
			GuestName:  "Zhang San",
			ActualPaid: decimal.RequireFromString(paid),
		},
		Reason:         "noise from renovation",
		Evidence:       []string{"https://files.example.com/noise.mp4"},
		RequestedRatio: ratio,
	}
}

func (s *ServiceSuite) submit(paid string, ratio int) *models.RefundRequest {
	req, err := s.service.Submit(context.Background(), s.submitRequest(paid, ratio))
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) seedRoster(hotelID string) {
	s.Require().NoError(s.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < models.CommitteeSize; i++ {
			err := tx.Arbitrators().Create(ctx, &models.Arbitrator{
				ID:       fmt.Sprintf("arb-%d", i),
				HotelID:  hotelID,
				Name:     fmt.Sprintf("Member %d", i),
				Phone:    fmt.Sprintf("1390000000%d", i),
				IsActive: true,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *ServiceSuite) TestSubmitComputesAmount() {
	req := s.submit("1580", 80)

	s.Equal(models.StatusPendingMerchant, req.Status)
	s.Equal("1264.00", req.RefundAmount.StringFixed(2))
	s.Equal(DefaultCurrency, req.Currency)
	s.Nil(req.ArbitrationID)
	s.Regexp(`^RR\d+$`, req.RequestNo)

	got, err := s.service.Get(context.Background(), req.ID)
	s.Require().NoError(err)
	s.True(req.RefundAmount.Equal(got.RefundAmount))
}

func (s *ServiceSuite) TestSubmitRoundsHalfUp() {
	req := s.submit("99.99", 33)
	s.Equal("33.00", req.RefundAmount.StringFixed(2))

	req = s.submit("0.05", 50)
	s.Equal("0.03", req.RefundAmount.StringFixed(2))
}

func (s *ServiceSuite) TestSubmitValidation() {
	tests := []struct {
		name string
		edit func(*SubmitRequest)
		want error
	}{
		{"ratio above 100", func(r *SubmitRequest) { r.RequestedRatio = 101 }, models.ErrInvalidAmount},
		{"negative ratio", func(r *SubmitRequest) { r.RequestedRatio = -1 }, models.ErrInvalidAmount},
		{"zero paid", func(r *SubmitRequest) { r.Order.ActualPaid = decimal.Zero }, models.ErrInvalidAmount},
		{"sub-cent paid", func(r *SubmitRequest) { r.Order.ActualPaid = decimal.RequireFromString("10.005") }, models.ErrInvalidAmount},
		{"missing hotel", func(r *SubmitRequest) { r.Order.HotelID = " " }, models.ErrInvalidArgument},
		{"missing order", func(r *SubmitRequest) { r.Order.OrderID = "" }, models.ErrInvalidArgument},
		{"empty reason", func(r *SubmitRequest) { r.Reason = "" }, models.ErrInvalidArgument},
		{"relative evidence", func(r *SubmitRequest) { r.Evidence = []string{"photos/1.jpg"} }, models.ErrInvalidArgument},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			in := s.submitRequest("100", 50)
			tt.edit(&in)
			_, err := s.service.Submit(context.Background(), in)
			s.ErrorIs(err, tt.want)
		})
	}

	all, err := s.service.List(context.Background(), store.RefundFilter{})
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *ServiceSuite) TestCounterThenAccept() {
	req := s.submit("1000", 100)

	req, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{
		Text: "we can offer half", Decision: MerchantCounter, CounterRatio: 50,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusNegotiating, req.Status)
	s.Require().NotNil(req.CounterRatio)
	s.Equal(50, *req.CounterRatio)
	s.Equal("1000.00", req.RefundAmount.StringFixed(2), "amount unchanged until the guest accepts")
	s.NotNil(req.MerchantResponseTime)

	req, err = s.service.AcceptCounter(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, req.Status)
	s.Equal(50, req.RefundRatio)
	s.Equal("500.00", req.RefundAmount.StringFixed(2))
	s.Require().NotNil(req.FinalDecision)
	s.Equal(models.DecisionApproved, *req.FinalDecision)
}

func (s *ServiceSuite) TestRevisedCounter() {
	req := s.submit("1000", 100)
	_, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantCounter, CounterRatio: 30})
	s.Require().NoError(err)
	req, err = s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantCounter, CounterRatio: 60})
	s.Require().NoError(err)
	s.Equal(60, *req.CounterRatio)

	_, err = s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantCounter, CounterRatio: 120})
	s.ErrorIs(err, models.ErrInvalidAmount)
}

func (s *ServiceSuite) TestAcceptCounterWithoutOffer() {
	req := s.submit("100", 100)
	_, err := s.service.AcceptCounter(context.Background(), req.ID)
	s.ErrorIs(err, models.ErrInvalidTransition)
}

func (s *ServiceSuite) TestDeclineCounter() {
	req := s.submit("100", 100)
	_, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantCounter, CounterRatio: 10})
	s.Require().NoError(err)

	req, err = s.service.DeclineCounter(context.Background(), req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, req.Status)
	s.Nil(req.ArbitrationID)
}

func (s *ServiceSuite) TestDeclineCounterAndEscalate() {
	s.seedRoster("hotel-1")
	req := s.submit("100", 100)
	_, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantCounter, CounterRatio: 10})
	s.Require().NoError(err)

	req, err = s.service.DeclineCounter(context.Background(), req.ID, true)
	s.Require().NoError(err)
	s.Equal(models.StatusArbitrating, req.Status)
	s.NotNil(req.ArbitrationID)
	s.NotNil(req.EscalatedAt)
}

func (s *ServiceSuite) TestMerchantRejectWithoutEscalation() {
	req := s.submit("100", 100)
	req, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Text: "no", Decision: MerchantReject})
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, req.Status)
	s.Equal("no", req.MerchantResponse)

	_, err = s.service.Escalate(context.Background(), req.ID, "")
	s.ErrorIs(err, models.ErrInvalidTransition)
}

func (s *ServiceSuite) TestUnknownMerchantDecision() {
	req := s.submit("100", 100)
	_, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: "maybe"})
	s.ErrorIs(err, models.ErrInvalidArgument)
}

func (s *ServiceSuite) TestScenarioD_WithdrawFromNegotiation() {
	req := s.submit("800", 100)
	_, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantCounter, CounterRatio: 40})
	s.Require().NoError(err)

	req, err = s.service.Withdraw(context.Background(), req.ID, "resolved at the front desk")
	s.Require().NoError(err)
	s.Equal(models.StatusUserWithdrawn, req.Status)
	s.NotNil(req.ClosedAt)
	s.Nil(req.FinalDecision)

	_, err = s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantAccept})
	s.ErrorIs(err, models.ErrInvalidTransition)

	got, err := s.service.Get(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusUserWithdrawn, got.Status)
	s.Empty(got.MerchantResponse)
}

func (s *ServiceSuite) TestMerchantCannotRespondDuringArbitration() {
	s.seedRoster("hotel-1")
	req := s.submit("100", 100)
	req, err := s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: MerchantReject, GuestEscalates: true})
	s.Require().NoError(err)
	s.Equal(models.StatusArbitrating, req.Status)

	for _, d := range []MerchantDecision{MerchantAccept, MerchantReject, MerchantCounter} {
		_, err = s.service.RecordMerchantResponse(context.Background(), req.ID, MerchantResponse{Decision: d, CounterRatio: 10})
		s.ErrorIs(err, models.ErrInvalidTransition, "decision %s", d)
	}
	_, err = s.service.Withdraw(context.Background(), req.ID, "")
	s.ErrorIs(err, models.ErrInvalidTransition)
}

func (s *ServiceSuite) TestListFilters() {
	a := s.submit("100", 10)
	s.submit("100", 20)
	_, err := s.service.Withdraw(context.Background(), a.ID, "")
	s.Require().NoError(err)

	withdrawn, err := s.service.List(context.Background(), store.RefundFilter{Status: models.StatusUserWithdrawn})
	s.Require().NoError(err)
	s.Require().Len(withdrawn, 1)
	s.Equal(a.ID, withdrawn[0].ID)

	all, err := s.service.List(context.Background(), store.RefundFilter{HotelID: "hotel-1", Limit: 1})
	s.Require().NoError(err)
	s.Len(all, 1)

	_, err = s.service.List(context.Background(), store.RefundFilter{Status: "LOST"})
	s.ErrorIs(err, models.ErrInvalidArgument)
}

func TestGetUnknownRequest(t *testing.T) {
	st := memory.New()
	ids := idgen.MustNew(1)
	svc := NewService(st, disputes.NewController(st, arbitration.NewCaseFactory(ids, ""), ids, nil), ids, nil)

	_, err := svc.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
