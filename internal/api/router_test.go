package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hotel-refunds/internal/arbitration"
	"github.com/example/hotel-refunds/internal/arbitrators"
	"github.com/example/hotel-refunds/internal/disputes"
	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/locks"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/refunds"
	"github.com/example/hotel-refunds/internal/security"
	"github.com/example/hotel-refunds/internal/store/memory"
	"github.com/example/hotel-refunds/pkg/audit"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	auditor *audit.ChainLogger
}

func newTestServer(t *testing.T, tweak func(*Dependencies)) *testServer {
	t.Helper()
	st := memory.New()
	ids := idgen.MustNew(9)
	factory := arbitration.NewCaseFactory(ids, models.PolicyMajority)
	ctrl := disputes.NewController(st, factory, ids, nil)
	engine := arbitration.NewEngine(st, locks.NewLocalLocker(locks.DefaultOptions()), factory, ctrl, nil)

	auditor := audit.NewChainLogger(0)
	deps := Dependencies{
		Refunds:      refunds.NewService(st, ctrl, ids, nil),
		Journal:      ctrl,
		Arbitrators:  arbitrators.NewDirectory(st, ids, nil),
		Arbitration:  engine,
		Auditor:      auditor,
		MaxBodyBytes: 1 << 16,
	}
	if tweak != nil {
		tweak(&deps)
	}
	h, err := NewRouter(deps)
	require.NoError(t, err)
	return &testServer{t: t, handler: h, auditor: auditor}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (s *testServer) seedRoster(hotelID string) []string {
	s.t.Helper()
	var ids []string
	for i := 0; i < models.CommitteeSize; i++ {
		rec := s.do(http.MethodPost, "/v1/arbitrators", map[string]any{
			"hotel_id": hotelID,
			"name":     fmt.Sprintf("Member %d", i),
			"phone":    fmt.Sprintf("1380000000%d", i),
		})
		require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
		ids = append(ids, decodeBody[arbitratorResponse](s.t, rec).Arbitrator.ID)
	}
	return ids
}

func (s *testServer) submit(hotelID string, paid any, ratio int) *models.RefundRequest {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/v1/refund-requests", map[string]any{
		"order": map[string]any{
			"order_id":    "order-1",
			"hotel_id":    hotelID,
			"hotel_name":  "Lakeside",
			"actual_paid": paid,
		},
		"reason":          "air conditioning broken",
		"evidence":        []string{"https://files.example.com/ac.jpg"},
		"requested_ratio": ratio,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[refundResponse](s.t, rec).RefundRequest
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitAndFetch(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.submit("hotel-1", "1580.00", 80)
	assert.Equal(t, models.StatusPendingMerchant, created.Status)
	assert.Equal(t, "1264.00", created.RefundAmount.StringFixed(2))

	rec := s.do(http.MethodGet, "/v1/refund-requests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[refundResponse](t, rec)
	assert.Equal(t, created.ID, got.RefundRequest.ID)
	assert.NotEmpty(t, got.CorrelationID)

	rec = s.do(http.MethodGet, "/v1/refund-requests?hotel_id=hotel-1&status=PENDING_MERCHANT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[listRefundsResponse](t, rec).RefundRequests, 1)

	rec = s.do(http.MethodGet, "/v1/refund-requests?hotel_id=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"refund_requests":[]`)
}

func TestSubmitAcceptsNumericAmount(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.submit("hotel-1", 200, 50)
	assert.Equal(t, "100.00", created.RefundAmount.StringFixed(2))
}

func TestSubmitRejectsInvalidBodies(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"not json", `{`, http.StatusBadRequest, "invalid_json"},
		{"ratio too high", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"10"},"reason":"x","requested_ratio":150}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"negative ratio", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"10"},"reason":"x","requested_ratio":-1}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"three decimals", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"10.005"},"reason":"x","requested_ratio":10}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"negative paid", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":-5},"reason":"x","requested_ratio":10}`, http.StatusUnprocessableEntity, "invalid_amount"},
		{"amount not numeric", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"ten"},"reason":"x","requested_ratio":10}`, http.StatusBadRequest, "validation_error"},
		{"ratio not integer", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"10"},"reason":"x","requested_ratio":"all"}`, http.StatusBadRequest, "validation_error"},
		{"unknown field", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"10"},"reason":"x","requested_ratio":10,"admin":true}`, http.StatusBadRequest, "validation_error"},
		{"zero paid", `{"order":{"order_id":"o","hotel_id":"h","actual_paid":"0"},"reason":"x","requested_ratio":10}`, http.StatusUnprocessableEntity, "invalid_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/refund-requests", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.err, decodeBody[security.ErrorResponse](t, rec).Error)
		})
	}
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/v1/refund-requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounterOfferFlow(t *testing.T) {
	s := newTestServer(t, nil)
	req := s.submit("hotel-1", "1000", 100)

	rec := s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/merchant-response", map[string]any{
		"text": "half is fair", "decision": "counter", "counter_ratio": 50,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusNegotiating, decodeBody[refundResponse](t, rec).RefundRequest.Status)

	rec = s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/accept-counter", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[refundResponse](t, rec).RefundRequest
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, "500.00", done.RefundAmount.StringFixed(2))

	rec = s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/withdraw", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/v1/refund-requests/"+req.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[historyResponse](t, rec)
	assert.True(t, history.Verified)
	require.Len(t, history.Transitions, 3)
	assert.Equal(t, models.StatusCompleted, history.Transitions[2].ToStatus)
}

func TestEscalateWithoutRoster(t *testing.T) {
	s := newTestServer(t, nil)
	req := s.submit("hotel-1", "100", 100)

	rec := s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/escalate", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/merchant-response", `{"decision":"counter","counter_ratio":101}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/merchant-response", `{"decision":"counter","counter_ratio":20}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/escalate", `{"note":"20% is too little"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[security.ErrorResponse](t, rec)
	assert.Equal(t, "incomplete_roster", body.Error)
	assert.NotEmpty(t, body.Message)

	rec = s.do(http.MethodGet, "/v1/refund-requests/"+req.ID, nil)
	assert.Equal(t, models.StatusNegotiating, decodeBody[refundResponse](t, rec).RefundRequest.Status)
}

func TestArbitrationOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	members := s.seedRoster("hotel-1")
	req := s.submit("hotel-1", "600", 50)

	rec := s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/merchant-response", map[string]any{
		"decision": "reject", "guest_escalates": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusArbitrating, decodeBody[refundResponse](t, rec).RefundRequest.Status)

	rec = s.do(http.MethodGet, "/v1/refund-requests/"+req.ID+"/arbitration-case", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ac := decodeBody[caseResponse](t, rec).Case
	assert.Equal(t, models.CommitteeSize, ac.PendingCount)

	vote := func(member, decision string) *httptest.ResponseRecorder {
		return s.do(http.MethodPost, "/v1/arbitration-cases/"+ac.ID+"/votes", map[string]any{
			"arbitrator_id": member, "decision": decision,
		})
	}

	rec = vote("stranger", "SUPPORT")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = vote(members[0], "ABSTAIN")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < models.Majority; i++ {
		rec = vote(members[i], "SUPPORT")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	final := decodeBody[caseResponse](t, rec).Case
	assert.Equal(t, models.CaseCompleted, final.Status)
	require.NotNil(t, final.FinalResult)
	assert.Equal(t, models.DecisionApproved, *final.FinalResult)

	rec = vote(members[5], "OPPOSE")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "case_closed", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/v1/refund-requests/"+req.ID, nil)
	assert.Equal(t, models.StatusCompleted, decodeBody[refundResponse](t, rec).RefundRequest.Status)

	for _, status := range []string{"COMPLETED", "completed"} {
		rec = s.do(http.MethodGet, "/v1/arbitration-cases?hotel_id=hotel-1&status="+status, nil)
		require.Equal(t, http.StatusOK, rec.Code, status)
		assert.Len(t, decodeBody[listCasesResponse](t, rec).Cases, 1, status)
	}
	rec = s.do(http.MethodGet, "/v1/arbitration-cases?hotel_id=hotel-1&status=VOTING", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[listCasesResponse](t, rec).Cases)
	rec = s.do(http.MethodGet, "/v1/arbitration-cases?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/arbitrators/"+members[0], nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "arbitrator_in_use", decodeBody[security.ErrorResponse](t, rec).Error)
}

func TestArbitratorRoster(t *testing.T) {
	s := newTestServer(t, nil)
	members := s.seedRoster("hotel-1")

	rec := s.do(http.MethodPost, "/v1/arbitrators", map[string]any{"hotel_id": "hotel-1", "name": "Eighth", "phone": "13900000099"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "roster_full", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPut, "/v1/arbitrators/"+members[6]+"/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[arbitratorResponse](t, rec).Arbitrator.IsActive)

	rec = s.do(http.MethodPost, "/v1/arbitrators", map[string]any{"hotel_id": "hotel-1", "name": "Dup", "phone": "13800000000"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_phone", decodeBody[security.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/v1/arbitrators?hotel_id=hotel-1&active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[listArbitratorsResponse](t, rec).Arbitrators, models.CommitteeSize-1)

	rec = s.do(http.MethodGet, "/v1/arbitrators", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/v1/arbitrators/"+members[6], nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/v1/arbitrators/"+members[6], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditTrailRecordsWrites(t *testing.T) {
	s := newTestServer(t, nil)
	req := s.submit("hotel-1", "100", 10)
	s.do(http.MethodGet, "/v1/refund-requests/"+req.ID, nil)
	s.do(http.MethodPost, "/v1/refund-requests/"+req.ID+"/withdraw", `{"note":"changed my mind"}`)

	entries := s.auditor.Entries()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Payload, "method=POST route=/v1/refund-requests path=/v1/refund-requests ")
	assert.Contains(t, entries[1].Payload, "route=/v1/refund-requests/{id}/withdraw")
	assert.True(t, audit.VerifyChain(entries))
}

func TestIPAllowlistBlocks(t *testing.T) {
	_, allowed, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	s := newTestServer(t, func(d *Dependencies) { d.IPAllowlist = []*net.IPNet{allowed} })

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t, func(d *Dependencies) {
		d.RateLimiter = &security.RedisTokenBucket{Redis: client, Prefix: "rl:", Capacity: 2, RefillRate: 0.001}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil).Code)
	}
	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestPayloadTooLarge(t *testing.T) {
	s := newTestServer(t, func(d *Dependencies) { d.MaxBodyBytes = 32 })
	rec := s.do(http.MethodPost, "/v1/refund-requests", `{"reason":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
