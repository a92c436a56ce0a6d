package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/hotel-refunds/internal/arbitration"
	"github.com/example/hotel-refunds/internal/arbitrators"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/refunds"
	"github.com/example/hotel-refunds/internal/security"
	"github.com/example/hotel-refunds/internal/store"
)

type handlers struct {
	deps Dependencies
}

type refundResponse struct {
	CorrelationID string                `json:"correlation_id"`
	RefundRequest *models.RefundRequest `json:"refund_request"`
}

type listRefundsResponse struct {
	CorrelationID  string                  `json:"correlation_id"`
	RefundRequests []*models.RefundRequest `json:"refund_requests"`
}

type historyResponse struct {
	CorrelationID string                    `json:"correlation_id"`
	Transitions   []*models.StateTransition `json:"transitions"`
	Verified      bool                      `json:"verified"`
}

type arbitratorResponse struct {
	CorrelationID string             `json:"correlation_id"`
	Arbitrator    *models.Arbitrator `json:"arbitrator"`
}

type listArbitratorsResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Arbitrators   []*models.Arbitrator `json:"arbitrators"`
}

type caseResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Case          *models.ArbitrationCase `json:"arbitration_case"`
}

type listCasesResponse struct {
	CorrelationID string                    `json:"correlation_id"`
	Cases         []*models.ArbitrationCase `json:"arbitration_cases"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type declineCounterRequest struct {
	Escalate bool `json:"escalate"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type castVoteRequest struct {
	ArbitratorID string              `json:"arbitrator_id"`
	Decision     models.VoteDecision `json:"decision"`
	Comment      string              `json:"comment"`
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.deps.Logger, err)
}

func cid(r *http.Request) string {
	return security.CorrelationIDFromContext(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// paging reads limit and offset; malformed values are a client error.
func paging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, models.Errorf(models.KindInvalidArgument, "limit %q is not a number", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, models.Errorf(models.KindInvalidArgument, "offset %q is not a number", v)
		}
	}
	return limit, offset, nil
}

func (h *handlers) submitRefund(w http.ResponseWriter, r *http.Request) {
	var req refunds.SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := h.deps.Refunds.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, refundResponse{CorrelationID: cid(r), RefundRequest: created})
}

func (h *handlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := h.deps.Refunds.List(r.Context(), store.RefundFilter{
		HotelID: q.Get("hotel_id"),
		OrderID: q.Get("order_id"),
		Status:  models.RefundStatus(q.Get("status")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.RefundRequest{}
	}
	writeJSON(w, r, http.StatusOK, listRefundsResponse{CorrelationID: cid(r), RefundRequests: list})
}

func (h *handlers) getRefund(w http.ResponseWriter, r *http.Request) {
	req, err := h.deps.Refunds.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, refundResponse{CorrelationID: cid(r), RefundRequest: req})
}

func (h *handlers) refundHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := h.deps.Journal.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	verified, err := h.deps.Journal.VerifyHistory(r.Context(), id)
	if err != nil && models.KindOf(err) != "" {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		h.deps.Logger.Warn("journal_verification_failed", "refund_request_id", id, "error", err)
	}
	writeJSON(w, r, http.StatusOK, historyResponse{CorrelationID: cid(r), Transitions: history, Verified: verified})
}

func (h *handlers) caseForRefund(w http.ResponseWriter, r *http.Request) {
	ac, err := h.deps.Arbitration.CaseForRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, caseResponse{CorrelationID: cid(r), Case: ac})
}

func (h *handlers) merchantResponse(w http.ResponseWriter, r *http.Request) {
	var req refunds.MerchantResponse
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.deps.Refunds.RecordMerchantResponse(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, refundResponse{CorrelationID: cid(r), RefundRequest: updated})
}

func (h *handlers) acceptCounter(w http.ResponseWriter, r *http.Request) {
	updated, err := h.deps.Refunds.AcceptCounter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, refundResponse{CorrelationID: cid(r), RefundRequest: updated})
}

func (h *handlers) declineCounter(w http.ResponseWriter, r *http.Request) {
	var req declineCounterRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.deps.Refunds.DeclineCounter(r.Context(), chi.URLParam(r, "id"), req.Escalate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, refundResponse{CorrelationID: cid(r), RefundRequest: updated})
}

func (h *handlers) escalate(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.deps.Refunds.Escalate(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, refundResponse{CorrelationID: cid(r), RefundRequest: updated})
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.deps.Refunds.Withdraw(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, refundResponse{CorrelationID: cid(r), RefundRequest: updated})
}

func (h *handlers) addArbitrator(w http.ResponseWriter, r *http.Request) {
	var req arbitrators.AddRequest
	if !decode(w, r, &req) {
		return
	}
	arb, err := h.deps.Arbitrators.AddArbitrator(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, arbitratorResponse{CorrelationID: cid(r), Arbitrator: arb})
}

func (h *handlers) listArbitrators(w http.ResponseWriter, r *http.Request) {
	hotelID := r.URL.Query().Get("hotel_id")
	if hotelID == "" {
		h.fail(w, r, models.Errorf(models.KindInvalidArgument, "hotel_id query parameter is required"))
		return
	}
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, models.Errorf(models.KindInvalidArgument, "active %q is not a boolean", v))
			return
		}
		activeOnly = b
	}

	var (
		roster []*models.Arbitrator
		err    error
	)
	if activeOnly {
		roster, err = h.deps.Arbitrators.ActiveRosterFor(r.Context(), hotelID)
	} else {
		roster, err = h.deps.Arbitrators.RosterFor(r.Context(), hotelID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if roster == nil {
		roster = []*models.Arbitrator{}
	}
	writeJSON(w, r, http.StatusOK, listArbitratorsResponse{CorrelationID: cid(r), Arbitrators: roster})
}

func (h *handlers) getArbitrator(w http.ResponseWriter, r *http.Request) {
	arb, err := h.deps.Arbitrators.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, arbitratorResponse{CorrelationID: cid(r), Arbitrator: arb})
}

func (h *handlers) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !decode(w, r, &req) {
		return
	}
	arb, err := h.deps.Arbitrators.SetActive(r.Context(), chi.URLParam(r, "id"), req.Active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, arbitratorResponse{CorrelationID: cid(r), Arbitrator: arb})
}

func (h *handlers) removeArbitrator(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Arbitrators.RemoveArbitrator(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listCases(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	cases, err := h.deps.Arbitration.ListCases(r.Context(), store.CaseFilter{
		HotelID: q.Get("hotel_id"),
		Status:  models.CaseStatus(strings.ToLower(q.Get("status"))),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cases == nil {
		cases = []*models.ArbitrationCase{}
	}
	writeJSON(w, r, http.StatusOK, listCasesResponse{CorrelationID: cid(r), Cases: cases})
}

func (h *handlers) getCase(w http.ResponseWriter, r *http.Request) {
	ac, err := h.deps.Arbitration.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, caseResponse{CorrelationID: cid(r), Case: ac})
}

func (h *handlers) castVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if !decode(w, r, &req) {
		return
	}
	ac, err := h.deps.Arbitration.CastVote(r.Context(), arbitration.CastVoteRequest{
		CaseID:       chi.URLParam(r, "id"),
		ArbitratorID: req.ArbitratorID,
		Decision:     req.Decision,
		Comment:      req.Comment,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, caseResponse{CorrelationID: cid(r), Case: ac})
}
