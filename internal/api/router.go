package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/hotel-refunds/internal/arbitration"
	"github.com/example/hotel-refunds/internal/arbitrators"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/refunds"
	"github.com/example/hotel-refunds/internal/security"
	"github.com/example/hotel-refunds/internal/store"
	"github.com/example/hotel-refunds/pkg/audit"
)

// Auditor is satisfied by *audit.ChainLogger.
type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// RefundService is satisfied by *refunds.Service.
type RefundService interface {
	Submit(ctx context.Context, in refunds.SubmitRequest) (*models.RefundRequest, error)
	RecordMerchantResponse(ctx context.Context, id string, in refunds.MerchantResponse) (*models.RefundRequest, error)
	AcceptCounter(ctx context.Context, id string) (*models.RefundRequest, error)
	DeclineCounter(ctx context.Context, id string, escalate bool) (*models.RefundRequest, error)
	Escalate(ctx context.Context, id, note string) (*models.RefundRequest, error)
	Withdraw(ctx context.Context, id, note string) (*models.RefundRequest, error)
	Get(ctx context.Context, id string) (*models.RefundRequest, error)
	List(ctx context.Context, filter store.RefundFilter) ([]*models.RefundRequest, error)
}

// Journal is satisfied by *disputes.Controller.
type Journal interface {
	History(ctx context.Context, requestID string) ([]*models.StateTransition, error)
	VerifyHistory(ctx context.Context, requestID string) (bool, error)
}

// ArbitratorDirectory is satisfied by *arbitrators.Directory.
type ArbitratorDirectory interface {
	AddArbitrator(ctx context.Context, in arbitrators.AddRequest) (*models.Arbitrator, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Arbitrator, error)
	RemoveArbitrator(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Arbitrator, error)
	RosterFor(ctx context.Context, hotelID string) ([]*models.Arbitrator, error)
	ActiveRosterFor(ctx context.Context, hotelID string) ([]*models.Arbitrator, error)
}

// CaseEngine is satisfied by *arbitration.Engine.
type CaseEngine interface {
	CastVote(ctx context.Context, in arbitration.CastVoteRequest) (*models.ArbitrationCase, error)
	GetCase(ctx context.Context, id string) (*models.ArbitrationCase, error)
	CaseForRequest(ctx context.Context, refundRequestID string) (*models.ArbitrationCase, error)
	ListCases(ctx context.Context, filter store.CaseFilter) ([]*models.ArbitrationCase, error)
}

// Dependencies are the services and guards the router is built from.
type Dependencies struct {
	Logger *slog.Logger

	Refunds     RefundService
	Journal     Journal
	Arbitrators ArbitratorDirectory
	Arbitration CaseEngine

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

// NewRouter mounts the /v1 API and /healthz behind the security middleware.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	submitV, err := security.NewJSONSchemaValidator(submitRefundSchema)
	if err != nil {
		return nil, err
	}
	merchantV, err := security.NewJSONSchemaValidator(merchantResponseSchema)
	if err != nil {
		return nil, err
	}
	declineV, err := security.NewJSONSchemaValidator(declineCounterSchema)
	if err != nil {
		return nil, err
	}
	noteV, err := security.NewJSONSchemaValidator(noteSchema)
	if err != nil {
		return nil, err
	}
	addArbitratorV, err := security.NewJSONSchemaValidator(addArbitratorSchema)
	if err != nil {
		return nil, err
	}
	setActiveV, err := security.NewJSONSchemaValidator(setActiveSchema)
	if err != nil {
		return nil, err
	}
	voteV, err := security.NewJSONSchemaValidator(castVoteSchema)
	if err != nil {
		return nil, err
	}

	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, security.KeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/refund-requests", func(r chi.Router) {
			r.Get("/", h.listRefunds)
			r.With(submitV.Middleware).Post("/", h.submitRefund)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getRefund)
				r.Get("/history", h.refundHistory)
				r.Get("/arbitration-case", h.caseForRefund)
				r.With(merchantV.Middleware).Post("/merchant-response", h.merchantResponse)
				r.Post("/accept-counter", h.acceptCounter)
				r.With(declineV.Middleware).Post("/decline-counter", h.declineCounter)
				r.With(noteV.Middleware).Post("/escalate", h.escalate)
				r.With(noteV.Middleware).Post("/withdraw", h.withdraw)
			})
		})

		r.Route("/arbitrators", func(r chi.Router) {
			r.Get("/", h.listArbitrators)
			r.With(addArbitratorV.Middleware).Post("/", h.addArbitrator)
			r.Get("/{id}", h.getArbitrator)
			r.Delete("/{id}", h.removeArbitrator)
			r.With(setActiveV.Middleware).Put("/{id}/active", h.setActive)
		})

		r.Route("/arbitration-cases", func(r chi.Router) {
			r.Get("/", h.listCases)
			r.Get("/{id}", h.getCase)
			r.With(voteV.Middleware).Post("/{id}/votes", h.castVote)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
