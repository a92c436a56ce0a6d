package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/hotel-refunds/internal/arbitration"
	"github.com/example/hotel-refunds/internal/models"
	"github.com/example/hotel-refunds/internal/security"
	"github.com/example/hotel-refunds/pkg/audit"
)

// CaseEngine is satisfied by *arbitration.Engine.
type CaseEngine interface {
	CastVote(ctx context.Context, in arbitration.CastVoteRequest) (*models.ArbitrationCase, error)
	GetCase(ctx context.Context, id string) (*models.ArbitrationCase, error)
}

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Server implements ArbitrationServiceServer on top of the case engine.
type Server struct {
	engine CaseEngine
	logger *slog.Logger
}

func NewServer(engine CaseEngine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

func (s *Server) CastVote(ctx context.Context, in *CastVoteRequest) (*CaseReply, error) {
	if in.CaseID == "" {
		return nil, status.Error(codes.InvalidArgument, "case_id is required")
	}
	if in.ArbitratorID == "" {
		return nil, status.Error(codes.InvalidArgument, "arbitrator_id is required")
	}
	if in.Decision != models.VoteSupport && in.Decision != models.VoteOppose {
		return nil, status.Errorf(codes.InvalidArgument, "decision must be %s or %s", models.VoteSupport, models.VoteOppose)
	}

	ac, err := s.engine.CastVote(ctx, arbitration.CastVoteRequest{
		CaseID:       in.CaseID,
		ArbitratorID: in.ArbitratorID,
		Decision:     in.Decision,
		Comment:      in.Comment,
	})
	if err != nil {
		return nil, s.statusFor(ctx, err)
	}
	return &CaseReply{Case: ac}, nil
}

func (s *Server) GetCase(ctx context.Context, in *GetCaseRequest) (*CaseReply, error) {
	if in.CaseID == "" {
		return nil, status.Error(codes.InvalidArgument, "case_id is required")
	}
	ac, err := s.engine.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, s.statusFor(ctx, err)
	}
	return &CaseReply{Case: ac}, nil
}

var codeForKind = map[models.Kind]codes.Code{
	models.KindInvalidArgument:   codes.InvalidArgument,
	models.KindInvalidAmount:     codes.InvalidArgument,
	models.KindNotFound:          codes.NotFound,
	models.KindUnknownArbitrator: codes.PermissionDenied,
	models.KindDuplicatePhone:    codes.AlreadyExists,
	models.KindAlreadyEscalated:  codes.AlreadyExists,
	models.KindInvalidTransition: codes.FailedPrecondition,
	models.KindRosterFull:        codes.FailedPrecondition,
	models.KindIncompleteRoster:  codes.FailedPrecondition,
	models.KindCaseClosed:        codes.FailedPrecondition,
	models.KindArbitratorInUse:   codes.FailedPrecondition,
	models.KindLockNotAcquired:   codes.Unavailable,
}

func (s *Server) statusFor(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	kind := models.KindOf(err)
	if code, ok := codeForKind[kind]; ok {
		return status.Errorf(code, "%s: %s", kind, models.MessageOf(err))
	}
	s.logger.Error("grpc_call_failed", "cid", security.CorrelationIDFromContext(ctx), "error", err)
	return status.Error(codes.Internal, "internal error")
}

// CorrelationMetadataKey carries the caller's correlation id.
const CorrelationMetadataKey = "x-correlation-id"

// UnaryInterceptor tags each call with a correlation id, logs it, and appends
// it to the audit chain when auditor is not nil.
func UnaryInterceptor(logger *slog.Logger, auditor Auditor) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		cid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(CorrelationMetadataKey); len(v) > 0 {
				cid = v[0]
			}
		}
		if cid == "" || len(cid) > 128 {
			cid = uuid.NewString()
		}
		ctx = security.WithCorrelationID(ctx, cid)
		_ = grpc.SetHeader(ctx, metadata.Pairs(CorrelationMetadataKey, cid))

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "grpc_request",
			"cid", cid,
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if auditor != nil {
			auditor.Append(fmt.Sprintf("cid=%s method=%s code=%s", cid, info.FullMethod, code))
		}
		return resp, err
	}
}
