// Package rpc exposes arbitrator voting over gRPC. Messages are plain Go
// structs carried by a JSON codec, so the service needs no generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/example/hotel-refunds/internal/models"
)

const serviceName = "arbitration.v1.ArbitrationService"

type CastVoteRequest struct {
	CaseID       string              `json:"case_id"`
	ArbitratorID string              `json:"arbitrator_id"`
	Decision     models.VoteDecision `json:"decision"`
	Comment      string              `json:"comment,omitempty"`
}

type GetCaseRequest struct {
	CaseID string `json:"case_id"`
}

type CaseReply struct {
	Case *models.ArbitrationCase `json:"arbitration_case"`
}

// ArbitrationServiceServer is implemented by *Server.
type ArbitrationServiceServer interface {
	CastVote(ctx context.Context, in *CastVoteRequest) (*CaseReply, error)
	GetCase(ctx context.Context, in *GetCaseRequest) (*CaseReply, error)
}

func RegisterArbitrationServiceServer(s grpc.ServiceRegistrar, srv ArbitrationServiceServer) {
	s.RegisterService(&ArbitrationServiceDesc, srv)
}

var ArbitrationServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ArbitrationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CastVote", Handler: castVoteHandler},
		{MethodName: "GetCase", Handler: getCaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arbitration/v1/arbitration.json",
}

func castVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CastVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ArbitrationServiceServer).CastVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CastVote"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ArbitrationServiceServer).CastVote(ctx, req.(*CastVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getCaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetCaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ArbitrationServiceServer).GetCase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetCase"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ArbitrationServiceServer).GetCase(ctx, req.(*GetCaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ArbitrationServiceClient calls the service with the JSON codec.
type ArbitrationServiceClient interface {
	CastVote(ctx context.Context, in *CastVoteRequest, opts ...grpc.CallOption) (*CaseReply, error)
	GetCase(ctx context.Context, in *GetCaseRequest, opts ...grpc.CallOption) (*CaseReply, error)
}

type arbitrationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewArbitrationServiceClient(cc grpc.ClientConnInterface) ArbitrationServiceClient {
	return &arbitrationServiceClient{cc: cc}
}

func (c *arbitrationServiceClient) CastVote(ctx context.Context, in *CastVoteRequest, opts ...grpc.CallOption) (*CaseReply, error) {
	out := new(CaseReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CastVote", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *arbitrationServiceClient) GetCase(ctx context.Context, in *GetCaseRequest, opts ...grpc.CallOption) (*CaseReply, error) {
	out := new(CaseReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetCase", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
