package agentsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// agentServiceServer is the handler type the gateway dispatches to.
type agentServiceServer interface {
	createAgent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	submitRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	getRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// gateway exposes a Service over gRPC.
type gateway struct {
	svc Service
}

var _ agentServiceServer = (*gateway)(nil)

// RegisterGrpcServer exposes svc on the registrar as agentsvc.v1.AgentService.
func RegisterGrpcServer(registrar grpc.ServiceRegistrar, svc Service) {
	registrar.RegisterService(&agentServiceDesc, &gateway{svc: svc})
}

// ServiceName is the fully qualified gRPC service name, used for health checks.
func ServiceName() string { return grpcServiceName }

func (g *gateway) createAgent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createAgentRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcStatusError(err)
	}
	agent, err := g.svc.CreateAgent(ctx, req.Spec)
	if err != nil {
		return nil, grpcStatusError(err)
	}
	return encodeReply(agent)
}

func (g *gateway) submitRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submitRunRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcStatusError(err)
	}
	snap, err := g.svc.SubmitRun(ctx, req.AgentID, req.Ticket)
	if err != nil {
		return nil, grpcStatusError(err)
	}
	return encodeReply(snap)
}

func (g *gateway) getRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req getRunRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcStatusError(err)
	}
	snap, err := g.svc.GetRun(ctx, req.Ref, req.AfterMessageID)
	if err != nil {
		return nil, grpcStatusError(err)
	}
	return encodeReply(snap)
}

func encodeReply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, grpcStatusError(err)
	}
	return out, nil
}

func unaryHandler(method string, call func(agentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(agentServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + grpcServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*agentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateAgent", Handler: unaryHandler("CreateAgent", agentServiceServer.createAgent)},
		{MethodName: "SubmitRun", Handler: unaryHandler("SubmitRun", agentServiceServer.submitRun)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", agentServiceServer.getRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentsvc/v1/agent_service.proto",
}
