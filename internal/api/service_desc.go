package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// TriageServiceName is the fully qualified gRPC service name.
const TriageServiceName = "mirador.triage.v1.TriageService"

// Method names exposed by the triage service.
const (
	MethodAnalyze         = "Analyze"
	MethodProcessIssue    = "ProcessIssue"
	MethodBatchProcess    = "BatchProcess"
	MethodGetConfigStatus = "GetConfigStatus"
)

// TriageServer is the server API for the triage service. Requests and responses
// are google.protobuf.Struct documents.
type TriageServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessIssue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BatchProcess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConfigStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTriageServer registers srv with the gRPC registrar.
func RegisterTriageServer(s grpc.ServiceRegistrar, srv TriageServer) {
	s.RegisterService(&TriageServiceDesc, srv)
}

type structCall func(TriageServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TriageServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + TriageServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(TriageServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// TriageServiceDesc describes the triage service for grpc.Server registration.
var TriageServiceDesc = grpc.ServiceDesc{
	ServiceName: TriageServiceName,
	HandlerType: (*TriageServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodAnalyze, TriageServer.Analyze),
		unaryMethod(MethodProcessIssue, TriageServer.ProcessIssue),
		unaryMethod(MethodBatchProcess, TriageServer.BatchProcess),
		unaryMethod(MethodGetConfigStatus, TriageServer.GetConfigStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/triage/v1/triage.proto",
}

// TriageClient calls the triage service.
type TriageClient struct {
	cc grpc.ClientConnInterface
}

// NewTriageClient wraps an established connection.
func NewTriageClient(cc grpc.ClientConnInterface) *TriageClient {
	return &TriageClient{cc: cc}
}

// Call invokes method with the given request document.
func (c *TriageClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+TriageServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
