// Package supervisorv1 describes the supervisor gRPC service. Requests and
// replies are JSON-like documents carried as google.protobuf.Struct.
package supervisorv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "gosupervisor.supervisor.v1.Supervisor"

	CallMethod   = "/" + ServiceName + "/Call"
	EventsMethod = "/" + ServiceName + "/Events"

	// SessionHeader carries the caller session id in request metadata.
	SessionHeader = "x-supervisor-session"
)

// SupervisorServer is the server API for the Supervisor service.
type SupervisorServer interface {
	// Call invokes one supervisor verb.
	Call(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Events streams the notifications pushed to the caller session.
	Events(*emptypb.Empty, Supervisor_EventsServer) error
}

// UnimplementedSupervisorServer can be embedded to have forward compatible
// implementations.
type UnimplementedSupervisorServer struct{}

func (UnimplementedSupervisorServer) Call(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, errUnimplemented("Call")
}

func (UnimplementedSupervisorServer) Events(*emptypb.Empty, Supervisor_EventsServer) error {
	return errUnimplemented("Events")
}

// Supervisor_EventsServer is the server side of the Events stream.
type Supervisor_EventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type supervisorEventsServer struct {
	grpc.ServerStream
}

func (x *supervisorEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterSupervisorServer registers srv on s.
func RegisterSupervisorServer(s grpc.ServiceRegistrar, srv SupervisorServer) {
	s.RegisterService(&Supervisor_ServiceDesc, srv)
}

func _Supervisor_Call_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SupervisorServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CallMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SupervisorServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Supervisor_Events_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SupervisorServer).Events(m, &supervisorEventsServer{stream})
}

// Supervisor_ServiceDesc is the grpc.ServiceDesc for the Supervisor service.
var Supervisor_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SupervisorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    _Supervisor_Call_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Events",
			Handler:       _Supervisor_Events_Handler,
			ServerStreams: true,
		},
	},
}
