package supervisorv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SupervisorClient is the client API for the Supervisor service.
type SupervisorClient interface {
	Call(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Events(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Supervisor_EventsClient, error)
}

type supervisorClient struct {
	cc grpc.ClientConnInterface
}

// NewSupervisorClient wraps cc.
func NewSupervisorClient(cc grpc.ClientConnInterface) SupervisorClient {
	return &supervisorClient{cc}
}

func (c *supervisorClient) Call(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CallMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *supervisorClient) Events(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (Supervisor_EventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &Supervisor_ServiceDesc.Streams[0], EventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &supervisorEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Supervisor_EventsClient is the client side of the Events stream.
type Supervisor_EventsClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type supervisorEventsClient struct {
	grpc.ClientStream
}

func (x *supervisorEventsClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func errUnimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}
