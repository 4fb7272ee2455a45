package app

import (
	"context"
	"errors"
	"io"
	"testing"

	supervisorv1 "gosupervisor/api/supervisor/v1"
	"gosupervisor/internal/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeConn struct {
	invoke func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error
	events []*structpb.Struct
	// streamCtx records the context the event stream was opened with.
	streamCtx context.Context
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
	if f.invoke != nil {
		return f.invoke(ctx, method, args, reply, opts...)
	}
	return nil
}

func (f *fakeConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if method != supervisorv1.EventsMethod {
		return nil, errors.New("not implemented")
	}
	f.streamCtx = ctx
	return &fakeStream{ctx: ctx, msgs: f.events}, nil
}

func (f *fakeConn) Close() error { return nil }

type fakeStream struct {
	ctx  context.Context
	msgs []*structpb.Struct
}

func (s *fakeStream) Header() (metadata.MD, error) { return nil, nil }
func (s *fakeStream) Trailer() metadata.MD         { return nil }
func (s *fakeStream) CloseSend() error             { return nil }
func (s *fakeStream) Context() context.Context     { return s.ctx }
func (s *fakeStream) SendMsg(m any) error          { return nil }

func (s *fakeStream) RecvMsg(m any) error {
	if len(s.msgs) == 0 {
		return io.EOF
	}
	m.(*structpb.Struct).Fields = s.msgs[0].Fields
	s.msgs = s.msgs[1:]
	return nil
}

// replyWith answers every Call with rep and hands the session header sid
// back to the caller when not empty.
func replyWith(t *testing.T, sid string, rep rpc.Reply, inspect func(verb string, args any)) func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
	return func(ctx context.Context, method string, args interface{}, reply interface{}, opts ...grpc.CallOption) error {
		if method != supervisorv1.CallMethod {
			t.Fatalf("unexpected method %s", method)
		}
		verb, a, err := supervisorv1.ParseCallRequest(args.(*structpb.Struct))
		if err != nil {
			t.Fatalf("bad request: %v", err)
		}
		if inspect != nil {
			inspect(verb, a)
		}
		out, err := supervisorv1.NewReply(rep)
		if err != nil {
			t.Fatalf("bad reply: %v", err)
		}
		reply.(*structpb.Struct).Fields = out.Fields
		if sid != "" {
			for _, opt := range opts {
				if h, ok := opt.(grpc.HeaderCallOption); ok {
					*h.HeaderAddr = metadata.Pairs(supervisorv1.SessionHeader, sid)
				}
			}
		}
		return nil
	}
}

func stubDaemon(t *testing.T, running bool, dial func(context.Context) (supervisorv1.SupervisorClient, io.Closer, error)) {
	t.Helper()
	resetDaemonDeps()
	daemonIsRunning = func() bool { return running }
	if dial == nil {
		dial = func(context.Context) (supervisorv1.SupervisorClient, io.Closer, error) {
			return nil, nil, errors.New("dial not stubbed")
		}
	}
	dialDaemonClient = dial
	t.Cleanup(resetDaemonDeps)
}

func stubConn(t *testing.T, conn *fakeConn) {
	t.Helper()
	stubDaemon(t, true, func(context.Context) (supervisorv1.SupervisorClient, io.Closer, error) {
		return supervisorv1.NewSupervisorClient(conn), conn, nil
	})
}
