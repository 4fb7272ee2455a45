package daemon

import (
	"context"
	"errors"

	supervisorv1 "gosupervisor/api/supervisor/v1"
	"gosupervisor/internal/session"
	"gosupervisor/internal/supervisor"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// service implements the Supervisor gRPC service on top of an endpoint.
type service struct {
	supervisorv1.UnimplementedSupervisorServer

	ep     *supervisor.Endpoint
	logger zerolog.Logger
}

func (s *service) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	verb, args, err := supervisorv1.ParseCallRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rep, sid, err := s.ep.Call(ctx, incomingSession(ctx), verb, args)
	if err != nil {
		return nil, statusFromError(err)
	}
	if sid != "" {
		_ = grpc.SetHeader(ctx, metadata.Pairs(supervisorv1.SessionHeader, sid))
	}

	out, err := supervisorv1.NewReply(rep)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%s: %v", verb, err)
	}
	return out, nil
}

func (s *service) Events(_ *emptypb.Empty, stream supervisorv1.Supervisor_EventsServer) error {
	ctx := stream.Context()
	sess, detach, err := s.ep.Attach(incomingSession(ctx))
	if err != nil {
		return statusFromError(err)
	}
	defer detach()

	if err := stream.SendHeader(metadata.Pairs(supervisorv1.SessionHeader, sess.ID())); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-sess.Notifications():
			if !ok {
				return status.Error(codes.Unavailable, "session ended")
			}
			msg, err := supervisorv1.NewEvent(n.Event, n.Data)
			if err != nil {
				s.logger.Warn().Err(err).Str("event", n.Event).Msg("notification dropped")
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func incomingSession(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(supervisorv1.SessionHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, session.ErrTooManySessions):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "supervisor reply timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
