package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	supervisorv1 "gosupervisor/api/supervisor/v1"
	"gosupervisor/internal/rpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Watch subscribes to peer events and calls fn for each one until ctx ends,
// the stream closes or fn fails. timeout bounds connection setup only.
func (a *App) Watch(ctx context.Context, timeout time.Duration, fn func(Notification) error) error {
	if err := a.Subscribe(ctx, true, timeout); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	client, conn, err := dialDaemonClient(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	if conn != nil {
		defer conn.Close()
	}

	stream, err := client.Events(a.outgoing(ctx), &emptypb.Empty{})
	if err != nil {
		return fmt.Errorf("daemon events RPC failed: %w", err)
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		event, data := supervisorv1.ParseEvent(msg)
		if err := fn(Notification{Event: event, PID: rpc.Int(data)}); err != nil {
			return err
		}
	}
}
