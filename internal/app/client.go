package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	supervisorv1 "gosupervisor/api/supervisor/v1"
	"gosupervisor/internal/daemon"
	"gosupervisor/internal/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

var (
	daemonIsRunning  = daemon.IsRunning
	dialDaemonClient = func(ctx context.Context) (supervisorv1.SupervisorClient, io.Closer, error) {
		client, conn, err := daemon.Dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		return client, conn, nil
	}
)

func resetDaemonDeps() {
	daemonIsRunning = daemon.IsRunning
	dialDaemonClient = func(ctx context.Context) (supervisorv1.SupervisorClient, io.Closer, error) {
		client, conn, err := daemon.Dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		return client, conn, nil
	}
}

func (a *App) withClient(ctx context.Context, timeout time.Duration, fn func(context.Context, supervisorv1.SupervisorClient) error) error {
	if timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	if !daemonIsRunning() {
		return errors.New("daemon is not running")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, conn, err := dialDaemonClient(ctx)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	if conn != nil {
		defer conn.Close()
	}

	return fn(a.outgoing(ctx), client)
}

// outgoing attaches the caller session to ctx.
func (a *App) outgoing(ctx context.Context) context.Context {
	if sid := a.Session(); sid != "" {
		return metadata.AppendToOutgoingContext(ctx, supervisorv1.SessionHeader, sid)
	}
	return ctx
}

// ReplyError is a verb that completed with an error reply.
type ReplyError struct {
	Verb string
	Name string
	Info string
}

func (e *ReplyError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Verb, e.Name, e.Info)
	}
	return fmt.Sprintf("%s: %s", e.Verb, e.Name)
}

// CallParams names a verb and its arguments.
type CallParams struct {
	Verb    string
	Args    any
	Timeout time.Duration
}

// Call invokes any supervisor verb and returns its reply as is, error
// replies included.
func (a *App) Call(ctx context.Context, params CallParams) (rpc.Reply, error) {
	in, err := supervisorv1.NewCallRequest(params.Verb, params.Args)
	if err != nil {
		return rpc.Reply{}, err
	}

	var rep rpc.Reply
	err = a.withClient(ctx, params.Timeout, func(ctx context.Context, client supervisorv1.SupervisorClient) error {
		var header metadata.MD
		out, err := client.Call(ctx, in, grpc.Header(&header))
		if err != nil {
			return fmt.Errorf("daemon %s RPC failed: %w", params.Verb, err)
		}
		if v := header.Get(supervisorv1.SessionHeader); len(v) > 0 {
			a.setSession(v[0])
		}
		rep = supervisorv1.ParseReply(out)
		return nil
	})
	return rep, err
}

// call is Call with error replies turned into *ReplyError.
func (a *App) call(ctx context.Context, params CallParams) (rpc.Reply, error) {
	rep, err := a.Call(ctx, params)
	if err != nil {
		return rep, err
	}
	if !rep.OK() {
		return rep, &ReplyError{Verb: params.Verb, Name: rep.Error, Info: rep.Info}
	}
	return rep, nil
}
