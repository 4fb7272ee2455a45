package app

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// ForwardVerbs are the verbs relayed to one supervised peer.
var ForwardVerbs = []string{
	"do", "config", "trace", "sessions", "session-close",
	"exit", "debug-wait", "debug-break",
}

// ForwardParams targets one peer.
type ForwardParams struct {
	Verb    string
	PID     int
	Args    map[string]any
	Timeout time.Duration
}

// Forward relays a verb to the peer params.PID and returns the peer's
// reply data.
func (a *App) Forward(ctx context.Context, params ForwardParams) (any, error) {
	if !isForwardVerb(params.Verb) {
		return nil, fmt.Errorf("%q is not a forwarded verb", params.Verb)
	}
	if params.PID <= 0 {
		return nil, fmt.Errorf("invalid pid: %d", params.PID)
	}
	args := make(map[string]any, len(params.Args)+1)
	for k, v := range params.Args {
		args[k] = v
	}
	args["pid"] = params.PID

	rep, err := a.call(ctx, CallParams{Verb: params.Verb, Args: args, Timeout: params.Timeout})
	if err != nil {
		return nil, err
	}
	return rep.Data, nil
}

func isForwardVerb(verb string) bool {
	for _, v := range ForwardVerbs {
		if v == verb {
			return true
		}
	}
	return false
}

// Discover asks the daemon to signal unattached instances and returns how
// many were signalled.
func (a *App) Discover(ctx context.Context, timeout time.Duration) (int, error) {
	rep, err := a.call(ctx, CallParams{Verb: "discover", Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if rep.Info == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(rep.Info)
	if err != nil {
		return 0, fmt.Errorf("discover: unexpected info %q", rep.Info)
	}
	return n, nil
}

// Subscribe subscribes the caller session to peer events, or revokes the
// subscription when enable is false.
func (a *App) Subscribe(ctx context.Context, enable bool, timeout time.Duration) error {
	_, err := a.call(ctx, CallParams{Verb: "subscribe", Args: enable, Timeout: timeout})
	return err
}
