package supervisor

import (
	"context"
	"errors"
	"time"

	"gosupervisor/internal/rpc"
	"gosupervisor/internal/session"
)

// Endpoint serves supervisor verbs to API callers. Callers are tracked by
// session id so that subscriptions outlive a single call.
type Endpoint struct {
	sup      *Supervisor
	sessions *session.Manager
	timeout  time.Duration
}

// NewEndpoint answers calls with sup. A positive timeout bounds the wait
// for every reply.
func NewEndpoint(sup *Supervisor, sessions *session.Manager, timeout time.Duration) *Endpoint {
	return &Endpoint{sup: sup, sessions: sessions, timeout: timeout}
}

// Call runs verb on behalf of session sid and returns the reply together
// with the id of the session used, "" if none. The subscribe verb creates
// the session when sid is empty or unknown.
func (e *Endpoint) Call(ctx context.Context, sid, verb string, args any) (rpc.Reply, string, error) {
	create := verb == "subscribe"
	var sub rpc.Subscriber
	if sid != "" || create {
		if sid == "" {
			sid = session.NewID()
		}
		s, err := e.sessions.Get(sid, create)
		switch {
		case err == nil:
			sub = s
		case errors.Is(err, session.ErrUnknownSession):
			sid = ""
		default:
			return rpc.Reply{}, "", err
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	req := rpc.NewRequest(verb, args, sub)
	e.sup.Dispatch(req)
	rep, err := req.Wait(ctx)
	if err != nil {
		return rpc.Reply{}, sid, err
	}
	return rep, sid, nil
}

// Attach opens session sid for streaming, creating it if needed. The
// returned func must be called when the stream ends.
func (e *Endpoint) Attach(sid string) (*session.Session, func(), error) {
	if sid == "" {
		sid = session.NewID()
	}
	s, err := e.sessions.Get(sid, true)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Attach(), nil
}

// Verbs lists the verbs callers may use.
func (e *Endpoint) Verbs() []string {
	return e.sup.Verbs()
}
