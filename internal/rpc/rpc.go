// Package rpc holds the request/reply model shared by the verb router, the
// peer transport and the public API front ends.
package rpc

import (
	"context"
	"sync"
)

// Error names carried in Reply.Error.
const (
	ErrNoPID          = "no-pid"
	ErrBadPID         = "bad-pid"
	ErrUnknownPID     = "unknown-pid"
	ErrUnknownVerb    = "unknown-verb"
	ErrUnknownAPI     = "unknown-api"
	ErrDisconnected   = "disconnected"
	ErrInvalidRequest = "invalid-request"
	ErrGeneric        = "error"
)

// Reply is the outcome of one verb call. An empty Error means success.
type Reply struct {
	Data  any
	Error string
	Info  string
}

// OK reports whether the reply is a success.
func (r Reply) OK() bool {
	return r.Error == ""
}

// Success builds a successful reply.
func Success(data any) Reply {
	return Reply{Data: data}
}

// Fail builds an error reply with the given error name.
func Fail(name string) Reply {
	return Reply{Error: name}
}

// Subscriber is the caller-side identity used by verbs that manage event
// subscriptions. It is satisfied by events.Subscriber.
type Subscriber interface {
	ID() string
	Accept(event string) error
	Push(event string, data any) error
}

// Request is one inbound verb call together with its pending reply.
// The reply is resolved at most once; the first call to Reply wins.
type Request struct {
	Verb       string
	Args       any
	Subscriber Subscriber

	once  sync.Once
	done  chan struct{}
	reply Reply
}

// NewRequest creates a request whose reply is still pending.
func NewRequest(verb string, args any, sub Subscriber) *Request {
	return &Request{
		Verb:       verb,
		Args:       args,
		Subscriber: sub,
		done:       make(chan struct{}),
	}
}

// Reply resolves the request. It returns false if the request was already
// resolved, in which case rep is dropped.
func (r *Request) Reply(rep Reply) bool {
	resolved := false
	r.once.Do(func() {
		r.reply = rep
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the request has a reply.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result returns the reply without blocking, if there is one yet.
func (r *Request) Result() (Reply, bool) {
	select {
	case <-r.done:
		return r.reply, true
	default:
		return Reply{}, false
	}
}

// Wait blocks until the request is resolved or ctx ends.
func (r *Request) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-r.done:
		return r.reply, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Handler processes a request. It must eventually call req.Reply, possibly
// from another goroutine.
type Handler func(req *Request)
