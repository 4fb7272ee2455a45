package supervisor

import (
	"strconv"

	"gosupervisor/internal/rpc"
)

// Verbs whose peer-side name differs from the supervisor verb.
var peerVerbs = map[string]string{
	"sessions":      "slist",
	"session-close": "sclose",
	"debug-wait":    "wait",
	"debug-break":   "break",
}

func (s *Supervisor) verbTable() map[string]rpc.Handler {
	return map[string]rpc.Handler{
		"list":          s.list,
		"subscribe":     s.subscribe,
		"discover":      s.discover,
		"do":            s.forwarder("do", false),
		"config":        s.forwarder("config", false),
		"trace":         s.forwarder("trace", false),
		"sessions":      s.forwarder("sessions", false),
		"session-close": s.forwarder("session-close", false),
		"exit":          s.forwarder("exit", true),
		"debug-wait":    s.forwarder("debug-wait", true),
		"debug-break":   s.forwarder("debug-break", true),
	}
}

// Dispatch routes req to the handler of its verb. The reply may be
// resolved asynchronously; callers wait on req.
func (s *Supervisor) Dispatch(req *rpc.Request) {
	h, ok := s.verbs[req.Verb]
	if !ok {
		req.Reply(rpc.Fail(rpc.ErrUnknownVerb))
		return
	}
	h(req)
}

func (s *Supervisor) list(req *rpc.Request) {
	out := make(map[string]any)
	for _, p := range s.reg.List() {
		var item any
		if cred, ok := p.Credentials(); ok {
			item = cred.Fields()
		}
		out[strconv.Itoa(p.PID)] = item
	}
	req.Reply(rpc.Success(out))
}

// subscribe subscribes the caller to both peer events, or revokes both
// when the argument is false. A half-done subscription is rolled back.
func (s *Supervisor) subscribe(req *rpc.Request) {
	sub := req.Subscriber
	revoke := false
	if b, ok := rpc.Bool(req.Args); ok && !b {
		revoke = true
	}

	ok := true
	if !revoke {
		ok = sub != nil &&
			s.addPID.Subscribe(sub) == nil &&
			s.delPID.Subscribe(sub) == nil
	}
	if (revoke || !ok) && sub != nil {
		s.addPID.Unsubscribe(sub)
		s.delPID.Unsubscribe(sub)
	}

	if !ok {
		req.Reply(rpc.Fail(rpc.ErrGeneric))
		return
	}
	req.Reply(rpc.Success(nil))
}

func (s *Supervisor) discover(req *rpc.Request) {
	n := s.Discover()
	req.Reply(rpc.Reply{Info: strconv.Itoa(n)})
}

// forwarder relays verb to the peer named by the "pid" argument. Detached
// verbs answer the caller once the call is written to the peer, without
// waiting for the peer's reply.
func (s *Supervisor) forwarder(verb string, detached bool) rpc.Handler {
	target := verb
	if v, ok := peerVerbs[verb]; ok {
		target = v
	}
	return func(req *rpc.Request) {
		obj, ok := rpc.Object(req.Args)
		if !ok {
			req.Reply(rpc.Fail(rpc.ErrNoPID))
			return
		}
		raw, ok := obj["pid"]
		if !ok {
			req.Reply(rpc.Fail(rpc.ErrNoPID))
			return
		}
		pid := rpc.Int(raw)
		if pid == 0 {
			req.Reply(rpc.Fail(rpc.ErrBadPID))
			return
		}
		peer, ok := s.reg.Lookup(pid)
		if !ok {
			req.Reply(rpc.Fail(rpc.ErrUnknownPID))
			return
		}

		args := rpc.Without(obj, "pid")
		log := s.logger.With().Int("pid", pid).Str("verb", target).Logger()
		if detached {
			err := peer.Conn.Call(target, args, func(rep rpc.Reply) {
				if !rep.OK() {
					log.Debug().Str("error", rep.Error).Msg("detached call failed")
				}
			})
			if err != nil {
				log.Debug().Err(err).Msg("detached call not sent")
			}
			req.Reply(rpc.Success(nil))
			return
		}

		err := peer.Conn.Call(target, args, func(rep rpc.Reply) { req.Reply(rep) })
		if err != nil {
			log.Debug().Err(err).Msg("forward failed")
			req.Reply(rpc.Fail(rpc.ErrDisconnected))
		}
	}
}
