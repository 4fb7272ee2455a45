package stub

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"gosupervisor/internal/rpc"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
)

var (
	ErrClosed         = errors.New("stub: connection closed")
	ErrAlreadyStarted = errors.New("stub: connection already started")
)

// HangupObserver is told when a started connection loses its peer.
type HangupObserver interface {
	PeerHungUp(c *Conn)
}

// HangupFunc adapts a function to HangupObserver.
type HangupFunc func(c *Conn)

func (f HangupFunc) PeerHungUp(c *Conn) { f(c) }

// Conn is one framed connection to a peer. Calls may be issued from any
// goroutine; replies arrive asynchronously through callbacks.
type Conn struct {
	api    string
	raw    net.Conn
	apis   *APISet
	logger zerolog.Logger

	wmu sync.Mutex
	enc *cbor.Encoder

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]func(rpc.Reply)
	closed  bool
	started bool

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps raw. Outgoing calls target the remote api named api; incoming
// calls are served from apis.
func New(raw net.Conn, api string, apis *APISet, logger zerolog.Logger) *Conn {
	return &Conn{
		api:     api,
		raw:     raw,
		apis:    apis,
		logger:  logger,
		enc:     encMode.NewEncoder(raw),
		pending: make(map[uint64]func(rpc.Reply)),
		done:    make(chan struct{}),
	}
}

// API returns the remote api name calls are addressed to.
func (c *Conn) API() string { return c.api }

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Start begins reading from the peer. obs, if not nil, is notified exactly
// once when the connection ends.
func (c *Conn) Start(obs HangupObserver) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	go c.readLoop(obs)
	return nil
}

// Call sends verb and args to the peer. onReply receives the peer's reply,
// or a "disconnected" failure if the peer goes away first. A non-nil error
// means the call was never sent and onReply will not be invoked.
func (c *Conn) Call(verb string, args any, onReply func(rpc.Reply)) error {
	if onReply == nil {
		onReply = func(rpc.Reply) {}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = onReply
	c.mu.Unlock()

	err := c.send(message{Kind: kindCall, ID: id, API: c.api, Verb: verb, Data: args})
	if err != nil {
		if c.takePending(id) == nil {
			// already failed by the hangup path
			return nil
		}
		return fmt.Errorf("stub: call %s: %w", verb, err)
	}
	return nil
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.raw.Close()
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if !started {
			c.finish()
		}
	})
	return err
}

func (c *Conn) send(m message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(m)
}

func (c *Conn) takePending(id uint64) func(rpc.Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn := c.pending[id]
	delete(c.pending, id)
	return fn
}

func (c *Conn) readLoop(obs HangupObserver) {
	dec := decMode.NewDecoder(c.raw)
	for {
		var m message
		if err := dec.Decode(&m); err != nil {
			if undecodable(err) {
				c.logger.Warn().Err(err).Msg("undecodable peer message skipped")
				c.reject(m)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug().Err(err).Msg("peer read failed")
			}
			break
		}
		c.dispatch(m)
	}
	c.raw.Close()
	c.finish()
	if obs != nil {
		obs.PeerHungUp(c)
	}
}

// undecodable reports a well-formed message whose content does not fit the
// envelope. The decoder has consumed it and the stream stays in sync.
func undecodable(err error) bool {
	var typeErr *cbor.UnmarshalTypeError
	var dupErr *cbor.DupMapKeyError
	var fieldErr *cbor.UnknownFieldError
	return errors.As(err, &typeErr) || errors.As(err, &dupErr) || errors.As(err, &fieldErr)
}

// reject answers whatever could be recovered from a skipped message.
func (c *Conn) reject(m message) {
	if m.ID == 0 {
		return
	}
	switch m.Kind {
	case kindCall:
		c.reply(m.ID, rpc.Fail(rpc.ErrInvalidRequest))
	case kindReply:
		if fn := c.takePending(m.ID); fn != nil {
			fn(rpc.Fail(rpc.ErrInvalidRequest))
		}
	}
}

// finish marks the connection closed and fails every pending call.
func (c *Conn) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]func(rpc.Reply))
	c.mu.Unlock()

	for _, fn := range pending {
		fn(rpc.Fail(rpc.ErrDisconnected))
	}
	close(c.done)
}

func (c *Conn) dispatch(m message) {
	switch m.Kind {
	case kindReply:
		fn := c.takePending(m.ID)
		if fn == nil {
			c.logger.Debug().Uint64("id", m.ID).Msg("reply for unknown call dropped")
			return
		}
		fn(rpc.Reply{Data: m.Data, Error: m.Error, Info: m.Info})
	case kindCall:
		c.serve(m)
	case kindEvent:
		c.logger.Debug().Str("event", m.Verb).Msg("peer event ignored")
	default:
		c.logger.Warn().Uint8("kind", m.Kind).Msg("unknown message kind")
	}
}

func (c *Conn) serve(m message) {
	h, errName := c.apis.lookup(m.API, m.Verb)
	if h == nil {
		c.reply(m.ID, rpc.Fail(errName))
		return
	}
	req := rpc.NewRequest(m.Verb, m.Data, nil)
	go func() {
		h(req)
		select {
		case <-req.Done():
			rep, _ := req.Result()
			c.reply(m.ID, rep)
		case <-c.done:
		}
	}()
}

func (c *Conn) reply(id uint64, rep rpc.Reply) {
	err := c.send(message{Kind: kindReply, ID: id, Data: rep.Data, Error: rep.Error, Info: rep.Info})
	if err != nil {
		c.logger.Debug().Err(err).Uint64("id", id).Msg("reply not sent")
	}
}
