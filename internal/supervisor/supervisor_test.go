package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"gosupervisor/internal/discovery"
	"gosupervisor/internal/identity"
	"gosupervisor/internal/rpc"
	"gosupervisor/internal/stub"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// harness identifies connections from a table filled by attach.
type harness struct {
	t    *testing.T
	sup  *Supervisor
	pids sync.Map

	mu     sync.Mutex
	killed map[int]syscall.Signal
}

func (h *harness) Identify(c net.Conn) (identity.Identity, error) {
	v, ok := h.pids.Load(c)
	if !ok {
		return nil, nil
	}
	return identity.Credentials{Pid: v.(int), UID: 1000, GID: 1000, User: "agl", Label: "User::App::demo", ID: "demo"}, nil
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, killed: make(map[int]syscall.Signal)}
	if opts.Identifier == nil {
		opts.Identifier = h
	}
	if opts.Self == 0 {
		opts.Self = 1
	}
	opts.Kill = func(pid int, sig syscall.Signal) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.killed[pid] = sig
		return nil
	}
	opts.Logger = zerolog.Nop()
	sup, err := New(opts)
	require.NoError(t, err)
	h.sup = sup
	return h
}

// attach connects a peer serving verbs and returns its side of the link
// together with the pid the supervisor registered it under.
func (h *harness) attach(pid int, verbs map[string]rpc.Handler) (*stub.Conn, int) {
	h.t.Helper()
	srv, cli := net.Pipe()
	if pid != 0 {
		h.pids.Store(srv, pid)
	}
	type result struct {
		pid int
		err error
	}
	res := make(chan result, 1)
	go func() {
		p, err := h.sup.Admit(srv)
		res <- result{p, err}
	}()

	ini, err := stub.ReadInitiator(cli)
	require.NoError(h.t, err)
	require.Equal(h.t, stub.InterfaceV1, ini.Interface)

	peer := stub.New(cli, SupervisionAPI, stub.NewAPISet(SupervisionAPI, verbs), zerolog.Nop())
	require.NoError(h.t, peer.Start(nil))
	h.t.Cleanup(func() { peer.Close() })

	r := <-res
	require.NoError(h.t, r.err)
	return peer, r.pid
}

func (h *harness) call(verb string, args any, sub rpc.Subscriber) rpc.Reply {
	h.t.Helper()
	req := rpc.NewRequest(verb, args, sub)
	h.sup.Dispatch(req)
	select {
	case <-req.Done():
	case <-time.After(waitFor):
		h.t.Fatalf("%s: no reply", verb)
	}
	rep, _ := req.Result()
	return rep
}

type pushed struct {
	event string
	data  any
}

type recorder struct {
	id     string
	refuse string
	ch     chan pushed
}

func newRecorder(id string) *recorder {
	return &recorder{id: id, ch: make(chan pushed, 16)}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Accept(event string) error {
	if event == r.refuse {
		return errors.New("refused")
	}
	return nil
}

func (r *recorder) Push(event string, data any) error {
	r.ch <- pushed{event, data}
	return nil
}

func (r *recorder) next(t *testing.T) pushed {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(waitFor):
		t.Fatal("no event pushed")
		return pushed{}
	}
}

func echo(req *rpc.Request) { req.Reply(rpc.Success(req.Args)) }

func TestAttachListAndDetach(t *testing.T) {
	h := newHarness(t, Options{})
	obs := newRecorder("obs")
	require.True(t, h.call("subscribe", nil, obs).OK())

	peer, pid := h.attach(4242, nil)
	require.Equal(t, 4242, pid)
	require.Equal(t, pushed{EventAddPID, 4242}, obs.next(t))

	rep := h.call("list", nil, nil)
	require.True(t, rep.OK())
	list := rep.Data.(map[string]any)
	require.Len(t, list, 1)
	item := list["4242"].(map[string]any)
	require.Equal(t, 4242, item["pid"])
	require.Equal(t, "agl", item["user"])
	require.Equal(t, "demo", item["id"])

	require.NoError(t, peer.Close())
	require.Equal(t, pushed{EventDelPID, 4242}, obs.next(t))
	require.Empty(t, h.call("list", nil, nil).Data)
}

func TestListWithoutCredentials(t *testing.T) {
	h := newHarness(t, Options{Identifier: identity.Unverified{}})
	_, pid := h.attach(0, nil)
	require.Equal(t, 1, pid)

	rep := h.call("list", nil, nil)
	list := rep.Data.(map[string]any)
	v, ok := list["1"]
	require.True(t, ok)
	require.Nil(t, v)
}

func TestForwardStripsPID(t *testing.T) {
	h := newHarness(t, Options{})
	h.attach(4242, map[string]rpc.Handler{"config": echo})

	rep := h.call("config", map[string]any{"pid": 4242, "verbose": true}, nil)
	require.True(t, rep.OK(), rep.Error)
	require.Equal(t, map[string]any{"verbose": true}, rep.Data)
}

func TestForwardStripsPIDInAnyForm(t *testing.T) {
	h := newHarness(t, Options{})
	got := make(chan any, 1)
	h.attach(7, map[string]rpc.Handler{
		"config": func(req *rpc.Request) {
			got <- req.Args
			req.Reply(rpc.Success(nil))
		},
	})

	for _, pid := range []any{"7", 7.0, json.Number("7")} {
		rep := h.call("config", map[string]any{"pid": pid, "level": "debug"}, nil)
		require.True(t, rep.OK(), rep.Error)
		select {
		case args := <-got:
			require.Equal(t, map[string]any{"level": "debug"}, args, "pid as %T", pid)
		case <-time.After(waitFor):
			t.Fatalf("pid as %T: config not forwarded", pid)
		}
	}
}

func TestForwardRenamesVerbs(t *testing.T) {
	h := newHarness(t, Options{})
	got := make(chan string, 1)
	h.attach(7, map[string]rpc.Handler{
		"slist": func(req *rpc.Request) {
			got <- "slist"
			req.Reply(rpc.Success([]any{"s1"}))
		},
	})

	rep := h.call("sessions", map[string]any{"pid": "7"}, nil)
	require.True(t, rep.OK())
	require.Equal(t, []any{"s1"}, rep.Data)
	require.Equal(t, "slist", <-got)
}

func TestForwardErrors(t *testing.T) {
	h := newHarness(t, Options{})
	h.attach(4242, nil)

	require.Equal(t, rpc.ErrNoPID, h.call("do", map[string]any{}, nil).Error)
	require.Equal(t, rpc.ErrNoPID, h.call("do", "4242", nil).Error)
	require.Equal(t, rpc.ErrNoPID, h.call("do", nil, nil).Error)
	require.Equal(t, rpc.ErrBadPID, h.call("do", map[string]any{"pid": 0}, nil).Error)
	require.Equal(t, rpc.ErrBadPID, h.call("do", map[string]any{"pid": "abc"}, nil).Error)
	require.Equal(t, rpc.ErrUnknownPID, h.call("do", map[string]any{"pid": 9999}, nil).Error)
	require.Equal(t, rpc.ErrUnknownVerb, h.call("frobnicate", nil, nil).Error)
}

func TestForwardPeerError(t *testing.T) {
	h := newHarness(t, Options{})
	h.attach(12, map[string]rpc.Handler{"do": echo})
	h.attach(13, nil)

	rep := h.call("trace", map[string]any{"pid": 12}, nil)
	require.Equal(t, rpc.ErrUnknownVerb, rep.Error)

	rep = h.call("trace", map[string]any{"pid": 13}, nil)
	require.Equal(t, rpc.ErrUnknownAPI, rep.Error)
}

func TestDetachedVerbRepliesImmediately(t *testing.T) {
	h := newHarness(t, Options{})
	got := make(chan any, 1)
	h.attach(4242, map[string]rpc.Handler{
		"exit": func(req *rpc.Request) {
			got <- req.Args
			// never replies
		},
		"wait": func(req *rpc.Request) { req.Reply(rpc.Fail("busy")) },
	})

	rep := h.call("exit", map[string]any{"pid": 4242, "code": 3}, nil)
	require.True(t, rep.OK())
	require.Nil(t, rep.Data)

	select {
	case args := <-got:
		require.Equal(t, map[string]any{"code": uint64(3)}, args)
	case <-time.After(waitFor):
		t.Fatal("exit not forwarded")
	}

	require.True(t, h.call("debug-wait", map[string]any{"pid": 4242}, nil).OK())
	require.Equal(t, rpc.ErrUnknownPID, h.call("exit", map[string]any{"pid": 1}, nil).Error)
}

func TestDetachedVerbRepliesAfterForwarding(t *testing.T) {
	h := newHarness(t, Options{})
	srv, cli := net.Pipe()
	defer cli.Close()
	h.pids.Store(srv, 21)

	res := make(chan error, 1)
	go func() {
		_, err := h.sup.Admit(srv)
		res <- err
	}()
	_, err := stub.ReadInitiator(cli)
	require.NoError(t, err)
	require.NoError(t, <-res)

	req := rpc.NewRequest("exit", map[string]any{"pid": 21}, nil)
	go h.sup.Dispatch(req)

	// Nothing reads cli yet, so the forward cannot have been written.
	select {
	case <-req.Done():
		t.Fatal("exit answered before reaching the peer")
	case <-time.After(50 * time.Millisecond):
	}

	var frame struct {
		Verb string `cbor:"v"`
	}
	require.NoError(t, cbor.NewDecoder(cli).Decode(&frame))
	require.Equal(t, "exit", frame.Verb)

	select {
	case <-req.Done():
	case <-time.After(waitFor):
		t.Fatal("exit not answered")
	}
	rep, _ := req.Result()
	require.True(t, rep.OK())
}

func TestForwardToDisconnectedPeer(t *testing.T) {
	h := newHarness(t, Options{})
	block := make(chan struct{})
	peer, _ := h.attach(5, map[string]rpc.Handler{
		"do": func(req *rpc.Request) { <-block },
	})
	defer close(block)

	req := rpc.NewRequest("do", map[string]any{"pid": 5}, nil)
	h.sup.Dispatch(req)
	require.NoError(t, peer.Close())

	select {
	case <-req.Done():
	case <-time.After(waitFor):
		t.Fatal("pending call not failed")
	}
	rep, _ := req.Result()
	require.Equal(t, rpc.ErrDisconnected, rep.Error)
}

func TestSubscribeIsAtomic(t *testing.T) {
	h := newHarness(t, Options{})
	sub := newRecorder("half")
	sub.refuse = EventDelPID

	rep := h.call("subscribe", true, sub)
	require.Equal(t, rpc.ErrGeneric, rep.Error)
	require.False(t, h.sup.addPID.Subscribed(sub))
	require.False(t, h.sup.delPID.Subscribed(sub))

	require.Equal(t, rpc.ErrGeneric, h.call("subscribe", nil, nil).Error)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, Options{})
	sub := newRecorder("s")
	require.True(t, h.call("subscribe", nil, sub).OK())
	require.True(t, h.sup.addPID.Subscribed(sub))

	require.True(t, h.call("subscribe", false, sub).OK())
	require.False(t, h.sup.addPID.Subscribed(sub))
	require.False(t, h.sup.delPID.Subscribed(sub))

	require.True(t, h.call("subscribe", nil, sub).OK())
	h.sup.Unsubscribe(sub)
	require.False(t, h.sup.delPID.Subscribed(sub))
}

func TestAdmitRejectsSelf(t *testing.T) {
	h := newHarness(t, Options{Self: 77})
	srv, cli := net.Pipe()
	defer cli.Close()
	h.pids.Store(srv, 77)

	_, err := h.sup.Admit(srv)
	require.ErrorIs(t, err, ErrSelf)
	require.Equal(t, 0, h.sup.Registry().Len())
}

func TestAdmitRejectsDuplicatePID(t *testing.T) {
	h := newHarness(t, Options{})
	h.attach(10, nil)

	srv, cli := net.Pipe()
	h.pids.Store(srv, 10)
	go stub.ReadInitiator(cli)
	_, err := h.sup.Admit(srv)
	require.Error(t, err)
	require.Equal(t, 1, h.sup.Registry().Len())
	cli.Close()
}

func TestAdmitHandshakeFailure(t *testing.T) {
	h := newHarness(t, Options{})
	srv, cli := net.Pipe()
	h.pids.Store(srv, 10)
	cli.Close()

	_, err := h.sup.Admit(srv)
	require.Error(t, err)
	require.Equal(t, 0, h.sup.Registry().Len())
}

func TestHangupIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	obs := newRecorder("obs")
	require.True(t, h.call("subscribe", nil, obs).OK())

	peer, _ := h.attach(3, nil)
	obs.next(t)
	require.NoError(t, peer.Close())
	require.Equal(t, EventDelPID, obs.next(t).event)

	select {
	case p := <-obs.ch:
		t.Fatalf("unexpected event %v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRepeatedHangupAnnouncesOnce(t *testing.T) {
	h := newHarness(t, Options{})
	obs := newRecorder("obs")
	require.True(t, h.call("subscribe", nil, obs).OK())

	_, pid := h.attach(8, nil)
	obs.next(t)
	p, ok := h.sup.Registry().Lookup(pid)
	require.True(t, ok)
	conn, ok := p.Conn.(*stub.Conn)
	require.True(t, ok)

	h.sup.PeerHungUp(conn)
	h.sup.PeerHungUp(conn)
	require.Equal(t, pushed{EventDelPID, 8}, obs.next(t))
	require.Equal(t, 0, h.sup.Registry().Len())

	select {
	case p := <-obs.ch:
		t.Fatalf("unexpected event %v", p)
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 0, h.sup.Registry().Len())
}

func TestServeStopsOnCancel(t *testing.T) {
	h := newHarness(t, Options{Identifier: identity.Unverified{}})
	dir := t.TempDir()
	ln, err := net.Listen("unix", filepath.Join(dir, "supervisor"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.sup.Serve(ctx, ln) }()

	c, err := net.Dial("unix", filepath.Join(dir, "supervisor"))
	require.NoError(t, err)
	ini, err := stub.ReadInitiator(c)
	require.NoError(t, err)
	require.Equal(t, stub.InterfaceV1, ini.Interface)
	require.Eventually(t, func() bool { return h.sup.Registry().Len() == 1 }, waitFor, 10*time.Millisecond)
	c.Close()
	require.Eventually(t, func() bool { return h.sup.Registry().Len() == 0 }, waitFor, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}

func TestServeReportsLostListener(t *testing.T) {
	h := newHarness(t, Options{})
	ln, err := net.Listen("unix", filepath.Join(t.TempDir(), "supervisor"))
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.ErrorIs(t, h.sup.Serve(ctx, ln), ErrRendezvousLost)
}

// flakyListener fails its first Accept the way a process out of
// descriptors does.
type flakyListener struct {
	net.Listener
	failed atomic.Bool
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failed.CompareAndSwap(false, true) {
		return nil, &net.OpError{Op: "accept", Net: "unix", Err: os.NewSyscallError("accept4", syscall.EMFILE)}
	}
	return l.Listener.Accept()
}

func TestServeSurvivesTransientAcceptErrors(t *testing.T) {
	h := newHarness(t, Options{Identifier: identity.Unverified{}})
	path := filepath.Join(t.TempDir(), "supervisor")
	inner, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln := &flakyListener{Listener: inner}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.sup.Serve(ctx, ln) }()

	c, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer c.Close()
	_, err = stub.ReadInitiator(c)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.sup.Registry().Len() == 1 }, waitFor, 10*time.Millisecond)
	require.True(t, ln.failed.Load())

	cancel()
	require.NoError(t, <-errc)
}

func procTree(t *testing.T, exes map[int]string) discovery.Scanner {
	t.Helper()
	root := t.TempDir()
	for pid, exe := range exes {
		dir := filepath.Join(root, strconv.Itoa(pid))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.Symlink(exe, filepath.Join(dir, "exe")))
	}
	return discovery.Scanner{Root: root}
}

func TestDiscoverSignalsUnattached(t *testing.T) {
	scanner := procTree(t, map[int]string{
		100: "/usr/bin/afb-daemon",
		101: "/usr/bin/afb-daemon",
		102: "/usr/bin/bash",
		1:   "/usr/bin/afb-daemon",
	})
	h := newHarness(t, Options{Scanner: scanner})
	h.attach(100, nil)

	rep := h.call("discover", nil, nil)
	require.True(t, rep.OK())
	require.Equal(t, "1", rep.Info)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, map[int]syscall.Signal{101: syscall.SIGHUP}, h.killed)
}

func TestDiscoverCustomSignal(t *testing.T) {
	scanner := procTree(t, map[int]string{200: "/opt/bin/my-binder"})
	h := newHarness(t, Options{Scanner: scanner, Target: "my-binder", Signal: syscall.SIGTERM})

	require.Equal(t, 1, h.sup.Discover())
	require.Equal(t, map[int]syscall.Signal{200: syscall.SIGTERM}, h.killed)
}

func TestDiscoverWithoutCredentials(t *testing.T) {
	scanner := procTree(t, map[int]string{300: "/usr/bin/afb-daemon"})
	h := newHarness(t, Options{Scanner: scanner, Identifier: identity.Unverified{}})
	h.attach(0, nil)

	require.Equal(t, 1, h.sup.Discover())
	require.Equal(t, map[int]syscall.Signal{300: syscall.SIGHUP}, h.killed)
}

func TestVerbs(t *testing.T) {
	h := newHarness(t, Options{})
	verbs := h.sup.Verbs()
	require.True(t, sort.StringsAreSorted(verbs))
	require.Contains(t, verbs, "list")
	require.Contains(t, verbs, "debug-break")
	require.Len(t, verbs, 11)
}
