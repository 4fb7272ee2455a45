package stub

import (
	"bytes"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"gosupervisor/internal/rpc"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestInitiatorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteInitiator(&buf, "monitor"))
	require.Equal(t, InitiatorSize, buf.Len())

	ini, err := ReadInitiator(&buf)
	require.NoError(t, err)
	require.Equal(t, Initiator{Interface: InterfaceV1, Extra: "monitor"}, ini)
}

func TestInitiatorExtraTruncated(t *testing.T) {
	long := "0123456789012345678901234567890123456789"
	b, err := Initiator{Interface: InterfaceV1, Extra: long}.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, byte(0), b[InitiatorSize-1])

	var ini Initiator
	require.NoError(t, ini.UnmarshalBinary(b))
	require.Equal(t, long[:ExtraSize-1], ini.Extra)
}

func TestWriteInitiatorFailures(t *testing.T) {
	require.ErrorIs(t, WriteInitiator(shortWriter{}, ""), ErrShortInitiator)
	require.Error(t, WriteInitiator(failWriter{}, ""))
}

func TestReadInitiatorRejectsUnknownTag(t *testing.T) {
	b, err := Initiator{Interface: "SOMETHING-ELSE"}.MarshalBinary()
	require.NoError(t, err)
	_, err = ReadInitiator(bytes.NewReader(b))
	require.ErrorIs(t, err, ErrUnknownInterface)

	_, err = ReadInitiator(bytes.NewReader(b[:10]))
	require.ErrorIs(t, err, ErrShortInitiator)
}

// pair returns the supervisor side (empty capability set) and a started
// peer side serving verbs.
func pair(t *testing.T, verbs map[string]rpc.Handler, obs HangupObserver) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	sup := New(a, "supervision", Empty("supervision"), zerolog.Nop())
	peer := New(b, "supervisor", NewAPISet("supervision", verbs), zerolog.Nop())
	require.NoError(t, peer.Start(nil))
	require.NoError(t, sup.Start(obs))
	t.Cleanup(func() {
		sup.Close()
		peer.Close()
	})
	return sup, peer
}

func call(t *testing.T, c *Conn, verb string, args any) rpc.Reply {
	t.Helper()
	got := make(chan rpc.Reply, 1)
	require.NoError(t, c.Call(verb, args, func(r rpc.Reply) { got <- r }))
	select {
	case r := <-got:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for %s", verb)
		return rpc.Reply{}
	}
}

func TestCallRoundTrip(t *testing.T) {
	sup, _ := pair(t, map[string]rpc.Handler{
		"do": func(req *rpc.Request) {
			req.Reply(rpc.Reply{Data: req.Args, Info: "echo"})
		},
	}, nil)

	r := call(t, sup, "do", map[string]any{"x": 1, "name": "n"})
	require.True(t, r.OK())
	require.Equal(t, "echo", r.Info)
	obj, ok := rpc.Object(r.Data)
	require.True(t, ok)
	require.Equal(t, 1, rpc.Int(obj["x"]))
	require.Equal(t, "n", obj["name"])
}

func TestCallUnknownVerb(t *testing.T) {
	sup, _ := pair(t, map[string]rpc.Handler{
		"do": func(req *rpc.Request) { req.Reply(rpc.Success(nil)) },
	}, nil)
	require.Equal(t, rpc.ErrUnknownVerb, call(t, sup, "nope", nil).Error)
}

func TestEmptyAPISetRefusesPeerCalls(t *testing.T) {
	_, peer := pair(t, nil, nil)
	require.Equal(t, rpc.ErrUnknownAPI, call(t, peer, "list", nil).Error)
}

func TestHangupFailsPendingAndNotifiesOnce(t *testing.T) {
	var hangups atomic.Int32
	gone := make(chan *Conn, 2)
	sup, peer := pair(t, map[string]rpc.Handler{
		"wait": func(req *rpc.Request) {},
	}, HangupFunc(func(c *Conn) {
		hangups.Add(1)
		gone <- c
	}))

	got := make(chan rpc.Reply, 1)
	require.NoError(t, sup.Call("wait", nil, func(r rpc.Reply) { got <- r }))

	// make sure the call reached the peer before it disappears
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, peer.Close())

	select {
	case r := <-got:
		require.Equal(t, rpc.ErrDisconnected, r.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed")
	}
	select {
	case c := <-gone:
		require.Same(t, sup, c)
	case <-time.After(2 * time.Second):
		t.Fatal("no hangup")
	}
	<-sup.Done()
	require.ErrorIs(t, sup.Call("do", nil, nil), ErrClosed)
	require.NoError(t, sup.Close())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), hangups.Load())
}

func TestUndecodableMessageSkipped(t *testing.T) {
	var hangups atomic.Int32
	sup, _ := pair(t, map[string]rpc.Handler{
		"do": func(req *rpc.Request) { req.Reply(rpc.Success("ok")) },
	}, HangupFunc(func(*Conn) { hangups.Add(1) }))

	// integer map keys do not fit the string-keyed documents the peer decodes
	require.NoError(t, sup.Call("do", map[int]any{1: "x"}, nil))

	r := call(t, sup, "do", map[string]any{"x": 1})
	require.True(t, r.OK())
	require.Equal(t, "ok", r.Data)
	require.Equal(t, int32(0), hangups.Load())
	select {
	case <-sup.Done():
		t.Fatal("connection torn down")
	default:
	}
}

func TestCloseBeforeStart(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, "supervision", nil, zerolog.Nop())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Start(nil), ErrClosed)
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestStartTwice(t *testing.T) {
	sup, _ := pair(t, nil, nil)
	require.ErrorIs(t, sup.Start(nil), ErrAlreadyStarted)
}
