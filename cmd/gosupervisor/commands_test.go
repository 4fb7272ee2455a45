package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"gosupervisor/internal/app"
)

type stubController struct {
	pingFunc     func(ctx context.Context, timeout time.Duration) (string, error)
	listFunc     func(ctx context.Context, params app.ListParams) ([]app.Peer, error)
	forwardFunc  func(ctx context.Context, params app.ForwardParams) (any, error)
	discoverFunc func(ctx context.Context, timeout time.Duration) (int, error)
}

func (s *stubController) Ping(ctx context.Context, timeout time.Duration) (string, error) {
	if s.pingFunc != nil {
		return s.pingFunc(ctx, timeout)
	}
	return "", errors.New("ping not implemented")
}

func (s *stubController) List(ctx context.Context, params app.ListParams) ([]app.Peer, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, params)
	}
	panic("List not implemented")
}

func (s *stubController) Forward(ctx context.Context, params app.ForwardParams) (any, error) {
	if s.forwardFunc != nil {
		return s.forwardFunc(ctx, params)
	}
	panic("Forward not implemented")
}

func (s *stubController) Discover(ctx context.Context, timeout time.Duration) (int, error) {
	if s.discoverFunc != nil {
		return s.discoverFunc(ctx, timeout)
	}
	panic("Discover not implemented")
}

func (s *stubController) Watch(ctx context.Context, timeout time.Duration, fn func(app.Notification) error) error {
	panic("Watch not implemented")
}

func (s *stubController) Status() (app.DaemonStatus, error) {
	panic("Status not implemented")
}

func (s *stubController) StopDaemon(force bool) error {
	panic("StopDaemon not implemented")
}

func (s *stubController) StartDaemon() (*app.DaemonHandle, error) {
	panic("StartDaemon not implemented")
}

func withController(t *testing.T, stub controllerAPI) {
	t.Helper()
	origFactory := controllerFactory
	controllerFactory = func() controllerAPI {
		return stub
	}
	t.Cleanup(func() {
		controllerFactory = origFactory
	})
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	return buf
}

func TestPingSuccess(t *testing.T) {
	withController(t, &stubController{
		pingFunc: func(ctx context.Context, timeout time.Duration) (string, error) {
			if timeout != 2*time.Second {
				t.Fatalf("expected timeout 2s, got %v", timeout)
			}
			return "pong", nil
		},
	})
	buf := captureOutput(t)

	oldTimeout := pingTimeoutSeconds
	pingTimeoutSeconds = 2
	t.Cleanup(func() { pingTimeoutSeconds = oldTimeout })

	if err := cmdPing.RunE(cmdPing, nil); err != nil {
		t.Fatalf("RunE error: %v", err)
	}
	if got := buf.String(); got != "pong\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestPingError(t *testing.T) {
	expected := errors.New("daemon down")
	withController(t, &stubController{
		pingFunc: func(ctx context.Context, timeout time.Duration) (string, error) {
			return "", expected
		},
	})
	oldTimeout := pingTimeoutSeconds
	pingTimeoutSeconds = 1
	t.Cleanup(func() { pingTimeoutSeconds = oldTimeout })

	err := cmdPing.RunE(cmdPing, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestListPrintsPeers(t *testing.T) {
	withController(t, &stubController{
		listFunc: func(ctx context.Context, params app.ListParams) ([]app.Peer, error) {
			return []app.Peer{
				{PID: 7},
				{PID: 12, Verified: true, UID: 1000, GID: 1000, User: "agl", Label: "User::App::nav", ID: "nav"},
			}, nil
		},
	})
	buf := captureOutput(t)

	if err := cmdList.RunE(cmdList, nil); err != nil {
		t.Fatalf("RunE error: %v", err)
	}
	want := "pid=7 (no credentials)\npid=12 uid=1000 gid=1000 user=agl label=User::App::nav id=nav\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestListEmpty(t *testing.T) {
	withController(t, &stubController{
		listFunc: func(ctx context.Context, params app.ListParams) ([]app.Peer, error) {
			return nil, nil
		},
	})
	buf := captureOutput(t)

	if err := cmdList.RunE(cmdList, nil); err != nil {
		t.Fatalf("RunE error: %v", err)
	}
	if got := buf.String(); got != "No instances attached\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestForwardCommandsRegistered(t *testing.T) {
	for _, verb := range app.ForwardVerbs {
		c, _, err := rootCmd.Find([]string{verb})
		if err != nil || c.Name() != verb {
			t.Fatalf("command %q not registered: %v", verb, err)
		}
	}
}

func TestForwardPassesArgs(t *testing.T) {
	var got app.ForwardParams
	withController(t, &stubController{
		forwardFunc: func(ctx context.Context, params app.ForwardParams) (any, error) {
			got = params
			return map[string]any{"ok": true}, nil
		},
	})
	buf := captureOutput(t)

	oldPID, oldArgs := forwardPID, forwardArgs
	forwardPID, forwardArgs = 42, `{"level":"all"}`
	t.Cleanup(func() { forwardPID, forwardArgs = oldPID, oldArgs })

	c, _, err := rootCmd.Find([]string{"trace"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RunE(c, nil); err != nil {
		t.Fatalf("RunE error: %v", err)
	}
	if got.Verb != "trace" || got.PID != 42 || got.Args["level"] != "all" {
		t.Fatalf("unexpected params %+v", got)
	}
	if buf.String() != "{\n  \"ok\": true\n}\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestForwardRejectsBadArgs(t *testing.T) {
	if _, err := parseArgs("[1,2]"); err == nil {
		t.Fatal("expected error for non-object args")
	}
	if _, err := parseArgs("null"); err == nil {
		t.Fatal("expected error for null args")
	}
	obj, err := parseArgs("")
	if err != nil || obj != nil {
		t.Fatalf("expected nil args, got %v (%v)", obj, err)
	}
}

func TestDiscoverPrintsCount(t *testing.T) {
	withController(t, &stubController{
		discoverFunc: func(ctx context.Context, timeout time.Duration) (int, error) {
			return 3, nil
		},
	})
	buf := captureOutput(t)

	if err := cmdDiscover.RunE(cmdDiscover, nil); err != nil {
		t.Fatalf("RunE error: %v", err)
	}
	if got := buf.String(); got != "Signalled 3 instance(s)\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
