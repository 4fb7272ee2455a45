package app

import (
	"context"
	"time"
)

// Ping round-trips a list request and returns "pong" when the daemon
// answers.
func (a *App) Ping(ctx context.Context, timeout time.Duration) (string, error) {
	if _, err := a.call(ctx, CallParams{Verb: "list", Timeout: timeout}); err != nil {
		return "", err
	}
	return "pong", nil
}
