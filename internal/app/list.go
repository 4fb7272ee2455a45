package app

import (
	"context"
	"time"
)

// ListParams defines the request timeout.
type ListParams struct {
	Timeout time.Duration
}

// List fetches the attached peers ordered by pid.
func (a *App) List(ctx context.Context, params ListParams) ([]Peer, error) {
	rep, err := a.call(ctx, CallParams{Verb: "list", Timeout: params.Timeout})
	if err != nil {
		return nil, err
	}
	return peersFromList(rep.Data), nil
}
