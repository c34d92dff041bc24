// Package relay forwards job events from the event bus to connected clients.
package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/target/docpipe/internal/core"
)

// Options configures the event relay.
type Options struct {
	Source      core.EventSource
	Broadcaster core.Broadcaster
	Logger      *slog.Logger
}

// Relay subscribes to the event bus and fans each envelope out to the room it
// addresses. It carries no state of its own; a restarted relay simply resumes
// with the next published event.
type Relay struct {
	source      core.EventSource
	broadcaster core.Broadcaster
	logger      *slog.Logger
}

// NewRelay constructs a new Relay.
func NewRelay(opts Options) (*Relay, error) {
	if opts.Source == nil {
		return nil, errors.New("EventSource is required")
	}
	if opts.Broadcaster == nil {
		return nil, errors.New("Broadcaster is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		source:      opts.Source,
		broadcaster: opts.Broadcaster,
		logger:      logger.With("component", "event_relay"),
	}, nil
}

// MustNewRelay constructs a new Relay and panics on error.
func MustNewRelay(opts Options) *Relay {
	relay, err := NewRelay(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // fail fast on invalid startup configuration
	}
	return relay
}

// Run forwards events until the context is cancelled or the subscription
// fails. Envelopes without a routable room are dropped and logged.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "event relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			room := env.Room()
			if room == "" {
				r.logger.WarnContext(ctx, "event has no routable room", "event", string(env.Event))
				continue
			}
			r.broadcaster.Broadcast(room, env)
		}
	}
}
