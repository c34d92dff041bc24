// Package bus provides the Redis pub/sub event bus connecting workers to the
// WebSocket gateways. Delivery is best-effort: events are ephemeral hints and
// the job row in PostgreSQL stays the authoritative record.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/docpipe/internal/domain/model"
)

// DefaultChannel is the single logical channel all job events flow through.
const DefaultChannel = "docpipe:events"

// Client wraps a Redis pub/sub connection for job event envelopes.
type Client struct {
	rdb     redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// Options configure the bus client.
type Options struct {
	Channel string
	Logger  *slog.Logger
}

// NewClient creates a bus client on the given Redis connection.
func NewClient(rdb redis.UniversalClient, opts Options) *Client {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With("component", "bus"),
	}
}

// Publish sends one envelope to the channel. Subscribers that are not connected
// at publish time never see the event; there is no buffering or replay.
func (c *Client) Publish(ctx context.Context, env model.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", c.channel, err)
	}
	return nil
}

// Subscribe opens a subscription and returns a channel of decoded envelopes.
// Malformed payloads are logged and skipped. The channel closes when ctx ends.
func (c *Client) Subscribe(ctx context.Context) (<-chan model.Envelope, error) {
	sub := c.rdb.Subscribe(ctx, c.channel)

	// Fail fast if the subscription cannot be established.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", c.channel, err)
	}

	out := make(chan model.Envelope)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				c.logger.Warn("close subscription", "error", err)
			}
		}()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env model.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					c.logger.Warn("skipping malformed event payload", "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
