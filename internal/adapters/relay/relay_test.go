package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docpipe/internal/domain/model"
)

type stubSource struct {
	ch           chan model.Envelope
	subscribeErr error
}

func (s *stubSource) Subscribe(context.Context) (<-chan model.Envelope, error) {
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	return s.ch, nil
}

type stubBroadcaster struct {
	mu    sync.Mutex
	rooms []string
	count int
}

func (b *stubBroadcaster) Broadcast(room string, _ model.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = append(b.rooms, room)
	b.count++
}

func (b *stubBroadcaster) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.rooms...)
}

func TestRelay_ForwardsEventsToRooms(t *testing.T) {
	source := &stubSource{ch: make(chan model.Envelope, 4)}
	sink := &stubBroadcaster{}
	relay, err := NewRelay(Options{Source: source, Broadcaster: sink})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	source.ch <- model.NewTaskUpdate("job-1", model.EventData{Type: model.EventTypeProgress, Progress: 42})
	source.ch <- model.NewUserNotification("user-9", model.EventData{Type: model.EventTypeComplete})
	// No job or user: unroutable, must be dropped.
	source.ch <- model.Envelope{Event: model.EventTaskUpdate}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"job:job-1", "user:user-9"}, sink.snapshot())
}

func TestRelay_StopsWhenSourceCloses(t *testing.T) {
	source := &stubSource{ch: make(chan model.Envelope)}
	relay, err := NewRelay(Options{Source: source, Broadcaster: &stubBroadcaster{}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()

	close(source.ch)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after source closed")
	}
}

func TestRelay_SubscribeFailure(t *testing.T) {
	source := &stubSource{subscribeErr: errors.New("redis unavailable")}
	relay, err := NewRelay(Options{Source: source, Broadcaster: &stubBroadcaster{}})
	require.NoError(t, err)

	err = relay.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
}

func TestNewRelay_Validation(t *testing.T) {
	_, err := NewRelay(Options{})
	require.Error(t, err)
}
