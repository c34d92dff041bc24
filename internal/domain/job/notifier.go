// Package job provides the availability notifier that wakes idle workers when a
// new job row is inserted.
package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job availability notification arrives or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context) error
}

// Notifier manages subscriptions for job availability notifications.
type Notifier interface {
	Subscribe() (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds a single wait. When it elapses without a notification the
	// listener broadcasts anyway, so subscribers re-poll and pick up jobs whose
	// notify was lost or never sent.
	WaitWindow time.Duration
	// Backoff delays the next wait after a waiter error.
	Backoff time.Duration
}

// DefaultNotifier is the default implementation of Notifier. A single shared
// listener goroutine waits on the database channel and fans out to all
// subscribed workers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu       sync.Mutex
	subs     map[chan struct{}]struct{}
	stopLoop context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	notifier := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[chan struct{}]struct{}),
	}
	return notifier, nil
}

func (n *DefaultNotifier) Subscribe() (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopLoop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.stopLoop = cancel
		go n.listenLoop(ctx)
	}

	ch := make(chan struct{}, 1)
	n.subs[ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[ch]; !ok {
			return
		}
		delete(n.subs, ch)
		drainAndClose(ch)
		if len(n.subs) == 0 && n.stopLoop != nil {
			n.stopLoop()
			n.stopLoop = nil
		}
	}

	return unsub, ch
}

func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopLoop != nil {
		n.stopLoop()
		n.stopLoop = nil
	}
	for ch := range n.subs {
		drainAndClose(ch)
		delete(n.subs, ch)
	}
}

func (n *DefaultNotifier) listenLoop(ctx context.Context) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx)
		cancel()

		n.broadcast()

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
