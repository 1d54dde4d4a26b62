// Package offline buffers side-effecting operations requested while the
// client has no connectivity and replays them, in order, when it returns.
package offline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Action is a deferred operation. Queued actions run at most once; a failed
// action is logged and discarded, never retried.
type Action func(ctx context.Context) error

// Queue executes actions immediately while online and buffers them while
// offline. Draining is strictly FIFO and sequential - each action settles
// before the next starts, preserving any implicit ordering dependency between
// queued writes.
type Queue struct {
	mu      sync.Mutex
	online  bool
	pending []Action
	log     zerolog.Logger
}

// New returns a Queue that starts online.
func New(log zerolog.Logger) *Queue {
	return &Queue{
		online: true,
		log:    log,
	}
}

// Online reports the queue's current connectivity flag.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Pending returns the number of buffered actions.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Do executes action immediately and returns its error when online. When
// offline it appends the action to the buffer and returns nil.
func (q *Queue) Do(ctx context.Context, action Action) error {
	q.mu.Lock()
	if !q.online {
		q.pending = append(q.pending, action)
		n := len(q.pending)
		q.mu.Unlock()
		q.log.Debug().Int("pending", n).Msg("offline: action queued")
		return nil
	}
	q.mu.Unlock()

	return action(ctx)
}

// SetOnline updates the connectivity flag. Turning it on drains the buffer in
// enqueue order; each action's own failure is logged and draining continues.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if !online || wasOnline {
		return
	}

	q.drain(ctx)
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || !q.online {
			q.mu.Unlock()
			return
		}
		action := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := action(ctx); err != nil {
			q.log.Error().Err(err).Msg("offline: queued action failed")
		}
	}
}
