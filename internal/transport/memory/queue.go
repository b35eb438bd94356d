// Package memory implements transport.Transport in process, with the same
// visibility-timeout and redrive behaviour as a hosted queue. Safe for
// concurrent use.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/quizjobs/internal/transport"
)

var _ transport.Transport = (*Queue)(nil)

// DefaultVisibilityTimeout matches the hosted queue default
const DefaultVisibilityTimeout = 30 * time.Second

type entry struct {
	id             string
	body           []byte
	receiveCount   int
	handle         string
	invisibleUntil time.Time
}

// Queue is an in-memory queue with visibility timeout and optional dead-letter redrive
type Queue struct {
	mu                sync.Mutex
	name              string
	visibilityTimeout time.Duration
	maxReceiveCount   int
	deadLetter        *Queue
	entries           []*entry
	seq               int64
	changed           chan struct{}
	closed            bool
}

// Option configures a Queue
type Option func(*Queue)

// WithVisibilityTimeout sets how long a received message stays hidden
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibilityTimeout = d }
}

// WithRedrive moves messages to dlq once they have been received maxReceiveCount
// times without being deleted.
func WithRedrive(dlq *Queue, maxReceiveCount int) Option {
	return func(q *Queue) {
		q.deadLetter = dlq
		q.maxReceiveCount = maxReceiveCount
	}
}

// New creates an empty queue
func New(name string, opts ...Option) *Queue {
	q := &Queue{
		name:              name,
		visibilityTimeout: DefaultVisibilityTimeout,
		changed:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// broadcast wakes every waiting receiver. Caller holds q.mu.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue implements transport.Transport
func (q *Queue) Enqueue(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return transport.ErrClosed
	}
	q.push(body, 0)
	return nil
}

// push appends a message. Caller holds q.mu.
func (q *Queue) push(body []byte, receiveCount int) {
	q.seq++
	q.entries = append(q.entries, &entry{
		id:           fmt.Sprintf("%s-%d", q.name, q.seq),
		body:         append([]byte(nil), body...),
		receiveCount: receiveCount,
	})
	q.broadcast()
}

// Receive implements transport.Transport
func (q *Queue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]transport.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(wait)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, transport.ErrClosed
		}

		now := time.Now()
		q.redriveExhausted(now)
		msgs := q.take(now, maxMessages)
		if len(msgs) > 0 {
			q.mu.Unlock()
			return msgs, nil
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			q.mu.Unlock()
			return nil, nil
		}

		// Wake up early when an in-flight message becomes visible again
		if next, ok := q.nextVisible(now); ok && next < remaining {
			remaining = next
		}
		changed := q.changed
		q.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// redriveExhausted moves visible messages that used up their receive budget. Caller holds q.mu.
func (q *Queue) redriveExhausted(now time.Time) {
	if q.deadLetter == nil || q.maxReceiveCount <= 0 {
		return
	}

	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.receiveCount >= q.maxReceiveCount && !now.Before(e.invisibleUntil) {
			q.deadLetter.mu.Lock()
			q.deadLetter.push(e.body, 0)
			q.deadLetter.mu.Unlock()
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
}

// take marks up to max visible messages as in flight. Caller holds q.mu.
func (q *Queue) take(now time.Time, max int) []transport.Message {
	var msgs []transport.Message
	for _, e := range q.entries {
		if len(msgs) == max {
			break
		}
		if now.Before(e.invisibleUntil) {
			continue
		}
		e.receiveCount++
		e.handle = fmt.Sprintf("%s#%d", e.id, e.receiveCount)
		e.invisibleUntil = now.Add(q.visibilityTimeout)
		msgs = append(msgs, transport.Message{
			ID:           e.id,
			Body:         append([]byte(nil), e.body...),
			Handle:       e.handle,
			ReceiveCount: e.receiveCount,
		})
	}
	return msgs
}

// nextVisible returns how long until the earliest in-flight message reappears. Caller holds q.mu.
func (q *Queue) nextVisible(now time.Time) (time.Duration, bool) {
	var (
		min   time.Duration
		found bool
	)
	for _, e := range q.entries {
		if !now.Before(e.invisibleUntil) {
			continue
		}
		d := e.invisibleUntil.Sub(now)
		if !found || d < min {
			min, found = d, true
		}
	}
	return min, found
}

// Delete implements transport.Transport. Stale handles from an earlier delivery are ignored.
func (q *Queue) Delete(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.handle == handle && handle != "" {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len returns the number of messages not yet deleted, visible or in flight
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// InFlight returns the number of received-but-undeleted messages still hidden
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range q.entries {
		if now.Before(e.invisibleUntil) {
			n++
		}
	}
	return n
}

// Close makes every further call fail with transport.ErrClosed
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}
