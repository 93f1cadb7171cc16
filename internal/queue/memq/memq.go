// Package memq is an in-process queue backed by a buffered channel. It has
// no durability; messages pending at shutdown are lost.
package memq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/queue"
)

// Config controls buffering and redelivery.
type Config struct {
	Buffer     int
	Workers    int
	MaxDeliver uint
	// NewBackOff returns the delay policy between redeliveries of one message.
	NewBackOff func() backoff.BackOff
	Logger     log.Logger
}

type envelope struct {
	id   string
	data []byte
}

// Queue is a channel queue implementing queue.Publisher and queue.Consumer.
type Queue struct {
	cfg    Config
	ch     chan envelope
	mu     sync.RWMutex
	closed bool
}

var (
	_ queue.Publisher = (*Queue)(nil)
	_ queue.Consumer  = (*Queue)(nil)
)

// New returns a Queue. Zero config fields get usable defaults.
func New(cfg Config) *Queue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Queue{cfg: cfg, ch: make(chan envelope, cfg.Buffer)}
}

// Publish enqueues data, blocking while the buffer is full.
func (q *Queue) Publish(ctx context.Context, id string, data []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case q.ch <- envelope{id: id, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting publishes. Consume returns once the buffer drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Consume runs cfg.Workers handlers until ctx is canceled or the queue is
// closed and drained.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	var wg sync.WaitGroup
	for range q.cfg.Workers {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-q.ch:
					if !ok {
						return
					}
					q.deliver(ctx, h, env)
				}
			}
		})
	}
	wg.Wait()
	return nil
}

func (q *Queue) deliver(ctx context.Context, h queue.Handler, env envelope) {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := h(ctx, env.data)
		if err != nil && queue.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(q.cfg.NewBackOff()), backoff.WithMaxTries(q.cfg.MaxDeliver))

	if err != nil {
		q.cfg.Logger.Error(ctx, err, "message dropped", "id", env.id, "attempts", attempt, "permanent", queue.IsPermanent(err))
	}
}
