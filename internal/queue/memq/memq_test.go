package memq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/queue"
)

func testQueue(maxDeliver uint) *Queue {
	return New(Config{
		Buffer:     16,
		Workers:    2,
		MaxDeliver: maxDeliver,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Logger:     log.Nop(),
	})
}

func TestConsume_DeliversAllThenReturnsOnClose(t *testing.T) {
	t.Parallel()

	q := testQueue(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, id, []byte(id)); err != nil {
			t.Fatalf("Publish(%s): %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}
	q.Close()

	var mu sync.Mutex
	got := map[string]bool{}
	err := q.Consume(ctx, func(_ context.Context, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got[string(data)] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("delivered %v, want a, b and c", got)
	}
}

func TestConsume_RedeliversRetryableErrors(t *testing.T) {
	t.Parallel()

	q := testQueue(5)
	_ = q.Publish(context.Background(), "x", []byte("x"))
	q.Close()

	var calls atomic.Int32
	_ = q.Consume(context.Background(), func(context.Context, []byte) error {
		if calls.Add(1) < 3 {
			return errors.New("tracker unavailable")
		}
		return nil
	})
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestConsume_StopsAtMaxDeliver(t *testing.T) {
	t.Parallel()

	q := testQueue(4)
	_ = q.Publish(context.Background(), "x", []byte("x"))
	q.Close()

	var calls atomic.Int32
	_ = q.Consume(context.Background(), func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("still down")
	})
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}

func TestConsume_PermanentErrorNotRedelivered(t *testing.T) {
	t.Parallel()

	q := testQueue(5)
	_ = q.Publish(context.Background(), "x", []byte("x"))
	q.Close()

	var calls atomic.Int32
	_ = q.Consume(context.Background(), func(context.Context, []byte) error {
		calls.Add(1)
		return queue.Permanent(errors.New("malformed"))
	})
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPublish_AfterClose(t *testing.T) {
	t.Parallel()

	q := testQueue(1)
	q.Close()
	q.Close() // idempotent

	if err := q.Publish(context.Background(), "x", nil); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestPublish_FullBufferHonorsContext(t *testing.T) {
	t.Parallel()

	q := New(Config{Buffer: 1, Logger: log.Nop()})
	_ = q.Publish(context.Background(), "a", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, "b", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish on full buffer = %v, want DeadlineExceeded", err)
	}
}

func TestConsume_ReturnsOnCancel(t *testing.T) {
	t.Parallel()

	q := testQueue(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(context.Context, []byte) error { return nil })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}
