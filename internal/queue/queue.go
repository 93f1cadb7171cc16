// Package queue defines the transport-neutral contract between webhook
// ingest and the alert workers. Implementations live in natsq (JetStream)
// and memq (in-process, for development and tests).
package queue

import (
	"context"
	"errors"
)

// Handler processes one message body. A nil return acknowledges the message.
// Errors wrapped with Permanent are dropped without redelivery; anything else
// is redelivered.
type Handler func(ctx context.Context, data []byte) error

// Publisher enqueues message bodies. id is the idempotency key used by
// transports that deduplicate publishes.
type Publisher interface {
	Publish(ctx context.Context, id string, data []byte) error
}

// Consumer delivers messages to a Handler until ctx is canceled.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// ErrClosed is returned by Publish after the queue has been closed.
var ErrClosed = errors.New("queue closed")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
