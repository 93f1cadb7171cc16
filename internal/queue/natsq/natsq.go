// Package natsq carries alert messages over NATS JetStream. Publishes are
// deduplicated on the message id within the stream's duplicate window, and
// consumers share a durable queue group so each message is handled by one
// replica.
package natsq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/queue"
)

// Config names the stream, subject and consumer, and bounds delivery.
type Config struct {
	URL     string
	Stream  string
	Subject string
	// Queue is the queue group and durable consumer name.
	Queue      string
	AckWait    time.Duration
	MaxDeliver int
	Duplicates time.Duration
	Workers    int
	Logger     log.Logger
}

func (c *Config) setDefaults() {
	if c.Stream == "" {
		c.Stream = "WARDEN_ALERTS"
	}
	if c.Subject == "" {
		c.Subject = "warden.alerts"
	}
	if c.Queue == "" {
		c.Queue = "warden-workers"
	}
	if c.AckWait <= 0 {
		c.AckWait = 2 * time.Minute
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.Duplicates <= 0 {
		c.Duplicates = 10 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
}

// Queue is a JetStream-backed queue.Publisher and queue.Consumer.
type Queue struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
}

var (
	_ queue.Publisher = (*Queue)(nil)
	_ queue.Consumer  = (*Queue)(nil)
)

// Connect dials NATS and ensures the stream exists.
func Connect(ctx context.Context, cfg Config) (*Queue, error) {
	cfg.setDefaults()
	L := cfg.Logger

	nc, err := nats.Connect(cfg.URL,
		nats.Name("warden"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				L.Warn(ctx, "nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			L.Info(ctx, "nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	q := &Queue{cfg: cfg, nc: nc, js: js}
	if err := q.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	if err := q.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	L.Info(ctx, "nats queue ready", "url", cfg.URL, "stream", cfg.Stream, "subject", cfg.Subject)
	return q, nil
}

func (q *Queue) ensureStream(ctx context.Context) error {
	_, err := q.js.StreamInfo(q.cfg.Stream, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", q.cfg.Stream, err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:       q.cfg.Stream,
		Subjects:   []string{q.cfg.Subject},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: q.cfg.Duplicates,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("add stream %s: %w", q.cfg.Stream, err)
	}
	return nil
}

// consumerConfig is the shared durable push consumer. Every replica binds to
// it, so the deliver subject must be stable across processes.
func (q *Queue) consumerConfig() *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:        q.cfg.Queue,
		DeliverGroup:   q.cfg.Queue,
		DeliverSubject: "_WARDEN.deliver." + q.cfg.Stream + "." + q.cfg.Queue,
		DeliverPolicy:  nats.DeliverAllPolicy,
		FilterSubject:  q.cfg.Subject,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        q.cfg.AckWait,
		MaxDeliver:     q.cfg.MaxDeliver,
		MaxAckPending:  q.cfg.Workers * 2,
	}
}

// ensureConsumer creates the durable consumer outside the subscription so no
// replica owns it; an implicitly created consumer is deleted when its
// creator unsubscribes.
func (q *Queue) ensureConsumer(ctx context.Context) error {
	cc := q.consumerConfig()
	_, err := q.js.ConsumerInfo(q.cfg.Stream, cc.Durable, nats.Context(ctx))
	switch {
	case err == nil:
		// delivery limits may be retuned between deploys
		if _, err := q.js.UpdateConsumer(q.cfg.Stream, cc, nats.Context(ctx)); err != nil {
			q.cfg.Logger.Warn(ctx, "nats consumer update failed, keeping existing config",
				"consumer", cc.Durable, "error", err)
		}
		return nil
	case errors.Is(err, nats.ErrConsumerNotFound):
		if _, err := q.js.AddConsumer(q.cfg.Stream, cc, nats.Context(ctx)); err != nil {
			return fmt.Errorf("add consumer %s: %w", cc.Durable, err)
		}
		return nil
	default:
		return fmt.Errorf("consumer info %s: %w", cc.Durable, err)
	}
}

// Publish sends data with id as the JetStream message id.
func (q *Queue) Publish(ctx context.Context, id string, data []byte) error {
	opts := []nats.PubOpt{nats.Context(ctx)}
	if id != "" {
		opts = append(opts, nats.MsgId(id))
	}
	ack, err := q.js.Publish(q.cfg.Subject, data, opts...)
	if err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if ack.Duplicate {
		q.cfg.Logger.Info(ctx, "duplicate publish absorbed", "id", id, "seq", ack.Sequence)
	}
	return nil
}

// Consume subscribes to the queue group and runs cfg.Workers handlers until
// ctx is canceled. In-flight messages finish before it returns.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	ch := make(chan *nats.Msg, q.cfg.Workers)
	// bind to the consumer from ensureConsumer; Unsubscribe then leaves it
	// in place for the other replicas
	sub, err := q.js.ChanQueueSubscribe(q.cfg.Subject, q.cfg.Queue, ch,
		nats.Bind(q.cfg.Stream, q.cfg.Queue),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	var wg sync.WaitGroup
	for range q.cfg.Workers {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-ch:
					q.handle(ctx, h, msg)
				}
			}
		})
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		q.cfg.Logger.Warn(context.WithoutCancel(ctx), "nats unsubscribe failed", "error", err)
	}
	wg.Wait()
	return nil
}

func (q *Queue) handle(ctx context.Context, h queue.Handler, msg *nats.Msg) {
	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}

	// bound work to the ack window so a stuck handler does not outlive redelivery
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.AckWait)
	defer cancel()

	err := h(hctx, msg.Data)
	if serr := settle(msg, err, delivered); serr != nil {
		q.cfg.Logger.Warn(ctx, "nats ack failed", "error", serr)
	}
	if err != nil {
		q.cfg.Logger.Warn(ctx, "message not acknowledged",
			"delivered", delivered,
			"max_deliver", q.cfg.MaxDeliver,
			"permanent", queue.IsPermanent(err),
			"error", err,
		)
	}
}

// acker is the acknowledgement surface of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

const (
	redeliveryStep     = 30 * time.Second
	maxRedeliveryDelay = 5 * time.Minute
)

// redeliveryDelay doubles per delivery from redeliveryStep. With the default
// MaxDeliver the retries span a dedup claim held by a worker that died
// mid-message.
func redeliveryDelay(delivered uint64) time.Duration {
	if delivered <= 1 {
		return redeliveryStep
	}
	if delivered > 5 {
		return maxRedeliveryDelay
	}
	return min(redeliveryStep<<(delivered-1), maxRedeliveryDelay)
}

// settle acknowledges on success, terminates permanent failures and naks
// everything else for delayed redelivery.
func settle(m acker, err error, delivered uint64) error {
	switch {
	case err == nil:
		return m.Ack()
	case queue.IsPermanent(err):
		return m.Term()
	default:
		return m.NakWithDelay(redeliveryDelay(delivered))
	}
}

// Close drains the connection, flushing pending publishes.
func (q *Queue) Close() error {
	return q.nc.Drain()
}

// Healthy reports whether the connection is up.
func (q *Queue) Healthy() bool {
	return q.nc.IsConnected()
}
