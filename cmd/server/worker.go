package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/pipeline"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/policy/memstore"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/queue"
	"github.com/linnemanlabs/warden/internal/tracker"
)

// messageProcessor is the slice of *pipeline.Processor the worker needs.
type messageProcessor interface {
	Process(ctx context.Context, msg *pipeline.Message) (*pipeline.Result, error)
}

// newWorkerHandler adapts the pipeline to a queue handler. Undecodable
// messages and tracker rejections that a retry cannot fix are permanent.
func newWorkerHandler(p messageProcessor, L log.Logger) queue.Handler {
	return func(ctx context.Context, data []byte) error {
		var msg pipeline.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			L.Error(ctx, err, "undecodable queue message", "bytes", len(data))
			return queue.Permanent(fmt.Errorf("decode message: %w", err))
		}

		ctx = postgres.WithSource(ctx, "worker")
		ctx, stats := postgres.WithQueryStats(ctx)

		_, err := p.Process(ctx, &msg)

		if count, total, errs := stats.Snapshot(); count > 0 {
			L.Info(ctx, "message db usage",
				"delivery_id", msg.DeliveryID,
				"db_queries", count,
				"db_total_ms", total.Milliseconds(),
				"db_errors", errs,
			)
		}

		if err != nil {
			if isPermanentWrite(err) {
				return queue.Permanent(err)
			}
			return err
		}
		return nil
	}
}

// isPermanentWrite reports a 4xx tracker rejection other than rate limiting.
func isPermanentWrite(err error) bool {
	var we *tracker.WriteError
	if !errors.As(err, &we) {
		return false
	}
	return we.Status >= 400 && we.Status < 500 && we.Status != http.StatusTooManyRequests
}

// filePolicyStore returns the YAML-seeded store, or an empty store serving
// built-in defaults when path is empty.
func filePolicyStore(path string) (policy.Store, error) {
	if path == "" {
		return memstore.New(), nil
	}
	s, err := memstore.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
