// Package pgstore provides a PostgreSQL implementation of policy.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/policy"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/policy/pgstore")

//go:embed schema.sql
var schema string

// Store persists tenant policy documents in PostgreSQL as JSONB.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a Store backed by pool. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Load returns the tenant's document decoded over the built-in defaults, or
// the defaults alone when no row exists.
func (s *Store) Load(ctx context.Context, tenantID string) (*policy.Document, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM tenant_policies WHERE tenant_id = $1`, tenantID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetAttributes(attribute.Bool("policy.default", true))
		return policy.DefaultDocument(tenantID), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("select policy: %w", err)
	}

	doc := policy.DefaultDocument(tenantID)
	if err := json.Unmarshal(raw, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("decode policy %q: %w", tenantID, err)
	}
	doc.TenantID = tenantID
	if doc.Defaults.TenantID == "" {
		doc.Defaults.TenantID = tenantID
	}
	return doc, nil
}

// Put inserts or replaces a tenant's document.
func (s *Store) Put(ctx context.Context, d *policy.Document) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("tenant.id", d.TenantID),
	))
	defer span.End()

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenant_policies (tenant_id, document, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET
			document   = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		d.TenantID, raw,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// Delete removes a tenant's document so Load falls back to defaults.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "pgstore.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM tenant_policies WHERE tenant_id = $1`, tenantID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}
