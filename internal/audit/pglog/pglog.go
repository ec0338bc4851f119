// Package pglog provides a PostgreSQL implementation of audit.Store.
package pglog

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/audit"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/audit/pglog")

//go:embed schema.sql
var schema string

// Store persists audit records in PostgreSQL. The table is insert-only;
// there is no update or delete path.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the shared pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append inserts a single audit record.
func (s *Store) Append(ctx context.Context, r *audit.Record) error {
	ctx, span := tracer.Start(ctx, "pglog.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (workflow_id, seq, actor, action, target, result, ts, causal_seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.WorkflowID, r.Seq, r.Actor, r.Action, r.Target, r.Result, r.Timestamp, r.CausalSeq,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns the workflow's records in sequence order.
func (s *Store) List(ctx context.Context, workflowID string) ([]audit.Record, error) {
	ctx, span := tracer.Start(ctx, "pglog.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT workflow_id, seq, actor, action, target, result, ts, causal_seq
		 FROM audit_records WHERE workflow_id = $1 ORDER BY seq`,
		workflowID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var r audit.Record
		if err := rows.Scan(&r.WorkflowID, &r.Seq, &r.Actor, &r.Action, &r.Target, &r.Result, &r.Timestamp, &r.CausalSeq); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest sequence number recorded for the workflow,
// used to resume the in-memory allocator after a restart.
func (s *Store) LastSeq(ctx context.Context, workflowID string) (uint64, error) {
	ctx, span := tracer.Start(ctx, "pglog.LastSeq", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var seq uint64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM audit_records WHERE workflow_id = $1`,
		workflowID,
	).Scan(&seq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}
