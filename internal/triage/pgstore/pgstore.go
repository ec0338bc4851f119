// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/score"
	"github.com/linnemanlabs/warden/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage records in PostgreSQL.
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

const recordColumns = `alert_id, workflow_id, dedup_key, state, alert_name, severity, score,
	tier, decision, priority, rationale, correlation_set_id, engine_version, created_at, decided_at`

// Get retrieves a triage record by alert ID.
//
//nolint:dupl // similar structure to GetByDedupKey is intentional
func (s *Store) Get(ctx context.Context, alertID string) (*triage.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + recordColumns + ` FROM triage_records WHERE alert_id = $1`
	r, err := scanRecord(s.pool.QueryRow(ctx, query, alertID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// GetByDedupKey retrieves the record for a source dedup key.
//
//nolint:dupl // similar structure to Get is intentional
func (s *Store) GetByDedupKey(ctx context.Context, key string) (*triage.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByDedupKey", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + recordColumns + ` FROM triage_records WHERE dedup_key = $1`
	r, err := scanRecord(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Put inserts or updates a triage record (upsert on alert_id).
func (s *Store) Put(ctx context.Context, r *triage.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var decidedAt *time.Time
	if !r.DecidedAt.IsZero() {
		decidedAt = &r.DecidedAt
	}

	query := `INSERT INTO triage_records (
		alert_id, workflow_id, dedup_key, state, alert_name, severity, score,
		tier, decision, priority, rationale, correlation_set_id, engine_version, created_at, decided_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (alert_id) DO UPDATE SET
		state              = EXCLUDED.state,
		decision           = EXCLUDED.decision,
		priority           = EXCLUDED.priority,
		rationale          = EXCLUDED.rationale,
		correlation_set_id = EXCLUDED.correlation_set_id,
		engine_version     = EXCLUDED.engine_version,
		decided_at         = EXCLUDED.decided_at`

	_, err := s.pool.Exec(ctx, query,
		r.AlertID, r.WorkflowID, r.DedupKey, string(r.State), r.AlertName, r.Severity, r.Score,
		string(r.Tier), string(r.Decision), string(r.Priority), r.Rationale, r.CorrelationSetID,
		r.EngineVersion, r.CreatedAt, decidedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert triage record: %w", err)
	}
	return nil
}

// AppendFeedback inserts one analyst correction row.
func (s *Store) AppendFeedback(ctx context.Context, f *triage.Feedback) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendFeedback", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_feedback (id, alert_id, corrected_decision, analyst_id, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.AlertID, string(f.CorrectedDecision), f.AnalystID, f.Comment, f.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// ListFeedback returns the corrections for an alert in append order.
func (s *Store) ListFeedback(ctx context.Context, alertID string) ([]triage.Feedback, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListFeedback", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, corrected_decision, analyst_id, comment, created_at
		 FROM triage_feedback WHERE alert_id = $1 ORDER BY created_at`,
		alertID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []triage.Feedback
	for rows.Next() {
		var f triage.Feedback
		var decision string
		if err := rows.Scan(&f.ID, &f.AlertID, &decision, &f.AnalystID, &f.Comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.CorrectedDecision = triage.Decision(decision)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}

// scanRecord scans a single row into a triage.Record.
// Returns (nil, nil) when no row is found.
func scanRecord(row pgx.Row) (*triage.Record, error) {
	var (
		r         triage.Record
		state     string
		tier      string
		decision  string
		priority  string
		decidedAt *time.Time
	)

	err := row.Scan(
		&r.AlertID, &r.WorkflowID, &r.DedupKey, &state, &r.AlertName, &r.Severity, &r.Score,
		&tier, &decision, &priority, &r.Rationale, &r.CorrelationSetID, &r.EngineVersion,
		&r.CreatedAt, &decidedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.State = triage.State(state)
	r.Tier = score.Tier(tier)
	r.Decision = triage.Decision(decision)
	r.Priority = score.Tier(priority)
	if decidedAt != nil {
		r.DecidedAt = *decidedAt
	}
	return &r, nil
}
