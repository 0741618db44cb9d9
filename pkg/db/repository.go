package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Repository provides database access for the invocation journal.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RecordInvocation inserts one journal row. Created defaults to now. Rows are
// keyed by ID; any number of rows may share a correlation ID.
func (r *Repository) RecordInvocation(ctx context.Context, inv *Invocation) error {
	slog.Debug(fmt.Sprintf("%s - RecordInvocation id=%s tool=%s outcome=%s", repoLogPrefix, inv.ID, inv.Tool, inv.Outcome))

	if inv.ID == "" {
		return fmt.Errorf("%s - RecordInvocation: empty id", repoLogPrefix)
	}

	created := inv.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	args := inv.Arguments
	if len(args) == 0 {
		args = []byte("{}")
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO tool_invocations
		   (id, correlation_id, tool, transport, pv_name, arguments, outcome, status, result,
		    error_code, error_message, duration_ms, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.CorrelationID, inv.Tool, inv.Transport, inv.PVName, []byte(args), inv.Outcome, inv.Status,
		nullableJSON(inv.Result), inv.ErrorCode, inv.ErrorMessage, inv.DurationMs, created)
	if err != nil {
		return fmt.Errorf("%s - RecordInvocation failed: %w", repoLogPrefix, err)
	}
	return nil
}

// GetInvocation finds a journal row by ID. It returns nil, nil when absent.
func (r *Repository) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, correlation_id, tool, transport, pv_name, arguments, outcome, status, result,
		        error_code, error_message, duration_ms, created
		 FROM tool_invocations
		 WHERE id = $1`, id)

	inv, err := scanInvocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetInvocation failed: %w", repoLogPrefix, err)
	}
	return inv, nil
}

// ListInvocations lists journal rows, newest first, with optional filters.
func (r *Repository) ListInvocations(ctx context.Context, params ListInvocationsParams) ([]Invocation, error) {
	query, args := buildListQuery(params)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListInvocations query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	out := []Invocation{}
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s - ListInvocations scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListInvocations rows failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// buildListQuery builds the ListInvocations statement and its arguments.
func buildListQuery(params ListInvocationsParams) (string, []interface{}) {
	limit := params.Limit
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, correlation_id, tool, transport, pv_name, arguments, outcome, status, result,
	                 error_code, error_message, duration_ms, created
	          FROM tool_invocations WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.Tool != "" {
		query += fmt.Sprintf(` AND tool = $%d`, argIdx)
		args = append(args, params.Tool)
		argIdx++
	}
	if params.PVName != "" {
		query += fmt.Sprintf(` AND pv_name = $%d`, argIdx)
		args = append(args, params.PVName)
		argIdx++
	}
	if params.Outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, argIdx)
		args = append(args, params.Outcome)
		argIdx++
	}
	if params.CorrelationID != "" {
		query += fmt.Sprintf(` AND correlation_id = $%d`, argIdx)
		args = append(args, params.CorrelationID)
		argIdx++
	}

	query += ` ORDER BY created DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	return query, args
}

func scanInvocation(row pgx.Row) (*Invocation, error) {
	var inv Invocation
	var arguments, result []byte
	err := row.Scan(
		&inv.ID, &inv.CorrelationID, &inv.Tool, &inv.Transport, &inv.PVName, &arguments, &inv.Outcome, &inv.Status, &result,
		&inv.ErrorCode, &inv.ErrorMessage, &inv.DurationMs, &inv.Created,
	)
	if err != nil {
		return nil, err
	}
	inv.Arguments = arguments
	if len(result) > 0 {
		inv.Result = result
	}
	return &inv, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
