package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearInvocations truncates the invocation journal. Schema is preserved;
// only data is removed.
func ClearInvocations(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing invocation journal", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE tool_invocations`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Invocation journal cleared", clearLogPrefix))
	return nil
}

// PruneInvocations deletes journal rows older than the given number of days and
// returns how many were removed.
func PruneInvocations(ctx context.Context, pool *pgxpool.Pool, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, fmt.Errorf("%s - olderThanDays must be positive, got %d", clearLogPrefix, olderThanDays)
	}
	tag, err := pool.Exec(ctx,
		`DELETE FROM tool_invocations WHERE created < now() - make_interval(days => $1)`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Pruned %d journal rows older than %d days", clearLogPrefix, tag.RowsAffected(), olderThanDays))
	return tag.RowsAffected(), nil
}
