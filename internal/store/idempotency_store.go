package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
)

// IdempotencyStore backs the "both arrive asynchronously and MUST be
// idempotent on retry" requirement for workspace button/reply events and
// webhook redeliveries: a durable INSERT ... ON CONFLICT DO NOTHING guard
// keyed on (workspace_thread_key, event_id), collapsed here into a single
// opaque key string the caller composes.
type IdempotencyStore interface {
	// MarkSeen records key as processed and reports whether it was new.
	// A false return means the event was already handled and the caller
	// must treat this delivery as a no-op.
	MarkSeen(ctx context.Context, key string, sessionID *string) (isNew bool, err error)
	// Prune deletes keys recorded before cutoff, bounding table growth.
	Prune(ctx context.Context, cutoff time.Time) (deleted int64, err error)
}

type postgresIdempotencyStore struct {
	db *sqlx.DB
}

func NewPostgresIdempotencyStore(db *sqlx.DB) IdempotencyStore {
	return &postgresIdempotencyStore{db: db}
}

func (s *postgresIdempotencyStore) MarkSeen(ctx context.Context, key string, sessionID *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, session_id)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, sessionID)
	if err != nil {
		return false, apperrors.StoreUnavailable(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.StoreUnavailable(err)
	}
	return rows > 0, nil
}

func (s *postgresIdempotencyStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return result.RowsAffected()
}
