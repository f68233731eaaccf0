// Package store implements the Session Store (C1): the single source of
// truth for session state, history, and pending slots. Optimistic
// concurrency (compare-and-set on state) is its only concurrency
// primitive; it holds no long-lived locks.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
	"github.com/supportdesk/dispatcher/internal/model"
)

// ErrStale is returned by Transition when the session's current state no
// longer matches the expected "from" state — the CAS lost the race.
var ErrStale = apperrors.StaleClaim()

// TransitionFields carries the side-effect columns a transition writes
// alongside the state change itself (e.g. assigned_agent on claim,
// escalation_reason on escalate).
type TransitionFields struct {
	AssignedAgent      *string
	EscalationReason   *string
	WorkspaceThreadKey *string
}

// SessionStore is the C1 interface. Every operation name matches spec.md
// §4.1 exactly.
type SessionStore interface {
	FindOrCreateActive(ctx context.Context, params model.FindOrCreateParams) (*model.Session, error)
	AppendMessage(ctx context.Context, params model.AppendMessageParams) (*model.Session, error)
	Transition(ctx context.Context, sessionID string, from, to model.SessionState, fields TransitionFields) (*model.Session, error)
	SetPendingSlots(ctx context.Context, sessionID string, slots model.SlotOffers) (*model.Session, error)
	ClearPendingSlots(ctx context.Context, sessionID string) (*model.Session, error)
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	GetByWorkspaceThread(ctx context.Context, workspaceThreadKey string) (*model.Session, error)
	History(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	Stats(ctx context.Context) (*model.Stats, error)
	// CloseStaleEscalations closes any Escalated-Unclaimed session whose
	// escalated_at predates the cutoff, backing the optional escalation
	// timeout from spec.md's open questions (disabled when cutoff is the
	// zero time).
	CloseStaleEscalations(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a store bound to an existing transaction, mirroring
	// the teacher's repository-scoping pattern.
	WithTx(tx *sqlx.Tx) SessionStore
}

// sessionDB is satisfied by both *sqlx.DB and *sqlx.Tx.
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
