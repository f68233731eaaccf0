package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
	"github.com/supportdesk/dispatcher/internal/model"
)

type postgresSessionStore struct {
	db sessionDB
}

func NewPostgresSessionStore(db *sqlx.DB) SessionStore {
	return &postgresSessionStore{db: db}
}

func (s *postgresSessionStore) WithTx(tx *sqlx.Tx) SessionStore {
	return &postgresSessionStore{db: tx}
}

// FindOrCreateActive enforces invariant 1 (exactly-one active session per
// user) at the database layer via a partial unique index on
// (surface, external_user_id) filtered to the active-state set, rather
// than relying solely on application-level checking.
func (s *postgresSessionStore) FindOrCreateActive(ctx context.Context, params model.FindOrCreateParams) (*model.Session, error) {
	var existing model.Session
	err := s.db.GetContext(ctx, &existing, `
		SELECT * FROM sessions
		WHERE surface = $1 AND external_user_id = $2
		AND state IN ('active_ai', 'escalated_unclaimed', 'escalated_claimed')
		ORDER BY created_at DESC
		LIMIT 1
	`, params.Surface, params.ExternalUserID)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.StoreUnavailable(err)
	}

	var created model.Session
	err = s.db.GetContext(ctx, &created, `
		INSERT INTO sessions (surface, external_user_id, channel_key, state, ai_disabled)
		VALUES ($1, $2, $3, 'active_ai', false)
		ON CONFLICT (surface, external_user_id)
			WHERE state IN ('active_ai', 'escalated_unclaimed', 'escalated_claimed')
		DO NOTHING
		RETURNING *
	`, params.Surface, params.ExternalUserID, params.ChannelKey)
	if err == nil {
		return &created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.StoreUnavailable(err)
	}

	// Lost the race: another request's INSERT won the partial unique
	// index. Re-read the row it created.
	err = s.db.GetContext(ctx, &existing, `
		SELECT * FROM sessions
		WHERE surface = $1 AND external_user_id = $2
		AND state IN ('active_ai', 'escalated_unclaimed', 'escalated_claimed')
		ORDER BY created_at DESC
		LIMIT 1
	`, params.Surface, params.ExternalUserID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &existing, nil
}

func (s *postgresSessionStore) AppendMessage(ctx context.Context, params model.AppendMessageParams) (*model.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages
			(session_id, role, content, surface, agent_display_name, confidence, classifier_intent, citations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, params.SessionID, params.Role, params.Content, params.Surface,
		params.AgentDisplayName, params.Confidence, params.ClassifierIntent, params.Citations)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	var session model.Session
	err = s.db.GetContext(ctx, &session, `
		UPDATE sessions SET updated_at = NOW() WHERE id = $1 RETURNING *
	`, params.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &session, nil
}

// Transition is a single CAS UPDATE ... WHERE id = $1 AND state = $2,
// grounded directly on the teacher's MarkPaired pattern. Unlike the
// teacher, it checks RowsAffected so a lost race surfaces as ErrStale
// instead of silently no-opping.
func (s *postgresSessionStore) Transition(ctx context.Context, sessionID string, from, to model.SessionState, fields TransitionFields) (*model.Session, error) {
	if !model.CanTransition(from, to) {
		return nil, apperrors.ValidationError("invalid state transition")
	}

	now := time.Now()
	aiDisabled := to.AIDisabled()

	var escalatedAt, claimedAt, closedAt any
	switch to {
	case model.StateEscalatedUnclaimed:
		escalatedAt = now
	case model.StateEscalatedClaimed:
		claimedAt = now
	case model.StateClosed:
		closedAt = now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = $3,
			ai_disabled = $4,
			assigned_agent = COALESCE($5, assigned_agent),
			escalation_reason = COALESCE($6, escalation_reason),
			workspace_thread_key = COALESCE($7, workspace_thread_key),
			escalated_at = COALESCE($8, escalated_at),
			claimed_at = COALESCE($9, claimed_at),
			closed_at = COALESCE($10, closed_at),
			updated_at = $11
		WHERE id = $1 AND state = $2
	`, sessionID, from, to, aiDisabled, fields.AssignedAgent, fields.EscalationReason,
		fields.WorkspaceThreadKey, escalatedAt, claimedAt, closedAt, now)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if rows == 0 {
		return nil, ErrStale
	}

	return s.Get(ctx, sessionID)
}

func (s *postgresSessionStore) SetPendingSlots(ctx context.Context, sessionID string, slots model.SlotOffers) (*model.Session, error) {
	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		UPDATE sessions SET pending_slots = $2, updated_at = NOW()
		WHERE id = $1 RETURNING *
	`, sessionID, slots)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &session, nil
}

// ClearPendingSlots backs invariant 6 (slot consumption is single-use).
func (s *postgresSessionStore) ClearPendingSlots(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.SetPendingSlots(ctx, sessionID, nil)
}

func (s *postgresSessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var session model.Session
	err := s.db.GetContext(ctx, &session, `SELECT * FROM sessions WHERE id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &session, nil
}

func (s *postgresSessionStore) GetByWorkspaceThread(ctx context.Context, workspaceThreadKey string) (*model.Session, error) {
	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE workspace_thread_key = $1
	`, workspaceThreadKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &session, nil
}

func (s *postgresSessionStore) History(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT * FROM session_messages
		WHERE session_id = $1
		ORDER BY at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	// reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CloseStaleEscalations transitions abandoned Escalated-Unclaimed
// sessions straight to Closed. This is a direct state write rather than
// a Transition call per row: the sweep runs in bulk and each row's CAS
// precondition (state = escalated_unclaimed) is already enforced by the
// WHERE clause here, so a second RowsAffected check would be redundant.
func (s *postgresSessionStore) CloseStaleEscalations(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = 'closed',
			ai_disabled = true,
			closed_at = NOW(),
			updated_at = NOW()
		WHERE state = 'escalated_unclaimed' AND escalated_at < $1
	`, cutoff)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return rows, nil
}

func (s *postgresSessionStore) Stats(ctx context.Context) (*model.Stats, error) {
	var stats model.Stats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM sessions) AS total_sessions,
			(SELECT COUNT(*) FROM sessions WHERE state = 'active_ai') AS active_ai,
			(SELECT COUNT(*) FROM sessions WHERE state = 'escalated_unclaimed') AS escalated_unclaimed,
			(SELECT COUNT(*) FROM sessions WHERE state = 'escalated_claimed') AS escalated_claimed,
			(SELECT COUNT(*) FROM sessions WHERE state = 'closed') AS closed,
			(SELECT COUNT(*) FROM session_messages WHERE at > NOW() - INTERVAL '24 hours') AS messages_last24h,
			(SELECT COUNT(*) FROM sessions WHERE escalated_at > NOW() - INTERVAL '24 hours') AS escalations_last24h
	`)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return &stats, nil
}
