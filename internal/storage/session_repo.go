package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"litagent/internal/models"
	"litagent/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SessionRepo persists chat sessions and their turn transcripts.
type SessionRepo struct {
	db *DB
}

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) GetSession(ctx context.Context, userID, sessionID string) (models.ChatSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return models.ChatSession{}, fmt.Errorf("session %q: %w", sessionID, util.ErrNotFound)
	}
	var s models.ChatSession
	err := r.db.Pool.QueryRow(ctx, `
SELECT session_id::text, user_id, created_at
FROM chat_sessions
WHERE session_id=$1 AND user_id=$2`, sessionID, userID).Scan(&s.SessionID, &s.UserID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatSession{}, fmt.Errorf("session %s: %w", sessionID, util.ErrNotFound)
	}
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// SaveTurn creates the session on first use and appends the transcript in
// the same transaction.
func (r *SessionRepo) SaveTurn(ctx context.Context, t models.Transcript) error {
	if t.TranscriptID == "" {
		t.TranscriptID = uuid.NewString()
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save turn: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
INSERT INTO chat_sessions (session_id, user_id)
VALUES ($1, $2)
ON CONFLICT (session_id) DO NOTHING`, t.SessionID, t.UserID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	var owner string
	if err := tx.QueryRow(ctx, `SELECT user_id FROM chat_sessions WHERE session_id=$1`, t.SessionID).Scan(&owner); err != nil {
		return fmt.Errorf("load session owner: %w", err)
	}
	if owner != t.UserID {
		return fmt.Errorf("session %s: %w", t.SessionID, util.ErrNotFound)
	}

	stages := t.Stages
	if stages == nil {
		stages = []models.StageRecord{}
	}
	_, err = tx.Exec(ctx, `
INSERT INTO transcripts (transcript_id, session_id, user_id, query, answer, mode, stages,
                         referenced_paper_ids, ingested_paper_ids, degraded, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12::timestamptz, NOW()))`,
		t.TranscriptID, t.SessionID, t.UserID, t.Query, t.Answer, string(t.Mode), stages,
		nonNil(t.ReferencedPaperIDs), nonNil(t.IngestedPaperIDs), nonNil(t.Degraded), nonNil(t.Notes),
		turnTime(t),
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save turn: %w", err)
	}
	return nil
}

func (r *SessionRepo) ListTranscripts(ctx context.Context, userID, sessionID string) ([]models.Transcript, error) {
	if _, err := r.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT transcript_id::text, session_id::text, user_id, query, answer, mode, stages,
       referenced_paper_ids, ingested_paper_ids, degraded, notes, created_at
FROM transcripts
WHERE session_id=$1 AND user_id=$2
ORDER BY created_at ASC`, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()
	out := make([]models.Transcript, 0, 8)
	for rows.Next() {
		var (
			t    models.Transcript
			mode string
		)
		if err := rows.Scan(&t.TranscriptID, &t.SessionID, &t.UserID, &t.Query, &t.Answer, &mode, &t.Stages,
			&t.ReferencedPaperIDs, &t.IngestedPaperIDs, &t.Degraded, &t.Notes, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		t.Mode = models.ReasoningMode(mode)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, nil
}

func (r *SessionRepo) ListSessions(ctx context.Context, userID string) ([]models.SessionInfo, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT s.session_id::text,
       COALESCE(last.query, ''),
       COALESCE(agg.turns, 0),
       COALESCE(last.created_at, s.created_at) AS last_turn_at
FROM chat_sessions s
LEFT JOIN LATERAL (
  SELECT t.query, t.created_at FROM transcripts t
  WHERE t.session_id = s.session_id
  ORDER BY t.created_at DESC LIMIT 1
) last ON TRUE
LEFT JOIN LATERAL (
  SELECT COUNT(*)::int AS turns FROM transcripts t WHERE t.session_id = s.session_id
) agg ON TRUE
WHERE s.user_id=$1
ORDER BY last_turn_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := make([]models.SessionInfo, 0)
	for rows.Next() {
		var s models.SessionInfo
		if err := rows.Scan(&s.SessionID, &s.LastQuery, &s.Turns, &s.LastTurnAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// turnTime is the caller's clock reading for the turn, or nil to let the
// database stamp it.
func turnTime(t models.Transcript) *time.Time {
	if t.CreatedAt.IsZero() {
		return nil
	}
	ts := t.CreatedAt.UTC()
	return &ts
}
