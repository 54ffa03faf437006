package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/sport-scheduler/internal/persistence"
)

const sessionColumns = `id, activity_id, starts_at, max_players, is_cancelled, created_at`

// CreateSession inserts a session for an existing activity.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" {
		return persistence.ErrConstraintViolation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.ActivityID,
		formatTime(session.StartsAt),
		session.MaxPlayers,
		boolToInt(session.IsCancelled),
		formatTime(session.CreatedAt),
	)
	return mapError(err)
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

// ListSessionsForActivity returns the activity's sessions ordered by start.
func (s *Storage) ListSessionsForActivity(ctx context.Context, activityID string) ([]persistence.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE activity_id = ? ORDER BY starts_at`, activityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sessions := make([]persistence.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

// WithSessionLock runs fn inside an immediate transaction. SQLite takes the
// database write lock at BEGIN, so concurrent callers queue on busy_timeout
// and surface persistence.ErrConflict once it expires.
func (s *Storage) WithSessionLock(ctx context.Context, sessionID string, fn func(tx persistence.SessionTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := scanSession(tx.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID))
		if err != nil {
			return err
		}
		return fn(&sessionTx{ctx: ctx, tx: tx, session: session})
	})
}

type sessionTx struct {
	ctx     context.Context
	tx      *sql.Tx
	session persistence.Session
}

func (t *sessionTx) Session() persistence.Session {
	return t.session
}

func (t *sessionTx) ListParticipants() ([]persistence.Participant, error) {
	return queryParticipants(t.ctx, t.tx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? ORDER BY joined_at, seq`, t.session.ID)
}

func (t *sessionTx) InsertParticipant(p persistence.Participant) (persistence.Participant, error) {
	p.SessionID = t.session.ID
	result, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO participants (session_id, user_id, status, joined_at) VALUES (?, ?, ?, ?)`,
		p.SessionID, p.UserID, string(p.Status), formatTime(p.JoinedAt))
	if err != nil {
		return persistence.Participant{}, mapError(err)
	}
	if p.Seq, err = result.LastInsertId(); err != nil {
		return persistence.Participant{}, fmt.Errorf("sqlite: participant seq: %w", err)
	}
	return p, nil
}

func (t *sessionTx) DeleteParticipant(userID string) error {
	result, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM participants WHERE session_id = ? AND user_id = ?`, t.session.ID, userID)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

func (t *sessionTx) SetParticipantStatus(userID string, status persistence.ParticipantStatus) error {
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE participants SET status = ? WHERE session_id = ? AND user_id = ?`, string(status), t.session.ID, userID)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

func (t *sessionTx) SetMaxPlayers(maxPlayers int) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE sessions SET max_players = ? WHERE id = ?`, maxPlayers, t.session.ID); err != nil {
		return mapError(err)
	}
	t.session.MaxPlayers = maxPlayers
	return nil
}

func (t *sessionTx) Cancel() error {
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE sessions SET is_cancelled = 1 WHERE id = ?`, t.session.ID); err != nil {
		return mapError(err)
	}
	t.session.IsCancelled = true
	return nil
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var (
		session     persistence.Session
		startsAt    string
		isCancelled int
		createdAt   string
	)
	if err := row.Scan(&session.ID, &session.ActivityID, &startsAt, &session.MaxPlayers, &isCancelled, &createdAt); err != nil {
		return persistence.Session{}, mapError(err)
	}

	var err error
	if session.StartsAt, err = parseTime(startsAt); err != nil {
		return persistence.Session{}, err
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Session{}, err
	}
	session.IsCancelled = isCancelled != 0
	return session, nil
}
