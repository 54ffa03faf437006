package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/sport-scheduler/internal/persistence"
)

const participantColumns = `seq, session_id, user_id, status, joined_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListParticipants returns the session's participants in waiting-list order.
func (s *Storage) ListParticipants(ctx context.Context, sessionID string) ([]persistence.Participant, error) {
	return queryParticipants(ctx, s.db,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? ORDER BY joined_at, seq`, sessionID)
}

// ListParticipationsForUser returns every enrollment of the user ordered by join time.
func (s *Storage) ListParticipationsForUser(ctx context.Context, userID string) ([]persistence.Participant, error) {
	return queryParticipants(ctx, s.db,
		`SELECT `+participantColumns+` FROM participants WHERE user_id = ? ORDER BY joined_at, seq`, userID)
}

func queryParticipants(ctx context.Context, q queryer, query string, args ...any) ([]persistence.Participant, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var participants []persistence.Participant
	for rows.Next() {
		var (
			p        persistence.Participant
			status   string
			joinedAt string
		)
		if err := rows.Scan(&p.Seq, &p.SessionID, &p.UserID, &status, &joinedAt); err != nil {
			return nil, mapError(err)
		}
		p.Status = persistence.ParticipantStatus(status)
		if p.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return participants, nil
}
