package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/provision"
)

// timeLayout sorts lexically in both dialects.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded provisioning outcome.
type Entry struct {
	SessionID      string
	Target         provision.Target
	Phase          provision.Phase
	Cause          string
	Polls          int
	RecoveryStarts int
	Origin         origin.Origin
	StartedAt      time.Time
	EndedAt        time.Time
}

// Journal implements provision.Recorder.
type Journal struct {
	db *DB
}

func New(db *DB) *Journal {
	return &Journal{db: db}
}

// Record stores a finished session. Recording the same session twice is a
// no-op.
func (j *Journal) Record(ctx context.Context, s provision.Session, to origin.Origin) error {
	if !s.Phase.Terminal() {
		return fmt.Errorf("journal: session %s is still %s", s.ID, s.Phase)
	}
	cause := ""
	switch {
	case s.Cause != nil:
		cause = s.Cause.Error()
	case s.LastError != nil:
		cause = s.LastError.Error()
	}
	ended := s.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	_, err := j.db.db.ExecContext(ctx, j.db.rebind(
		`INSERT INTO provisioning_outcomes
			(id, server_id, identifier, name, phase, cause, polls, recovery_starts, channel, conversation, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		s.ID, s.Target.ServerID, s.Target.Identifier, s.Target.Name, string(s.Phase), cause,
		s.Polls, s.RecoveryStarts, to.Channel, to.Conversation,
		s.StartedAt.UTC().Format(timeLayout), ended.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.db.QueryContext(ctx, j.db.rebind(
		`SELECT id, server_id, identifier, name, phase, cause, polls, recovery_starts, channel, conversation, started_at, ended_at
		FROM provisioning_outcomes ORDER BY ended_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			phase          string
			started, ended string
		)
		if err := rows.Scan(&e.SessionID, &e.Target.ServerID, &e.Target.Identifier, &e.Target.Name,
			&phase, &e.Cause, &e.Polls, &e.RecoveryStarts, &e.Origin.Channel, &e.Origin.Conversation,
			&started, &ended); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Phase = provision.Phase(phase)
		var err error
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("journal: session %s: started_at: %w", e.SessionID, err)
		}
		if e.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
			return nil, fmt.Errorf("journal: session %s: ended_at: %w", e.SessionID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
