package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

// SQLiteEventStore stores session events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interface.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			recipe_name TEXT NOT NULL DEFAULT '',
			step_id TEXT NOT NULL DEFAULT '',
			iteration INTEGER NOT NULL DEFAULT -1,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events(session_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.SessionEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, at, type, recipe_name, step_id, iteration, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID,
		at.UnixNano(),
		string(ev.Type),
		ev.RecipeName,
		ev.StepID,
		ev.Iteration,
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, sessionID string) ([]api.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, at, type, recipe_name, step_id, iteration, detail
		FROM session_events
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.SessionEvent
	for rows.Next() {
		var (
			id        string
			atN       int64
			typ       string
			recipe    string
			stepID    string
			iteration int
			detail    string
		)
		if err := rows.Scan(&id, &atN, &typ, &recipe, &stepID, &iteration, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.SessionEvent{
			SessionID:  id,
			At:         time.Unix(0, atN),
			Type:       api.EventType(typ),
			RecipeName: recipe,
			StepID:     stepID,
			Iteration:  iteration,
			Detail:     detail,
		})
	}
	return out, rows.Err()
}
