package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/simmerhq/simmer/pkg/api"
)

// SQLiteSessionStore is a SessionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteSessionStore struct {
	db *sql.DB
}

// Ensure SQLiteSessionStore implements SessionStore.
var _ SessionStore = (*SQLiteSessionStore)(nil)

// NewSQLiteSessionStore initializes the required schema in the given
// database and returns a new SQLiteSessionStore.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			recipe_name TEXT NOT NULL,
			status TEXT NOT NULL,
			context BLOB,
			outcomes BLOB,
			seq INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			context BLOB,
			outcomes BLOB,
			taken_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
	)
	return err
}

func (s *SQLiteSessionStore) SaveSession(ctx context.Context, sess *api.Session) error {
	contextBlob, outcomesBlob, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, recipe_name, status, context, outcomes, seq, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.RecipeName,
		string(sess.Status),
		contextBlob,
		outcomesBlob,
		sess.Seq,
		sess.Err,
		sess.CreatedAt.UnixNano(),
		sess.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteSessionStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	contextBlob, outcomesBlob, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET recipe_name = ?, status = ?, context = ?, outcomes = ?, seq = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		sess.RecipeName,
		string(sess.Status),
		contextBlob,
		outcomesBlob,
		sess.Seq,
		sess.Err,
		sess.UpdatedAt.UnixNano(),
		sess.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) GetSession(ctx context.Context, id string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipe_name, status, context, outcomes, seq, error, created_at, updated_at
		FROM sessions
		WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteSessionStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*api.Session, error) {
	query := `
		SELECT id, recipe_name, status, context, outcomes, seq, error, created_at, updated_at
		FROM sessions`
	var args []any
	var clauses []string

	if filter.RecipeName != "" {
		clauses = append(clauses, "recipe_name = ?")
		args = append(args, filter.RecipeName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*api.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *SQLiteSessionStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, id)
	return err
}

func (s *SQLiteSessionStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	contextBlob, err := EncodeValue(cp.Context)
	if err != nil {
		return err
	}
	outcomesBlob, err := EncodeValue(cp.Outcomes)
	if err != nil {
		return err
	}

	takenAt := cp.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now()
	}

	// Re-saving the same seq (e.g. after a resume replays a step) keeps the
	// newest snapshot.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, seq, context, outcomes, taken_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO UPDATE SET
			context = excluded.context,
			outcomes = excluded.outcomes,
			taken_at = excluded.taken_at`,
		cp.SessionID,
		cp.Seq,
		contextBlob,
		outcomesBlob,
		takenAt.UnixNano(),
	)
	return err
}

func (s *SQLiteSessionStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, seq, context, outcomes, taken_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		sessionID,
	)

	var cp Checkpoint
	var contextBlob, outcomesBlob []byte
	var takenAtN int64

	if err := row.Scan(&cp.SessionID, &cp.Seq, &contextBlob, &outcomesBlob, &takenAtN); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}

	contextVal, err := DecodeValue[map[string]any](contextBlob)
	if err != nil {
		return nil, err
	}
	cp.Context = contextVal

	outcomesVal, err := DecodeValue[map[string]*api.StepOutcome](outcomesBlob)
	if err != nil {
		return nil, err
	}
	cp.Outcomes = outcomesVal

	cp.TakenAt = time.Unix(0, takenAtN)
	return &cp, nil
}

func encodeSessionBlobs(sess *api.Session) (contextBlob, outcomesBlob []byte, err error) {
	contextBlob, err = EncodeValue(sess.Context)
	if err != nil {
		return nil, nil, err
	}
	outcomesBlob, err = EncodeValue(sess.Outcomes)
	if err != nil {
		return nil, nil, err
	}
	return contextBlob, outcomesBlob, nil
}

func scanSession(scan func(dest ...any) error) (*api.Session, error) {
	var sess api.Session
	var statusStr string
	var contextBlob, outcomesBlob []byte
	var createdAtN, updatedAtN int64

	if err := scan(&sess.ID, &sess.RecipeName, &statusStr, &contextBlob, &outcomesBlob, &sess.Seq, &sess.Err, &createdAtN, &updatedAtN); err != nil {
		return nil, err
	}

	sess.Status = api.Status(statusStr)

	contextVal, err := DecodeValue[map[string]any](contextBlob)
	if err != nil {
		return nil, err
	}
	sess.Context = contextVal

	outcomesVal, err := DecodeValue[map[string]*api.StepOutcome](outcomesBlob)
	if err != nil {
		return nil, err
	}
	sess.Outcomes = outcomesVal

	sess.CreatedAt = time.Unix(0, createdAtN)
	sess.UpdatedAt = time.Unix(0, updatedAtN)
	return &sess, nil
}
