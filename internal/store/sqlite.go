package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqlitetransport "github.com/drblury/taskflow/transport/sqlite"
)

// SQLite stores records in a single database file. Timestamps are kept as
// unix nanoseconds.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

func openSQLite(ctx context.Context, opts Options) (Store, error) {
	db, err := sqlitetransport.OpenDB(opts.DSN)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite creates the schema on db and takes ownership of it.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS message_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

func (s *SQLite) Create(ctx context.Context) (WorkRecord, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO tasks (created_at) VALUES (?)`, now.UnixNano())
	if err != nil {
		return WorkRecord{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return WorkRecord{}, err
	}
	return WorkRecord{ID: id, CreatedAt: time.Unix(0, now.UnixNano()).UTC()}, nil
}

func (s *SQLite) Find(ctx context.Context, id int64) (WorkRecord, error) {
	var (
		result      sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT result, created_at, completed_at FROM tasks WHERE id = ?`, id,
	).Scan(&result, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkRecord{}, notFound(id)
	}
	if err != nil {
		return WorkRecord{}, err
	}

	rec := WorkRecord{ID: id, Result: result.String, CreatedAt: time.Unix(0, createdAt).UTC()}
	if completedAt.Valid {
		at := time.Unix(0, completedAt.Int64).UTC()
		rec.CompletedAt = &at
	}
	return rec, nil
}

func (s *SQLite) Commit(ctx context.Context, id int64, result string, completedAt time.Time) (WorkRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET result = ?, completed_at = ? WHERE id = ? AND completed_at IS NULL`,
		result, completedAt.UnixNano(), id,
	)
	if err != nil {
		return WorkRecord{}, err
	}
	return s.Find(ctx, id)
}

func (s *SQLite) Append(ctx context.Context, message string) (AuditEntry, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log (message, created_at) VALUES (?, ?)`, message, now.UnixNano())
	if err != nil {
		return AuditEntry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AuditEntry{}, err
	}
	return AuditEntry{ID: id, Message: message, CreatedAt: time.Unix(0, now.UnixNano()).UTC()}, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, created_at FROM message_log ORDER BY id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var (
			entry     AuditEntry
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Message, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
