package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores records in the tasks and message_log tables.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func openPostgres(ctx context.Context, opts Options) (Store, error) {
	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	s, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres creates the schema and takes ownership of pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			result VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS message_log (
			id BIGSERIAL PRIMARY KEY,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (p *Postgres) Create(ctx context.Context) (WorkRecord, error) {
	var rec WorkRecord
	err := p.pool.QueryRow(ctx, `INSERT INTO tasks DEFAULT VALUES RETURNING id, created_at`).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return WorkRecord{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (p *Postgres) Find(ctx context.Context, id int64) (WorkRecord, error) {
	var (
		rec    = WorkRecord{ID: id}
		result *string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT result, created_at, completed_at FROM tasks WHERE id = $1`, id,
	).Scan(&result, &rec.CreatedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkRecord{}, notFound(id)
	}
	if err != nil {
		return WorkRecord{}, err
	}
	if result != nil {
		rec.Result = *result
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.CompletedAt != nil {
		at := rec.CompletedAt.UTC()
		rec.CompletedAt = &at
	}
	return rec, nil
}

func (p *Postgres) Commit(ctx context.Context, id int64, result string, completedAt time.Time) (WorkRecord, error) {
	_, err := p.pool.Exec(ctx,
		`UPDATE tasks SET result = $1, completed_at = $2 WHERE id = $3 AND completed_at IS NULL`,
		result, completedAt, id,
	)
	if err != nil {
		return WorkRecord{}, err
	}
	return p.Find(ctx, id)
}

func (p *Postgres) Append(ctx context.Context, message string) (AuditEntry, error) {
	entry := AuditEntry{Message: message}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO message_log (message) VALUES ($1) RETURNING id, created_at`, message,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return AuditEntry{}, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, message, created_at FROM message_log ORDER BY id DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
