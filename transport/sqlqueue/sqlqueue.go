// Package sqlqueue implements a polling work queue on top of database/sql.
// The postgres and sqlite transports wrap it with their own dialect.
//
// A subscriber claims one row at a time by setting locked_until. Ack deletes
// the row; nack releases it with exponential backoff and parks it as failed
// once MaxRetries is exceeded. A claim whose lock expires becomes visible
// again, so a crashed worker's message is redelivered.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	jsoncodec "github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLockTimeout  = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultTable        = "queue_messages"
	maxBackoff          = time.Minute
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("sqlqueue: queue is closed")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Dialect captures the SQL differences between drivers. Queries are written
// with ? placeholders and rebound when Numbered is set.
type Dialect struct {
	Name string
	// Numbered switches placeholders to $1, $2, ...
	Numbered bool
	// DDL returns the statements creating the table for the given name.
	DDL func(table string) []string
	// LockClause is appended to the claim subquery, e.g. FOR UPDATE SKIP LOCKED.
	LockClause string
}

type Config struct {
	PollInterval time.Duration
	LockTimeout  time.Duration
	MaxRetries   int
	// Table may be schema-qualified.
	Table string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	return c
}

// Queue is both a message.Publisher and a message.Subscriber.
type Queue struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	logger  watermill.LoggerAdapter
	queries queries

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type queries struct {
	insert, claim, ack, nack, unlock, pending string
}

// New prepares the table and returns a queue. The queue owns db and closes it.
func New(ctx context.Context, db *sql.DB, dialect Dialect, cfg Config, logger watermill.LoggerAdapter) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlqueue: db is required")
	}
	cfg = cfg.withDefaults()
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sqlqueue: invalid table name %q", cfg.Table)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	q := &Queue{
		db:      db,
		dialect: dialect,
		config:  cfg,
		logger:  logger.With(watermill.LogFields{"queue_driver": dialect.Name}),
		closed:  make(chan struct{}),
	}
	q.queries = q.buildQueries()

	if dialect.DDL != nil {
		for _, stmt := range dialect.DDL(cfg.Table) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("sqlqueue: init schema: %w", err)
			}
		}
	}
	return q, nil
}

func (q *Queue) buildQueries() queries {
	t := q.config.Table
	// #nosec G201 -- table name is validated against tableNamePattern.
	return queries{
		insert: q.rebind(fmt.Sprintf(`INSERT INTO %s (uuid, topic, payload, metadata, available_at) VALUES (?, ?, ?, ?, ?)`, t)),
		claim: q.rebind(fmt.Sprintf(`UPDATE %[1]s SET locked_until = ?
			WHERE id = (
				SELECT id FROM %[1]s
				WHERE topic = ? AND status = 'pending' AND available_at <= ?
				AND (locked_until IS NULL OR locked_until < ?)
				ORDER BY id ASC
				LIMIT 1 %[2]s
			)
			RETURNING id, uuid, payload, metadata, retry_count`, t, q.dialect.LockClause)),
		ack:    q.rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t)),
		nack:   q.rebind(fmt.Sprintf(`UPDATE %s SET retry_count = retry_count + 1, locked_until = NULL, available_at = ?, status = ? WHERE id = ?`, t)),
		unlock: q.rebind(fmt.Sprintf(`UPDATE %s SET locked_until = NULL WHERE id = ?`, t)),
		pending: q.rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE topic = ? AND status = 'pending'`, t)),
	}
}

func (q *Queue) rebind(query string) string {
	if !q.dialect.Numbered {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders to $1, $2, ...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Publish inserts all messages in one transaction.
func (q *Queue) Publish(topic string, messages ...*message.Message) error {
	if q.isClosed() {
		return ErrClosed
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlqueue: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			q.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	now := time.Now().UnixMilli()
	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("sqlqueue: marshal metadata: %w", err)
		}
		if _, err := tx.Exec(q.queries.insert, msg.UUID, topic, []byte(msg.Payload), string(metadata), now); err != nil {
			return fmt.Errorf("sqlqueue: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlqueue: commit: %w", err)
	}
	return nil
}

// Subscribe starts a poller for topic. Several subscribers on the same topic,
// in this process or others, share the rows between them.
func (q *Queue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}
	out := make(chan *message.Message)
	q.wg.Add(1)
	go q.poll(ctx, topic, out)
	return out, nil
}

func (q *Queue) poll(ctx context.Context, topic string, out chan *message.Message) {
	defer q.wg.Done()
	defer close(out)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything currently available before sleeping again.
		for q.deliverNext(ctx, topic, out) {
		}
		select {
		case <-ctx.Done():
			return
		case <-q.closed:
			return
		case <-ticker.C:
		}
	}
}

type claimed struct {
	id      int64
	retries int
	msg     *message.Message
}

func (q *Queue) claim(ctx context.Context, topic string) (claimed, bool) {
	now := time.Now()
	lockUntil := now.Add(q.config.LockTimeout).UnixMilli()

	var (
		c            claimed
		uuid         string
		payload      []byte
		metadataText sql.NullString
	)
	err := q.db.QueryRowContext(ctx, q.queries.claim, lockUntil, topic, now.UnixMilli(), now.UnixMilli()).
		Scan(&c.id, &uuid, &payload, &metadataText, &c.retries)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && ctx.Err() == nil {
			q.logger.Error("failed to claim message", err, watermill.LogFields{"topic": topic})
		}
		return claimed{}, false
	}

	metadata := make(message.Metadata)
	if metadataText.Valid && metadataText.String != "" {
		if err := jsoncodec.Unmarshal([]byte(metadataText.String), &metadata); err != nil {
			q.logger.Error("failed to unmarshal metadata", err, watermill.LogFields{"uuid": uuid})
		}
	}

	c.msg = message.NewMessage(uuid, payload)
	c.msg.Metadata = metadata
	return c, true
}

func (q *Queue) deliverNext(ctx context.Context, topic string, out chan *message.Message) bool {
	if ctx.Err() != nil || q.isClosed() {
		return false
	}
	c, ok := q.claim(ctx, topic)
	if !ok {
		return false
	}

	// Settlement must outlive the subscription context so an in-flight
	// message is never left locked until its timeout.
	settle := context.WithoutCancel(ctx)

	select {
	case out <- c.msg:
	case <-ctx.Done():
		q.exec(settle, q.queries.unlock, "unlock", c.id)
		return false
	case <-q.closed:
		q.exec(settle, q.queries.unlock, "unlock", c.id)
		return false
	}

	select {
	case <-c.msg.Acked():
		q.exec(settle, q.queries.ack, "ack", c.id)
		return true
	case <-c.msg.Nacked():
		q.nack(settle, c)
		return true
	case <-ctx.Done():
		q.exec(settle, q.queries.unlock, "unlock", c.id)
		return false
	case <-q.closed:
		q.exec(settle, q.queries.unlock, "unlock", c.id)
		return false
	}
}

// Backoff returns the redelivery delay after the given number of prior retries.
func Backoff(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > 6 {
		return maxBackoff
	}
	d := time.Duration(1<<retries) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (q *Queue) nack(ctx context.Context, c claimed) {
	status := "pending"
	if c.retries+1 > q.config.MaxRetries {
		status = "failed"
		q.logger.Error("message exceeded max retries, parking it", nil, watermill.LogFields{
			"uuid":    c.msg.UUID,
			"retries": c.retries + 1,
		})
	}
	availableAt := time.Now().Add(Backoff(c.retries)).UnixMilli()
	q.exec(ctx, q.queries.nack, "nack", availableAt, status, c.id)
}

func (q *Queue) exec(ctx context.Context, query, op string, args ...any) {
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		q.logger.Error("failed to "+op+" message", err, nil)
	}
}

// GetPendingCount returns the number of messages waiting on topic, including
// ones currently claimed but not yet settled.
func (q *Queue) GetPendingCount(ctx context.Context, topic string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, q.queries.pending, topic).Scan(&count)
	return count, err
}

// Close stops every poller, waits for them, and closes the database.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.closed)
		q.wg.Wait()
		err = q.db.Close()
	})
	return err
}
