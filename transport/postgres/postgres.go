// Package postgres provides a PostgreSQL-backed work queue transport. Rows are
// claimed with FOR UPDATE SKIP LOCKED, so any number of worker processes can
// poll the same table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// DefaultTable lives in its own schema to stay clear of application tables.
const DefaultTable = "taskflow_queue.messages"

func init() {
	Register()
}

// Register adds the transport under "postgres" and the "postgresql" alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Dialect is the PostgreSQL flavour of the queue SQL.
var Dialect = sqlqueue.Dialect{
	Name:       TransportName,
	Numbered:   true,
	LockClause: "FOR UPDATE SKIP LOCKED",
	DDL: func(table string) []string {
		stmts := []string{}
		if schema, _, ok := splitSchema(table); ok {
			stmts = append(stmts, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema))
		}
		return append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				uuid TEXT NOT NULL,
				topic TEXT NOT NULL,
				payload BYTEA NOT NULL,
				metadata TEXT,
				available_at BIGINT NOT NULL,
				locked_until BIGINT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_claim_idx ON %s (topic, status, available_at)`, indexPrefix(table), table),
		)
	},
}

// OpenDB allows overriding the connection for testing.
var OpenDB = func(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	q, err := New(ctx, cfg.GetPostgresURL(), sqlqueue.Config{Table: DefaultTable}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  q,
		Subscriber: q,
	}, nil
}

// New connects to dsn and prepares the queue table.
func New(ctx context.Context, dsn string, cfg sqlqueue.Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: URL is required")
	}
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	q, err := sqlqueue.New(ctx, db, Dialect, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

func splitSchema(table string) (schema, name string, ok bool) {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return table[:i], table[i+1:], true
		}
	}
	return "", table, false
}

func indexPrefix(table string) string {
	_, name, _ := splitSchema(table)
	return name
}
