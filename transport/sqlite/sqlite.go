// Package sqlite provides a file-backed work queue transport for single-host
// deployments. All access goes through one connection, which serializes claims.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFile is used when SQLiteFile is empty.
const DefaultFile = "taskflow_queue.db"

func init() {
	Register()
}

// Register adds the SQLite transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Dialect is the SQLite flavour of the queue SQL. UPDATE ... RETURNING needs
// SQLite 3.35 or newer, which the bundled driver provides.
var Dialect = sqlqueue.Dialect{
	Name: TransportName,
	DDL: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT NOT NULL,
				topic TEXT NOT NULL,
				payload BLOB NOT NULL,
				metadata TEXT,
				available_at INTEGER NOT NULL,
				locked_until INTEGER,
				retry_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_claim_idx ON %[1]s (topic, status, available_at)`, table),
		}
	},
}

// OpenDB opens the database file with WAL journaling and a busy timeout.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultFile
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	q, err := New(ctx, cfg.GetSQLiteFile(), sqlqueue.Config{}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  q,
		Subscriber: q,
	}, nil
}

// New opens path and prepares the queue table.
func New(ctx context.Context, path string, cfg sqlqueue.Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	q, err := sqlqueue.New(ctx, db, Dialect, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}
