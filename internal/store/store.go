// Package store persists work records and the audit log. Every backend
// implements Store; Open picks one by driver name.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// WorkRecord is one submitted unit of work. It is created pending and
// completed exactly once.
type WorkRecord struct {
	ID          int64      `json:"id" bson:"_id"`
	Result      string     `json:"result,omitempty" bson:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// Completed reports whether a result has been committed.
func (r WorkRecord) Completed() bool {
	return r.CompletedAt != nil
}

// ProcessingSeconds is the whole number of seconds between creation and
// completion, never negative. Pending records report 0.
func (r WorkRecord) ProcessingSeconds() int64 {
	if r.CompletedAt == nil {
		return 0
	}
	secs := int64(r.CompletedAt.Sub(r.CreatedAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        int64     `json:"id" bson:"_id"`
	Message   string    `json:"message" bson:"message"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// WorkStore creates and completes work records.
type WorkStore interface {
	Create(ctx context.Context) (WorkRecord, error)
	// Find returns ErrRecordNotFound when id does not exist.
	Find(ctx context.Context, id int64) (WorkRecord, error)
	// Commit sets result and completion time unless the record is already
	// complete, and returns the stored record either way.
	Commit(ctx context.Context, id int64, result string, completedAt time.Time) (WorkRecord, error)
}

// AuditLog is an append-only message log.
type AuditLog interface {
	Append(ctx context.Context, message string) (AuditEntry, error)
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Store is a work store and an audit log sharing one connection.
type Store interface {
	WorkStore
	AuditLog
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	// DSN is a file path for sqlite, a URL for postgres, redis and mongo.
	DSN string
	// Database names the mongo database.
	Database string
	// Prefix namespaces redis keys.
	Prefix string
}

// Opener connects to a backend.
type Opener func(ctx context.Context, opts Options) (Store, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// Register makes a backend available to Open under name.
func Register(name string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[strings.ToLower(name)] = opener
}

// Drivers lists the registered backend names in sorted order.
func Drivers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the backend named by opts.Driver. An empty driver means memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = DriverMemory
	}
	openersMu.RLock()
	opener, ok := openers[driver]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", opts.Driver, Drivers())
	}
	s, err := opener(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return s, nil
}

func init() {
	Register(DriverMemory, func(context.Context, Options) (Store, error) { return NewMemory(), nil })
	Register(DriverSQLite, openSQLite)
	Register(DriverPostgres, openPostgres)
	Register(DriverRedis, openRedis)
	Register(DriverMongo, openMongo)
}

// Driver names.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

func notFound(id int64) error {
	return fmt.Errorf("work record %d: %w", id, errspkg.ErrRecordNotFound)
}

// normalizeLimit caps List at 1000 entries and defaults to 100.
func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
