package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "sqlite", caps.Name)
	assert.True(t, caps.SuitableForWorkQueues())
	assert.Equal(t, transport.SQLiteCapabilities, Capabilities())
}

func TestBuildCreatesQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	tr, err := Build(context.Background(), &transporttest.Config{SQLiteFile: path}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Publisher.Close() })

	assert.Same(t, tr.Publisher, tr.Subscriber)
	_, ok := tr.Subscriber.(transport.QueueIntrospector)
	assert.True(t, ok)
}

func TestDialectDDL(t *testing.T) {
	stmts := Dialect.DDL("jobs")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS jobs")
	assert.Contains(t, stmts[1], "jobs_claim_idx ON jobs")
	assert.False(t, Dialect.Numbered)
	assert.Empty(t, Dialect.LockClause)
}
