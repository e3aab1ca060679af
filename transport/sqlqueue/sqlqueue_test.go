package sqlqueue_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/transport/sqlite"
	"github.com/drblury/taskflow/transport/sqlqueue"
)

// The queue is exercised through the SQLite dialect since it needs no server.
func newQueue(t *testing.T, cfg sqlqueue.Config) (*sqlqueue.Queue, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	q, err := sqlite.New(context.Background(), path, cfg, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	// A second handle for assertions on raw rows.
	db, err := sqlite.OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return q, db
}

func receive(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublishSubscribeAck(t *testing.T) {
	q, _ := newQueue(t, sqlqueue.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Subscribe(ctx, "taskflow.rpc")
	require.NoError(t, err)

	out := message.NewMessage(watermill.NewUUID(), []byte(`{"workId":1}`))
	out.Metadata.Set("correlation_id", "task_1")
	out.Metadata.Set("reply_to", "taskflow.replies.a")
	require.NoError(t, q.Publish("taskflow.rpc", out))

	msg := receive(t, msgs)
	assert.Equal(t, out.UUID, msg.UUID)
	assert.JSONEq(t, `{"workId":1}`, string(msg.Payload))
	assert.Equal(t, "task_1", msg.Metadata.Get("correlation_id"))
	assert.Equal(t, "taskflow.replies.a", msg.Metadata.Get("reply_to"))
	msg.Ack()

	require.Eventually(t, func() bool {
		n, err := q.GetPendingCount(ctx, "taskflow.rpc")
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTopicsAreIsolated(t *testing.T) {
	q, _ := newQueue(t, sqlqueue.Config{})
	ctx := context.Background()

	require.NoError(t, q.Publish("taskflow.parts", message.NewMessage("p1", []byte(`{}`))))
	require.NoError(t, q.Publish("taskflow.streams", message.NewMessage("s1", []byte(`{}`)), message.NewMessage("s2", []byte(`{}`))))

	parts, err := q.GetPendingCount(ctx, "taskflow.parts")
	require.NoError(t, err)
	streams, err := q.GetPendingCount(ctx, "taskflow.streams")
	require.NoError(t, err)
	assert.Equal(t, int64(1), parts)
	assert.Equal(t, int64(2), streams)
}

func TestNackSchedulesRedeliveryWithBackoff(t *testing.T) {
	q, db := newQueue(t, sqlqueue.Config{MaxRetries: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Subscribe(ctx, "taskflow.chain")
	require.NoError(t, err)
	require.NoError(t, q.Publish("taskflow.chain", message.NewMessage("c1", []byte(`{}`))))

	before := time.Now()
	receive(t, msgs).Nack()

	require.Eventually(t, func() bool {
		var retries int
		var status string
		var availableAt int64
		err := db.QueryRow(`SELECT retry_count, status, available_at FROM queue_messages WHERE uuid = 'c1'`).
			Scan(&retries, &status, &availableAt)
		return err == nil && retries == 1 && status == "pending" &&
			availableAt >= before.Add(time.Second).UnixMilli()
	}, 5*time.Second, 20*time.Millisecond)

	// Not visible again until the backoff elapses.
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected early redelivery of %s", msg.UUID)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestNackBeyondMaxRetriesParksMessage(t *testing.T) {
	q, db := newQueue(t, sqlqueue.Config{MaxRetries: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish("taskflow.chain", message.NewMessage("c2", []byte(`{}`))))
	_, err := db.Exec(`UPDATE queue_messages SET retry_count = 1 WHERE uuid = 'c2'`)
	require.NoError(t, err)

	msgs, err := q.Subscribe(ctx, "taskflow.chain")
	require.NoError(t, err)
	receive(t, msgs).Nack()

	require.Eventually(t, func() bool {
		var status string
		err := db.QueryRow(`SELECT status FROM queue_messages WHERE uuid = 'c2'`).Scan(&status)
		return err == nil && status == "failed"
	}, 5*time.Second, 20*time.Millisecond)

	n, err := q.GetPendingCount(ctx, "taskflow.chain")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompetingSubscribersShareMessages(t *testing.T) {
	q, _ := newQueue(t, sqlqueue.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, q.Publish("taskflow.rpc", message.NewMessage(watermill.NewUUID(), []byte(`{}`))))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 3; w++ {
		msgs, err := q.Subscribe(ctx, "taskflow.rpc")
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				mu.Lock()
				seen[msg.UUID]++
				mu.Unlock()
				msg.Ack()
			}
		}()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == total
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()
	for uuid, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered more than once", uuid)
	}
}

func TestClosedQueueRejectsCalls(t *testing.T) {
	q, _ := newQueue(t, sqlqueue.Config{})
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish("x", message.NewMessage("1", nil)), sqlqueue.ErrClosed)
	_, err := q.Subscribe(context.Background(), "x")
	assert.ErrorIs(t, err, sqlqueue.ErrClosed)
}

func TestNewValidatesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	_, err := sqlite.New(context.Background(), path, sqlqueue.Config{Table: "bad name;"}, nil)
	assert.ErrorContains(t, err, "invalid table name")
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{40, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlqueue.Backoff(tt.retries), "retries=%d", tt.retries)
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", sqlqueue.Rebind("UPDATE t SET a = ? WHERE id = ?"))
	assert.Equal(t, "SELECT 1", sqlqueue.Rebind("SELECT 1"))
}
