//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/drblury/taskflow/internal/runtime/ids"
)

// startContainer runs image and returns host:port for port. Tests are
// skipped when Docker is unavailable.
func startContainer(t *testing.T, image, port string, env map[string]string, waitFor wait.Strategy) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := testcontainers.Run(ctx, image,
		testcontainers.WithExposedPorts(port),
		testcontainers.WithEnv(env),
		testcontainers.WithWaitStrategy(waitFor),
	)
	if err != nil {
		t.Skipf("skipping %s tests: %v", image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "localhost" || host == "::1" {
		host = "127.0.0.1"
	}
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestPostgresStore(t *testing.T) {
	addr := startContainer(t, "postgres:16-alpine", "5432/tcp",
		map[string]string{"POSTGRES_PASSWORD": "taskflow", "POSTGRES_DB": "taskflow"},
		wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(2*time.Minute),
	)
	dsn := fmt.Sprintf("postgres://postgres:taskflow@%s/taskflow?sslmode=disable", addr)

	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		s, err := Open(context.Background(), Options{Driver: DriverPostgres, DSN: dsn})
		require.NoError(t, err)
		pg := s.(*Postgres)
		_, err = pg.pool.Exec(context.Background(), `TRUNCATE tasks, message_log RESTART IDENTITY`)
		require.NoError(t, err)
		return s
	}})
}

func TestRedisStore(t *testing.T) {
	addr := startContainer(t, "redis:7-alpine", "6379/tcp", nil,
		wait.ForListeningPort("6379/tcp").WithStartupTimeout(time.Minute))

	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		s, err := Open(context.Background(), Options{
			Driver: DriverRedis,
			DSN:    "redis://" + addr,
			Prefix: "taskflow:test:" + ids.CreateULID() + ":",
		})
		require.NoError(t, err)
		return s
	}})
}

func TestMongoStore(t *testing.T) {
	addr := startContainer(t, "mongo:7", "27017/tcp", nil,
		wait.ForListeningPort("27017/tcp").WithStartupTimeout(2*time.Minute))

	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		s, err := Open(context.Background(), Options{
			Driver:   DriverMongo,
			DSN:      "mongodb://" + addr,
			Database: "taskflow_" + ids.CreateULID(),
		})
		require.NoError(t, err)
		return s
	}})
}
