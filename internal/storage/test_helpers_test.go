package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-client/internal/logging"
	"github.com/redis/go-redis/v9"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupSQLiteReplica creates a migrated replica in a temp directory
func setupSQLiteReplica(t *testing.T, clock *testClock) *ReplicaStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "replica.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(DialectSQLite, path); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}

	return NewReplicaStore(ReplicaStoreConfig{
		DB:      db,
		Dialect: DialectSQLite,
		Clock:   clock.Now,
		Logger:  logging.NewNopLogger(),
	})
}

// setupTestRedis starts miniredis and returns a wrapped client
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return NewRedisCacheFromClient(client), mr
}
