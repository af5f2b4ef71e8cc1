package testpg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgres runs a throwaway PostgreSQL holding an empty swarm_sync
// database and returns its DSN once a connection succeeds.
func StartPostgres(tb *testing.T) string {
	tb.Helper()
	testutil.RequireDocker(tb)

	ctx := context.Background()
	c, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("swarm_sync"),
		postgres.WithUsername("swarm"),
		postgres.WithPassword("swarm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if c != nil {
		testutil.Track(tb, "postgres", c)
	}
	if err != nil {
		tb.Fatalf("start postgres: %v", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres dsn: %v", err)
	}
	if err := ping(ctx, dsn, 20*time.Second); err != nil {
		tb.Fatalf("postgres not accepting connections: %v", err)
	}
	return dsn
}

// ping retries a pgx connection until it succeeds or within elapses.
func ping(ctx context.Context, dsn string, within time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	err := errors.New("no attempt made")
	for {
		var conn *pgx.Conn
		if conn, err = pgx.Connect(ctx, dsn); err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-ticker.C:
		}
	}
}
