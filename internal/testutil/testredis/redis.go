package testredis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/testutil"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const port = "6379/tcp"

// StartRedis runs a throwaway Redis and returns its redis:// URL. Both the
// history cache and the command sink tests connect through that URL.
func StartRedis(tb *testing.T) string {
	tb.Helper()
	testutil.RequireDocker(tb)

	c, err := testcontainers.GenericContainer(context.Background(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{port},
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	testutil.Track(tb, "redis", c)
	if err != nil {
		tb.Fatalf("start redis: %v", err)
	}
	return "redis://" + testutil.HostPort(tb, c, port) + "/0"
}
