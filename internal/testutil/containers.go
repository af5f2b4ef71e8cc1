// Package testutil holds helpers shared by the container-backed store and
// cache tests.
package testutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips tb when no container runtime answers.
func RequireDocker(tb *testing.T) {
	tb.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(tb)
}

// Track terminates c when tb finishes. A nil c is ignored.
func Track(tb *testing.T, name string, c testcontainers.Container) {
	tb.Helper()
	if c == nil {
		return
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			tb.Errorf("terminate %s container: %v", name, err)
		}
	})
}

// HostPort returns the host side address of a container port such as "6379/tcp".
func HostPort(tb *testing.T, c testcontainers.Container, port string) string {
	tb.Helper()
	ctx := context.Background()
	host, err := c.Host(ctx)
	if err != nil {
		tb.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		tb.Fatalf("container port %s: %v", port, err)
	}
	return net.JoinHostPort(host, mapped.Port())
}
