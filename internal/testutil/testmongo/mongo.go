package testmongo

import (
	"context"
	"testing"

	"github.com/chirino/swarm-sync/internal/testutil"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// StartMongo runs a throwaway MongoDB and returns a connection URI whose path
// names the swarm_sync database.
func StartMongo(tb *testing.T) string {
	tb.Helper()
	testutil.RequireDocker(tb)

	ctx := context.Background()
	c, err := mongodb.Run(ctx, "mongo:7")
	if c != nil {
		testutil.Track(tb, "mongodb", c)
	}
	if err != nil {
		tb.Fatalf("start mongodb: %v", err)
	}
	return "mongodb://" + testutil.HostPort(tb, c, "27017/tcp") + "/swarm_sync"
}
