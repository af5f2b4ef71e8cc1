package memory_test

import (
	"testing"

	"github.com/chirino/swarm-sync/internal/plugin/store/memory"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/chirino/swarm-sync/internal/testutil/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) registrystore.HistoryStore {
		return memory.New()
	})
}
