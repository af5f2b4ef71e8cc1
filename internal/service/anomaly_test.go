package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func node(id, parent string) model.Interaction {
	return model.Interaction{
		MessageID: id,
		ParentID:  parent,
		Type:      model.InteractionText,
		Author:    "jami:bob",
		Incoming:  true,
		Status:    model.StatusSuccess,
	}
}

func TestAnomalyScan(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	cfg := config.DefaultConfig()
	cfg.Accounts = map[string]string{"acc": "jami:me"}
	eng := engine.New(&cfg, nil, nil, nil, engine.WithClock(clk.Now))
	t.Cleanup(func() { _ = eng.Close() })

	x := model.SwarmURI("x")
	require.NoError(t, eng.ConversationReady(ctx, "acc", "x", model.ModeInvitesOnly, nil))
	require.NoError(t, eng.InteractionReceived(ctx, "acc", x, node("A", ""), true))
	require.NoError(t, eng.InteractionReceived(ctx, "acc", x, node("X", "missing"), true))

	svc := NewAnomalyService(eng, time.Second, 5*time.Minute)
	assert.Equal(t, 0, svc.scan(ctx))

	clk.Advance(10 * time.Minute)
	assert.Equal(t, 1, svc.scan(ctx))
	assert.Equal(t, 0, svc.scan(ctx), "reported once")
}

func TestAnomalyStartStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewAnomalyService(engine.New(nil, nil, nil, nil), 10*time.Millisecond, time.Minute)
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
