package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSwarm(t *testing.T, clock *testClock, opts ...func(*Options)) *Conversation {
	t.Helper()
	o := Options{Now: clock.Now}
	for _, fn := range opts {
		fn(&o)
	}
	c := New("acc1", model.SwarmURI("conv1"), model.ParseURI("me"), model.ModeOneToOne, o)
	c.SetMembers([]model.Member{
		{URI: model.ParseURI("me"), Role: model.RoleAdmin},
		{URI: model.ParseURI("peer"), Role: model.RoleMember},
	})
	t.Cleanup(c.Close)
	return c
}

func text(id, parent string) model.Interaction {
	return model.Interaction{
		MessageID: id,
		ParentID:  parent,
		Type:      model.InteractionText,
		Author:    "jami:peer",
		Incoming:  true,
		Body:      "body " + id,
		Status:    model.StatusSuccess,
	}
}

func ids(nodes []model.Interaction) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.MessageID)
	}
	return out
}

func permutations(in []string) [][]string {
	if len(in) <= 1 {
		return [][]string{append([]string(nil), in...)}
	}
	var out [][]string
	for i := range in {
		rest := make([]string, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]string{in[i]}, p...))
		}
	}
	return out
}

func TestLinearization(t *testing.T) {
	t.Run("child before parent before root", func(t *testing.T) {
		c := newSwarm(t, newTestClock())

		require.True(t, c.AddInteraction(text("C", "B"), true))
		last, ok := c.LastEvent()
		require.True(t, ok)
		assert.Equal(t, "C", last.MessageID)

		require.False(t, c.AddInteraction(text("B", "A"), true))
		last, _ = c.LastEvent()
		assert.Equal(t, "C", last.MessageID)

		require.False(t, c.AddInteraction(text("A", ""), true))
		last, _ = c.LastEvent()
		assert.Equal(t, "C", last.MessageID)

		assert.Equal(t, []string{"A", "B", "C"}, ids(c.History()))
		assert.True(t, c.IsLoaded())
	})

	t.Run("every arrival order yields the same history", func(t *testing.T) {
		parents := map[string]string{"A": "", "B": "A", "C": "B", "D": "C"}
		for _, order := range permutations([]string{"A", "B", "C", "D"}) {
			c := newSwarm(t, newTestClock())
			for _, id := range order {
				c.AddInteraction(text(id, parents[id]), true)
			}
			assert.Equal(t, []string{"A", "B", "C", "D"}, ids(c.History()), "order %v", order)
			assert.Empty(t, c.Held(), "order %v", order)
			assert.True(t, c.IsLoaded(), "order %v", order)
		}
	})

	t.Run("node with unknown ancestor is held", func(t *testing.T) {
		clock := newTestClock()
		c := newSwarm(t, clock)
		c.AddInteraction(text("A", ""), true)
		require.False(t, c.AddInteraction(text("X", "missing"), true))

		assert.Equal(t, []string{"A"}, ids(c.History()))
		assert.Equal(t, []string{"X"}, ids(c.Held()))
		assert.False(t, c.IsLoaded())

		assert.Empty(t, c.StaleNodes(5*time.Minute))
		clock.Advance(10 * time.Minute)
		assert.Equal(t, []string{"X"}, ids(c.StaleNodes(5*time.Minute)))
		assert.Empty(t, c.StaleNodes(5*time.Minute), "reported once")

		c.AddInteraction(text("missing", "A"), true)
		assert.Equal(t, []string{"A", "missing", "X"}, ids(c.History()))
		assert.Empty(t, c.Held())
	})

	t.Run("backwards load keeps order", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.SetHistory([]model.Interaction{text("C", "B"), text("B", "A"), text("A", "")})
		assert.Equal(t, []string{"A", "B", "C"}, ids(c.History()))
	})

	t.Run("swarm node without id is ignored", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		assert.False(t, c.AddInteraction(text("", ""), true))
		assert.Empty(t, c.History())
	})
}

func TestRedelivery(t *testing.T) {
	c := newSwarm(t, newTestClock())
	c.AddInteraction(text("A", ""), true)
	c.AddInteraction(text("B", "A"), true)
	require.True(t, c.UpdateStatus("B", "peer", model.StatusDisplayed))
	want := c.History()

	for i := 0; i < 3; i++ {
		require.False(t, c.AddInteraction(text("B", "A"), true))
		require.False(t, c.AddInteraction(text("A", ""), true))
		require.True(t, c.UpdateStatus("B", "peer", model.StatusDisplayed))
	}
	assert.Equal(t, want, c.History())
	assert.Equal(t, "B", c.LastDisplayed("peer"))

	t.Run("redelivery folds in peer status", func(t *testing.T) {
		n := text("A", "")
		n.StatusMap = map[string]model.InteractionStatus{"jami:other": model.StatusSuccess}
		c.AddInteraction(n, true)
		got, ok := c.Message("A")
		require.True(t, ok)
		assert.Equal(t, model.StatusSuccess, got.StatusMap["other"])
		assert.Equal(t, "body A", got.Body)
	})
}

func TestStatusCursors(t *testing.T) {
	chain := []string{"A", "B", "C"}
	rank := map[string]int{"": -1, "A": 0, "B": 1, "C": 2}

	t.Run("displayed cursor never regresses", func(t *testing.T) {
		for _, order := range permutations(chain) {
			c := newSwarm(t, newTestClock())
			c.AddInteraction(text("A", ""), true)
			c.AddInteraction(text("B", "A"), true)
			c.AddInteraction(text("C", "B"), true)
			prev := ""
			for _, id := range order {
				c.UpdateStatus(id, "peer", model.StatusDisplayed)
				cur := c.LastDisplayed("peer")
				assert.GreaterOrEqual(t, rank[cur], rank[prev], "order %v", order)
				prev = cur
			}
			assert.Equal(t, "C", prev)

			node, _ := c.Message("C")
			assert.Equal(t, []string{"peer"}, node.DisplayedContacts)
			for _, id := range []string{"A", "B"} {
				node, _ := c.Message(id)
				assert.Empty(t, node.DisplayedContacts, "order %v node %s", order, id)
			}
		}
	})

	t.Run("sent cursor never regresses", func(t *testing.T) {
		for _, order := range permutations(chain) {
			c := newSwarm(t, newTestClock())
			c.AddInteraction(text("A", ""), true)
			c.AddInteraction(text("B", "A"), true)
			c.AddInteraction(text("C", "B"), true)
			prev := ""
			for _, id := range order {
				c.UpdateStatus(id, "peer", model.StatusSuccess)
				cur := c.LastSent()
				assert.GreaterOrEqual(t, rank[cur], rank[prev], "order %v", order)
				prev = cur
			}
			assert.Equal(t, "C", prev)
		}
	})

	t.Run("displayed by the local user does not move cursors", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("A", ""), true)
		require.True(t, c.UpdateStatus("A", "jami:me", model.StatusDisplayed))
		assert.Empty(t, c.LastDisplayed("me"))
	})

	t.Run("concurrent status and child delivery", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			c := newSwarm(t, newTestClock())
			c.AddInteraction(text("msg1", ""), true)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				c.UpdateStatus("msg1", "peerA", model.StatusDisplayed)
			}()
			go func() {
				defer wg.Done()
				c.AddInteraction(text("msg2", "msg1"), true)
			}()
			wg.Wait()

			assert.Equal(t, "msg1", c.LastDisplayed("peerA"))
			assert.Equal(t, []string{"msg1", "msg2"}, ids(c.History()))
		}
	})

	t.Run("unknown message is ignored", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		assert.False(t, c.UpdateStatus("nope", "peer", model.StatusDisplayed))
	})
}

func TestStatusDowngrade(t *testing.T) {
	outgoing := func(id string) model.Interaction {
		n := text(id, "")
		n.Author = "jami:me"
		n.Incoming = false
		n.Status = model.StatusSending
		return n
	}

	t.Run("disabled", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(outgoing("A"), true)
		c.UpdateStatus("A", "peer", model.StatusSuccess)
		n, _ := c.Message("A")
		assert.Equal(t, model.StatusSuccess, n.Status)
		assert.Equal(t, "A", c.LastSent())
	})

	t.Run("enabled", func(t *testing.T) {
		c := newSwarm(t, newTestClock(), func(o *Options) { o.DowngradeStatusOnUpdate = true })
		c.AddInteraction(outgoing("A"), true)
		c.UpdateStatus("A", "peer", model.StatusSuccess)
		n, _ := c.Message("A")
		assert.Equal(t, model.StatusSending, n.Status)
		assert.Equal(t, "A", c.LastSent())

		c.UpdateStatus("A", "peer", model.StatusDisplayed)
		n, _ = c.Message("A")
		assert.Equal(t, model.StatusSending, n.Status)
		assert.Equal(t, model.StatusDisplayed, n.StatusMap["peer"])
	})
}

func TestCallMarkers(t *testing.T) {
	start := model.Interaction{
		MessageID: "s", ParentID: "root", Type: model.InteractionCall,
		ConfID: "x", Timestamp: 1000, Author: "jami:peer", Incoming: true,
	}
	end := model.Interaction{
		MessageID: "e", ParentID: "s", Type: model.InteractionCall,
		ConfID: "x", Duration: 42000, Timestamp: 43000, Author: "jami:peer", Incoming: true,
	}

	calls := func(c *Conversation) []model.Interaction {
		var out []model.Interaction
		for _, n := range c.History() {
			if n.Type == model.InteractionCall {
				out = append(out, n)
			}
		}
		return out
	}

	startFirst := newSwarm(t, newTestClock())
	startFirst.AddInteraction(text("root", ""), true)
	startFirst.AddInteraction(start, true)
	startFirst.AddInteraction(end, true)

	endFirst := newSwarm(t, newTestClock())
	endFirst.AddInteraction(text("root", ""), true)
	endFirst.AddInteraction(end, true)
	endFirst.AddInteraction(start, true)

	a, b := calls(startFirst), calls(endFirst)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, int64(42000), a[0].Duration)
	assert.Equal(t, a[0].Duration, b[0].Duration)
	assert.Equal(t, a[0].Timestamp, b[0].Timestamp)
	assert.Equal(t, a[0].EndTimestamp, b[0].EndTimestamp)
	assert.Equal(t, int64(43000), b[0].EndTimestamp)
	assert.Equal(t, ids(startFirst.History()), ids(endFirst.History()))

	last, ok := endFirst.LastEvent()
	require.True(t, ok)
	assert.Equal(t, "s", last.MessageID)
}

func TestEditsAndReactions(t *testing.T) {
	edit := func(id, parent, target, body string) model.Interaction {
		n := text(id, parent)
		n.Edit = target
		n.Body = body
		return n
	}

	t.Run("edit after target", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("m1", ""), true)
		c.AddInteraction(edit("e1", "m1", "m1", "fixed"), true)

		n, _ := c.Message("m1")
		assert.Equal(t, "fixed", n.Body)
		require.Len(t, n.Edits, 1)
		last, _ := c.LastEvent()
		assert.Equal(t, "m1", last.MessageID)
	})

	t.Run("edit before target", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(edit("e1", "m1", "m1", "fixed"), true)
		c.AddInteraction(text("m1", ""), true)

		n, _ := c.Message("m1")
		assert.Equal(t, "fixed", n.Body)
		assert.Equal(t, []string{"m1", "e1"}, ids(c.History()))
	})

	t.Run("empty edit deletes", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("m1", ""), true)
		c.AddInteraction(edit("e1", "m1", "m1", ""), true)
		n, _ := c.Message("m1")
		assert.True(t, n.Deleted())
	})

	t.Run("reaction and retraction", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("m1", ""), true)
		r := text("r1", "m1")
		r.ReactTo = "m1"
		r.Body = "+1"
		c.AddInteraction(r, true)

		n, _ := c.Message("m1")
		require.Len(t, n.Reactions, 1)
		assert.Equal(t, "+1", n.Reactions[0].Body)

		c.AddInteraction(edit("e1", "r1", "r1", ""), true)
		n, _ = c.Message("m1")
		assert.Empty(t, n.Reactions)
	})
}

func TestReadState(t *testing.T) {
	t.Run("read newest marks the run read", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("A", ""), true)
		c.AddInteraction(text("B", "A"), true)
		c.AddInteraction(text("C", "B"), true)
		assert.Equal(t, []string{"A", "B", "C"}, ids(c.UnreadTextMessages()))
		assert.Equal(t, 3, c.Summary().Unread)

		read := c.ReadMessages()
		assert.Equal(t, []string{"C"}, ids(read))
		assert.Equal(t, "C", c.LastRead())
		assert.Empty(t, c.UnreadTextMessages())
		assert.Equal(t, 0, c.Summary().Unread)
	})

	t.Run("visible conversation reads new leaves", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.SetVisible(true)
		c.AddInteraction(text("A", ""), true)
		n, _ := c.Message("A")
		assert.True(t, n.Read)
		assert.Equal(t, "A", c.LastRead())
	})

	t.Run("read cursor set before the node arrives", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.SetLastRead("B")
		c.AddInteraction(text("A", ""), true)
		c.AddInteraction(text("B", "A"), true)
		n, _ := c.Message("B")
		assert.True(t, n.Read)
	})
}

func TestOutbox(t *testing.T) {
	c := newSwarm(t, newTestClock())
	c.AddInteraction(text("A", ""), true)

	sent := c.Send("hello")
	assert.Equal(t, model.StatusSending, sent.Status)
	assert.Equal(t, "A", sent.ParentID)
	assert.Equal(t, []string{"A", sent.MessageID}, ids(c.History()))

	t.Run("failure keeps the node", func(t *testing.T) {
		other := c.Send("lost")
		failed, ok := c.MarkSendFailed(other.MessageID)
		require.True(t, ok)
		assert.Equal(t, model.StatusFailure, failed.Status)
		assert.Len(t, c.History(), 3)
	})

	t.Run("echo replaces the optimistic node", func(t *testing.T) {
		echo := text("B", "A")
		echo.Author = "jami:me"
		echo.Incoming = false
		echo.Body = "hello"
		c.AddInteraction(echo, true)

		h := c.History()
		require.Len(t, h, 3)
		assert.Equal(t, "A", h[0].MessageID)
		assert.Equal(t, "B", h[1].MessageID)
		assert.Equal(t, model.StatusFailure, h[2].Status)
	})
}

func TestLoadMessage(t *testing.T) {
	t.Run("known message returns immediately", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("A", ""), true)
		n, err := c.LoadMessage(context.Background(), "A", nil)
		require.NoError(t, err)
		assert.Equal(t, "A", n.MessageID)
	})

	t.Run("waits for arrival", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		requested := make(chan string, 1)
		go func() {
			id := <-requested
			c.AddInteraction(text(id, ""), false)
		}()
		n, err := c.LoadMessage(context.Background(), "A", func(id string) { requested <- id })
		require.NoError(t, err)
		assert.Equal(t, "A", n.MessageID)
	})

	t.Run("close fails waiters", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		requested := make(chan struct{})
		go func() {
			<-requested
			c.Close()
		}()
		_, err := c.LoadMessage(context.Background(), "A", func(string) { close(requested) })
		require.ErrorIs(t, err, ErrConversationClosed)

		_, err = c.LoadMessage(context.Background(), "A", nil)
		require.ErrorIs(t, err, ErrConversationClosed)
	})

	t.Run("context cancel", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := c.LoadMessage(ctx, "A", nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSubscriptions(t *testing.T) {
	c := newSwarm(t, newTestClock())
	elements, cancel := c.SubscribeElements()
	defer cancel()

	c.AddInteraction(text("A", ""), true)
	c.UpdateStatus("A", "peer", model.StatusDisplayed)
	c.RemoveInteraction("A")

	var got []model.ElementAction
	for len(got) < 3 {
		select {
		case ev := <-elements:
			assert.Equal(t, "A", ev.Interaction.MessageID)
			got = append(got, ev.Action)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for history events")
		}
	}
	assert.Equal(t, []model.ElementAction{model.ElementAdd, model.ElementUpdate, model.ElementRemove}, got)

	states, cancelState := c.SubscribeState()
	defer cancelState()
	select {
	case s := <-states:
		assert.Equal(t, model.SwarmURI("conv1"), s.URI)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	c.Close()
	for range elements {
	}
}

func TestConversationState(t *testing.T) {
	t.Run("preferences", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.UpdatePreferences(map[string]string{PreferenceColor: "#ff0000", PreferenceSymbol: "*", PreferenceMuted: "true"})
		s := c.Summary()
		assert.Equal(t, uint32(0xFFFF0000), s.Color)
		assert.Equal(t, "*", s.Symbol)
		assert.True(t, s.Muted)
	})

	t.Run("group and peer", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		assert.False(t, c.IsGroup())
		peer, ok := c.Peer()
		require.True(t, ok)
		assert.Equal(t, "peer", peer.ID)

		c.UpdateMember(model.ParseURI("third"), model.RoleMember)
		assert.True(t, c.IsGroup())
		_, ok = c.Peer()
		assert.False(t, ok)

		role, ok := c.Role(model.ParseURI("me"))
		assert.False(t, ok, "one-to-one swarms have no roles")
		c.SetMode(model.ModeInvitesOnly)
		role, ok = c.Role(model.ParseURI("me"))
		require.True(t, ok)
		assert.Equal(t, model.RoleAdmin, role)
		assert.True(t, c.IsSwarmGroup())
	})

	t.Run("composing", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.SetComposing(model.ParseURI("peer"), model.ComposingActive)
		assert.Equal(t, model.ComposingActive, c.Summary().Composing["jami:peer"])
		c.SetComposing(model.ParseURI("peer"), model.ComposingIdle)
		assert.Empty(t, c.Summary().Composing)
	})

	t.Run("clear history", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.AddInteraction(text("A", ""), true)
		c.ClearHistory(false)
		assert.Empty(t, c.History())
		_, ok := c.LastEvent()
		assert.False(t, ok)
	})

	t.Run("transfer status", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		n := text("A", "")
		n.Type = model.InteractionDataTransfer
		n.TransferID = "t1"
		n.Status = model.StatusTransferCreated
		c.AddInteraction(n, true)
		require.True(t, c.UpdateTransfer("t1", model.StatusTransferFinished))
		got, _ := c.Message("A")
		assert.Equal(t, model.StatusTransferFinished, got.Status)
		assert.False(t, c.UpdateTransfer("t2", model.StatusTransferFinished))
	})
}

func TestLegacyRedelivery(t *testing.T) {
	c := New("acc1", model.ParseURI("jami:peer"), model.ParseURI("me"), model.ModeOneToOne, Options{Now: newTestClock().Now})
	defer c.Close()

	n := model.Interaction{Type: model.InteractionText, Timestamp: 1000, Author: "jami:peer", Body: "hi", Incoming: true}
	first, added := c.Receive(n, true)
	require.True(t, added)
	require.Equal(t, int64(1), first.ID)

	again, added := c.Receive(n, true)
	assert.False(t, added)
	assert.Equal(t, first.ID, again.ID)
	require.Len(t, c.History(), 1)

	t.Run("status carried by a redelivery is applied", func(t *testing.T) {
		n.Status = model.StatusDisplayed
		held, added := c.Receive(n, true)
		assert.False(t, added)
		assert.Equal(t, model.StatusDisplayed, held.Status)
		require.Len(t, c.History(), 1)
	})

	t.Run("stored node matches an id-less redelivery", func(t *testing.T) {
		seeded := New("acc1", model.ParseURI("jami:peer"), model.ParseURI("me"), model.ModeOneToOne, Options{Now: newTestClock().Now})
		defer seeded.Close()
		seeded.SetHistory([]model.Interaction{first})
		held, added := seeded.Receive(model.Interaction{Type: model.InteractionText, Timestamp: 1000, Author: "jami:peer", Body: "hi"}, true)
		assert.False(t, added)
		assert.Equal(t, first.ID, held.ID)
		next, added := seeded.Receive(model.Interaction{Type: model.InteractionText, Timestamp: 2000, Author: "jami:peer"}, true)
		assert.True(t, added)
		assert.Equal(t, int64(2), next.ID)
	})

	t.Run("removed node can arrive again", func(t *testing.T) {
		require.True(t, c.RemoveInteraction("1"))
		_, added := c.Receive(model.Interaction{Type: model.InteractionText, Timestamp: 1000, Author: "jami:peer"}, true)
		assert.True(t, added)
	})
}

func TestLegacyTimeline(t *testing.T) {
	clock := newTestClock()
	c := New("acc1", model.ParseURI("jami:peer"), model.ParseURI("me"), model.ModeOneToOne, Options{Now: clock.Now})
	defer c.Close()

	assert.False(t, c.IsSwarm())
	assert.Equal(t, model.ModeLegacy, c.Mode())

	for _, ts := range []int64{300, 100, 200} {
		c.AddInteraction(model.Interaction{Type: model.InteractionText, Timestamp: ts, Author: "jami:peer", Incoming: true}, true)
	}
	h := c.History()
	require.Len(t, h, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{h[0].Timestamp, h[1].Timestamp, h[2].Timestamp})
	assert.Equal(t, []int64{2, 3, 1}, []int64{h[0].ID, h[1].ID, h[2].ID})

	require.True(t, c.UpdateStatus("3", "peer", model.StatusDisplayed))
	require.True(t, c.UpdateStatus("2", "peer", model.StatusDisplayed))
	assert.Equal(t, "3", c.LastDisplayed("peer"))
	assert.False(t, c.UpdateStatus("99", "peer", model.StatusDisplayed))

	assert.Len(t, c.ReadMessages(), 3)
	assert.Empty(t, c.UnreadTextMessages())

	c.ClearHistory(false)
	h = c.History()
	require.Len(t, h, 1)
	assert.Equal(t, model.InteractionContact, h[0].Type)

	c.ClearHistory(true)
	assert.Empty(t, c.History())
}
