package account

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	me  = model.ParseURI("jami:me")
	bob = model.ParseURI("jami:bob")
)

func newAccount(t *testing.T) *Account {
	t.Helper()
	a := New("acc1", me, conversation.Options{})
	t.Cleanup(a.Close)
	return a
}

func oneToOne(a *Account, id string, peer model.URI) *conversation.Conversation {
	c := a.NewSwarm(id, model.ModeOneToOne)
	c.SetMembers([]model.Member{{URI: me, Role: model.RoleAdmin}, {URI: peer, Role: model.RoleMember}})
	return c
}

func requireDisjoint(t *testing.T, a *Account) {
	t.Helper()
	active, pending := a.Keys()
	seen := map[string]bool{}
	for _, k := range active {
		seen[k] = true
	}
	for _, k := range pending {
		require.False(t, seen[k], "%s is both active and pending", k)
	}
}

func TestRequests(t *testing.T) {
	t.Run("accepted request is promoted once", func(t *testing.T) {
		a := newAccount(t)
		x := model.SwarmURI("x")
		c, added := a.AddRequest(model.TrustRequest{From: bob, ConversationURI: x})
		require.True(t, added)
		assert.Equal(t, model.ModeRequest, c.Mode())

		active, pending := a.Keys()
		assert.Empty(t, active)
		assert.Equal(t, []string{"swarm:x"}, pending)

		a.ContactAdded(model.Contact{URI: bob})
		active, pending = a.Keys()
		assert.Equal(t, []string{"swarm:x"}, active)
		assert.Empty(t, pending)

		got, ok := a.GetByURI(x)
		require.True(t, ok)
		assert.Same(t, c, got)
		assert.Nil(t, c.Request())
		assert.Equal(t, model.ModeSyncing, c.Mode())

		ct, ok := a.Contact(bob)
		require.True(t, ok)
		assert.Equal(t, model.ContactConfirmed, ct.Status)
		assert.Equal(t, x, ct.ConversationURI)

		a.ContactAdded(model.Contact{URI: bob})
		active, pending = a.Keys()
		assert.Equal(t, []string{"swarm:x"}, active)
		assert.Empty(t, pending)
	})

	t.Run("request for an active conversation is ignored", func(t *testing.T) {
		a := newAccount(t)
		c := oneToOne(a, "x", bob)
		a.ConversationStarted(c)
		got, added := a.AddRequest(model.TrustRequest{From: bob, ConversationURI: c.URI()})
		assert.False(t, added)
		assert.Same(t, c, got)
		requireDisjoint(t, a)
		_, pending := a.Keys()
		assert.Empty(t, pending)
	})

	t.Run("repeated request updates the pending entry", func(t *testing.T) {
		a := newAccount(t)
		first, added := a.AddRequest(model.TrustRequest{From: bob, Timestamp: 1})
		require.True(t, added)
		second, added := a.AddRequest(model.TrustRequest{From: bob, Timestamp: 2})
		assert.False(t, added)
		assert.Same(t, first, second)
		assert.Equal(t, int64(2), second.Request().Timestamp)
	})

	t.Run("rejected request restores the contact pointer", func(t *testing.T) {
		a := newAccount(t)
		x := model.SwarmURI("x")
		a.AddRequest(model.TrustRequest{From: bob, ConversationURI: x})
		require.True(t, a.RemoveRequest(x))
		assert.False(t, a.RemoveRequest(x))

		ct, _ := a.Contact(bob)
		assert.Equal(t, bob, ct.ConversationURI)
		_, ok := a.GetByURI(x)
		assert.False(t, ok)
	})

	t.Run("rejection leaves a newer pointer alone", func(t *testing.T) {
		a := newAccount(t)
		x, y := model.SwarmURI("x"), model.SwarmURI("y")
		a.AddRequest(model.TrustRequest{From: bob, ConversationURI: x})
		a.AddRequest(model.TrustRequest{From: bob, ConversationURI: y})
		require.True(t, a.RemoveRequest(x))
		ct, _ := a.Contact(bob)
		assert.Equal(t, y, ct.ConversationURI)
	})

	t.Run("legacy request becomes a legacy conversation", func(t *testing.T) {
		a := newAccount(t)
		c, _ := a.AddRequest(model.TrustRequest{From: bob})
		assert.Equal(t, model.ModeRequest, c.Mode())
		a.ContactAdded(model.Contact{URI: bob})

		active, pending := a.Keys()
		assert.Equal(t, []string{"jami:bob"}, active)
		assert.Empty(t, pending)
		assert.Equal(t, model.ModeLegacy, c.Mode())
		h := c.History()
		require.Len(t, h, 1)
		assert.Equal(t, model.InteractionContact, h[0].Type)
	})
}

func TestPromotionOverActiveConversation(t *testing.T) {
	a := newAccount(t)
	x := model.SwarmURI("x")
	stale, added := a.AddRequest(model.TrustRequest{From: bob, ConversationURI: x})
	require.True(t, added)

	active := a.newConversation(x, model.ModeSyncing)
	a.mu.Lock()
	a.conversations[x.String()] = active
	a.mu.Unlock()

	requested := make(chan struct{})
	loaded := make(chan error, 1)
	go func() {
		_, err := stale.LoadMessage(context.Background(), "m1", func(string) { close(requested) })
		loaded <- err
	}()
	<-requested

	a.ContactAdded(model.Contact{URI: bob})

	select {
	case err := <-loaded:
		require.ErrorIs(t, err, conversation.ErrConversationClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("load on the dropped conversation never failed")
	}
	got, ok := a.GetByURI(x)
	require.True(t, ok)
	assert.Same(t, active, got)
	got, ok = a.GetSwarm("x")
	require.True(t, ok)
	assert.Same(t, active, got)
	requireDisjoint(t, a)
}

func TestMapsStayDisjoint(t *testing.T) {
	peers := []model.URI{model.ParseURI("jami:a"), model.ParseURI("jami:b"), model.ParseURI("jami:c")}
	swarms := []string{"x", "y", "z"}

	for seed := int64(1); seed <= 20; seed++ {
		a := newAccount(t)
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(r *rand.Rand) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					peer := peers[r.Intn(len(peers))]
					id := swarms[r.Intn(len(swarms))]
					switch r.Intn(5) {
					case 0:
						a.AddRequest(model.TrustRequest{From: peer, ConversationURI: model.SwarmURI(id)})
					case 1:
						a.AddRequest(model.TrustRequest{From: peer})
					case 2:
						if r.Intn(2) == 0 {
							a.RemoveRequest(model.SwarmURI(id))
						} else {
							a.RemoveRequest(peer)
						}
					case 3:
						a.ContactAdded(model.Contact{URI: peer})
					case 4:
						a.ConversationStarted(oneToOne(a, id, peer))
					}
					requireDisjointOrReport(t, a)
				}
			}(rand.New(rand.NewSource(seed*31 + int64(w))))
		}
		wg.Wait()
		requireDisjoint(t, a)
	}
}

func requireDisjointOrReport(t *testing.T, a *Account) {
	active, pending := a.Keys()
	seen := map[string]bool{}
	for _, k := range active {
		seen[k] = true
	}
	for _, k := range pending {
		if seen[k] {
			t.Errorf("%s is both active and pending", k)
		}
	}
}

func TestSwarmReplacesLegacy(t *testing.T) {
	a := newAccount(t)
	a.ContactAdded(model.Contact{URI: bob})
	legacy := a.ConversationForPeer(bob)
	require.False(t, legacy.IsSwarm())

	legacy.CallStateChanged("c1", model.CallCurrent, model.CallDetails{PeerURI: bob.String()})
	a.RouteCall("c1", legacy)

	s := oneToOne(a, "s1", bob)
	a.ConversationStarted(s)

	active, _ := a.Keys()
	assert.Equal(t, []string{"swarm:s1"}, active)
	assert.Same(t, s, a.ConversationForPeer(bob))
	ct, _ := a.Contact(bob)
	assert.Equal(t, s.URI(), ct.ConversationURI)

	assert.True(t, s.HasCall("c1"))
	owner, ok := a.ConversationForCall("c1")
	require.True(t, ok)
	assert.Same(t, s, owner)

	got, ok := a.GetSwarm("s1")
	require.True(t, ok)
	assert.Same(t, s, got)

	require.True(t, a.RemoveSwarm("s1"))
	assert.False(t, a.RemoveSwarm("s1"))
	ct, _ = a.Contact(bob)
	assert.Equal(t, bob, ct.ConversationURI)
	_, ok = a.ConversationForCall("c1")
	assert.False(t, ok)
	assert.False(t, a.ConversationForPeer(bob).IsSwarm())
}

func TestContactRemoval(t *testing.T) {
	t.Run("banned contact stays cached", func(t *testing.T) {
		a := newAccount(t)
		a.ContactAdded(model.Contact{URI: bob})
		s := oneToOne(a, "s1", bob)
		a.ConversationStarted(s)

		a.ContactRemoved(bob, true)
		ct, ok := a.Contact(bob)
		require.True(t, ok)
		assert.True(t, ct.IsBanned())

		assert.Empty(t, a.Snapshot(false).Conversations)
		assert.Len(t, a.Snapshot(true).Conversations, 1)
	})

	t.Run("removed contact is forgotten", func(t *testing.T) {
		a := newAccount(t)
		a.ContactAdded(model.Contact{URI: bob})
		a.ContactRemoved(bob, false)
		_, ok := a.Contact(bob)
		assert.False(t, ok)
		active, _ := a.Keys()
		assert.Empty(t, active)
		assert.Empty(t, a.Contacts())
	})

	t.Run("pending requests from the peer are dropped", func(t *testing.T) {
		a := newAccount(t)
		a.AddRequest(model.TrustRequest{From: bob, ConversationURI: model.SwarmURI("x")})
		a.ContactRemoved(bob, true)
		_, pending := a.Keys()
		assert.Empty(t, pending)
	})
}

func TestSnapshot(t *testing.T) {
	a := newAccount(t)
	states, cancel := a.SubscribeState()
	defer cancel()

	for i, id := range []string{"old", "new"} {
		c := a.NewSwarm(id, model.ModeInvitesOnly)
		c.AddInteraction(model.Interaction{
			MessageID: fmt.Sprintf("m%d", i),
			Type:      model.InteractionText,
			Timestamp: int64(100 * (i + 1)),
			Author:    "jami:bob",
		}, true)
		a.ConversationStarted(c)
	}
	a.SetReady(true)

	s := a.Snapshot(false)
	assert.True(t, s.Ready)
	require.Len(t, s.Conversations, 2)
	assert.Equal(t, "swarm:new", s.Conversations[0].URI.String())
	assert.Equal(t, "swarm:old", s.Conversations[1].URI.String())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-states:
			if got.Ready && len(got.Conversations) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("no ready snapshot published")
		}
	}
}
