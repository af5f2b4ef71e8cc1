package conversation

import (
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var incoming = model.CallDetails{Account: "acc1", PeerURI: "jami:peer", Direction: model.DirectionIncoming}

func callNodes(c *Conversation) []model.Interaction {
	var out []model.Interaction
	for _, n := range c.History() {
		if n.Type == model.InteractionCall {
			out = append(out, n)
		}
	}
	return out
}

func TestSimpleCall(t *testing.T) {
	t.Run("answered call is committed with its duration", func(t *testing.T) {
		clock := newTestClock()
		c := newSwarm(t, clock)

		require.True(t, c.CallStateChanged("c1", model.CallRinging, incoming))
		confs := c.Conferences()
		require.Len(t, confs, 1)
		assert.Equal(t, "c1", confs[0].ID)
		assert.True(t, confs[0].IsSimpleCall())
		assert.Equal(t, model.CallRinging, confs[0].Status)
		assert.Empty(t, confs[0].Legs[0].ConfID)

		clock.Advance(5 * time.Second)
		require.True(t, c.CallStateChanged("c1", model.CallCurrent, incoming))
		assert.Equal(t, model.CallCurrent, c.Conferences()[0].Status)

		clock.Advance(42 * time.Second)
		require.True(t, c.CallStateChanged("c1", model.CallHungUp, incoming))
		assert.Empty(t, c.Conferences())
		assert.False(t, c.HasCall("c1"))

		calls := callNodes(c)
		require.Len(t, calls, 1)
		assert.Equal(t, int64(42000), calls[0].Duration)
		assert.Equal(t, "jami:peer", calls[0].Author)
		assert.True(t, calls[0].Incoming)
		assert.Equal(t, calls[0].Timestamp+47000, calls[0].EndTimestamp)
	})

	t.Run("missed call has no duration", func(t *testing.T) {
		clock := newTestClock()
		c := newSwarm(t, clock)
		c.CallStateChanged("c1", model.CallRinging, incoming)
		clock.Advance(10 * time.Second)
		c.CallStateChanged("c1", model.CallHungUp, incoming)

		calls := callNodes(c)
		require.Len(t, calls, 1)
		assert.Zero(t, calls[0].Duration)
	})

	t.Run("outgoing call is authored locally", func(t *testing.T) {
		clock := newTestClock()
		c := newSwarm(t, clock)
		out := incoming
		out.Direction = model.DirectionOutgoing
		c.CallStateChanged("c1", model.CallConnecting, out)
		c.CallStateChanged("c1", model.CallCurrent, out)
		clock.Advance(time.Second)
		c.CallStateChanged("c1", model.CallOver, out)

		calls := callNodes(c)
		require.Len(t, calls, 1)
		assert.Equal(t, "jami:me", calls[0].Author)
		assert.False(t, calls[0].Incoming)
	})

	t.Run("call appends after existing history", func(t *testing.T) {
		clock := newTestClock()
		c := newSwarm(t, clock)
		c.AddInteraction(text("A", ""), true)
		c.CallStateChanged("c1", model.CallCurrent, incoming)
		clock.Advance(3 * time.Second)
		c.CallStateChanged("c1", model.CallHungUp, incoming)

		h := c.History()
		require.Len(t, h, 3)
		assert.Equal(t, "A", h[0].MessageID)
		assert.Equal(t, model.InteractionCall, h[1].Type)
		assert.Equal(t, "A", h[1].ParentID)
		last, _ := c.LastEvent()
		assert.Equal(t, h[1].MessageID, last.MessageID)
	})

	t.Run("terminal state for unknown call is ignored", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		assert.False(t, c.CallStateChanged("ghost", model.CallHungUp, incoming))
		assert.Empty(t, c.Conferences())
		assert.Empty(t, c.History())
	})

	t.Run("legacy history records calls in time order", func(t *testing.T) {
		clock := newTestClock()
		c := New("acc1", model.ParseURI("jami:peer"), model.ParseURI("me"), model.ModeOneToOne, Options{Now: clock.Now})
		defer c.Close()
		c.CallStateChanged("c1", model.CallCurrent, incoming)
		clock.Advance(2 * time.Second)
		c.CallStateChanged("c1", model.CallHungUp, incoming)

		calls := callNodes(c)
		require.Len(t, calls, 1)
		assert.Equal(t, int64(2000), calls[0].Duration)
	})
}

func TestConference(t *testing.T) {
	t.Run("pending join attaches on first state", func(t *testing.T) {
		clock := newTestClock()
		c := newSwarm(t, clock)
		c.CallStateChanged("c1", model.CallCurrent, incoming)

		require.True(t, c.ConferenceCreated("conf", []string{"c1", "c2"}))
		confs := c.Conferences()
		require.Len(t, confs, 1)
		assert.Equal(t, "conf", confs[0].ID)
		assert.Equal(t, []string{"c2"}, confs[0].PendingJoin)
		require.Len(t, confs[0].Legs, 1)
		assert.Equal(t, "conf", confs[0].Legs[0].ConfID)

		c.CallStateChanged("c2", model.CallConnecting, model.CallDetails{PeerURI: "jami:third"})
		confs = c.Conferences()
		require.Len(t, confs, 1)
		assert.Len(t, confs[0].Legs, 2)
		assert.Empty(t, confs[0].PendingJoin)

		clock.Advance(30 * time.Second)
		c.CallStateChanged("c1", model.CallHungUp, incoming)
		assert.Empty(t, callNodes(c), "conference still has a leg")
		c.CallStateChanged("c2", model.CallHungUp, incoming)
		assert.Empty(t, c.Conferences())

		calls := callNodes(c)
		require.Len(t, calls, 1)
		assert.Equal(t, int64(30000), calls[0].Duration)
	})

	t.Run("conference reduced to one leg becomes a simple call", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.CallStateChanged("c1", model.CallCurrent, incoming)
		c.CallStateChanged("c2", model.CallCurrent, model.CallDetails{PeerURI: "jami:third"})
		c.ConferenceCreated("conf", []string{"c1", "c2"})
		require.Len(t, c.Conferences(), 1)

		c.CallStateChanged("c2", model.CallHungUp, incoming)
		require.True(t, c.ConferenceChanged("conf", []string{"c1"}, "ACTIVE_ATTACHED"))

		confs := c.Conferences()
		require.Len(t, confs, 1)
		assert.Equal(t, "c1", confs[0].ID)
		require.Len(t, confs[0].Legs, 1)
		assert.Equal(t, "c1", confs[0].Legs[0].ID)
		assert.Empty(t, confs[0].Legs[0].ConfID)
		assert.Empty(t, callNodes(c))
	})

	t.Run("legs missing from a change split off", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		for _, id := range []string{"c1", "c2", "c3"} {
			c.CallStateChanged(id, model.CallCurrent, incoming)
		}
		c.ConferenceCreated("conf", []string{"c1", "c2", "c3"})
		c.ConferenceChanged("conf", []string{"c1", "c2"}, "")

		byID := map[string]int{}
		for _, conf := range c.Conferences() {
			byID[conf.ID] = len(conf.Legs)
		}
		assert.Equal(t, map[string]int{"conf": 2, "c3": 1}, byID)
	})

	t.Run("removal detaches every leg", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.CallStateChanged("c1", model.CallCurrent, incoming)
		c.CallStateChanged("c2", model.CallCurrent, incoming)
		c.ConferenceCreated("conf", []string{"c1", "c2"})
		require.True(t, c.ConferenceRemoved("conf"))

		var got []string
		for _, conf := range c.Conferences() {
			got = append(got, conf.ID)
		}
		assert.ElementsMatch(t, []string{"c1", "c2"}, got)
	})

	t.Run("unknown conference is ignored", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		assert.False(t, c.ConferenceChanged("nope", []string{"c1"}, ""))
		assert.False(t, c.ConferenceRemoved("nope"))
		assert.False(t, c.ConferenceInfoUpdated("nope", nil))
	})

	t.Run("participant info and recording", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.CallStateChanged("c1", model.CallCurrent, incoming)
		require.True(t, c.ConferenceInfoUpdated("c1", []model.ParticipantInfo{
			{URI: "jami:peer"},
			{URI: "jami:me", IsModerator: true},
		}))
		require.True(t, c.RemoteRecordingChanged("c1", model.ParseURI("peer"), true))
		assert.False(t, c.RemoteRecordingChanged("c1", model.ParseURI("peer"), true))

		conf := c.Conferences()[0]
		assert.True(t, conf.IsModerator)
		assert.Len(t, conf.Info, 2)
		assert.Equal(t, []string{"jami:peer"}, conf.Recording)
	})

	t.Run("media state", func(t *testing.T) {
		c := newSwarm(t, newTestClock())
		c.CallStateChanged("c1", model.CallCurrent, incoming)
		require.True(t, c.MediaChanged("c1", []model.Media{
			{Kind: model.MediaAudio, Enabled: true, Muted: true},
			{Kind: model.MediaVideo, Enabled: true},
		}))
		leg := c.Conferences()[0].Legs[0]
		assert.True(t, leg.AudioMuted())
		assert.False(t, leg.VideoMuted())
		assert.False(t, c.MediaChanged("ghost", nil))
	})
}

func TestCallHandOff(t *testing.T) {
	clock := newTestClock()
	from := newSwarm(t, clock)
	to := New("acc1", model.SwarmURI("conv2"), model.ParseURI("me"), model.ModeInvitesOnly, Options{Now: clock.Now})
	defer to.Close()

	from.CallStateChanged("c1", model.CallCurrent, incoming)
	leg, ok := from.ReleaseCall("c1")
	require.True(t, ok)
	assert.False(t, from.HasCall("c1"))
	assert.Empty(t, from.Conferences())

	to.AdoptCall(leg)
	require.True(t, to.HasCall("c1"))

	clock.Advance(4 * time.Second)
	to.CallStateChanged("c1", model.CallHungUp, incoming)
	assert.Empty(t, callNodes(from))
	calls := callNodes(to)
	require.Len(t, calls, 1)

	_, ok = from.ReleaseCall("c1")
	assert.False(t, ok)
}
