package feed

import (
	"context"
	"strings"
	"testing"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		events, err := Decode(strings.NewReader(`{"type":"statusUpdate","account":"a","conversation":"swarm:x","messageId":"m1","peer":"jami:bob","status":"3"}`), nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, TypeStatusUpdate, events[0].Type)
		assert.Equal(t, model.SwarmURI("x"), events[0].Conversation)
		assert.Equal(t, "3", events[0].Status)
	})

	t.Run("array", func(t *testing.T) {
		events, err := Decode(strings.NewReader(` [{"type":"accountReady"},{"type":"visibility","visible":true}] `), nil)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[1].Visible)
	})

	t.Run("json lines", func(t *testing.T) {
		in := "{\"type\":\"accountReady\"}\n{\"type\":\"composing\",\"status\":\"1\"}\n\n"
		events, err := Decode(strings.NewReader(in), nil)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, TypeComposing, events[1].Type)
	})

	t.Run("interaction payload", func(t *testing.T) {
		events, err := Decode(strings.NewReader(`{"type":"interaction","conversation":"swarm:x","newMessage":true,
			"interaction":{"messageId":"m1","type":"TEXT","timestamp":1700000000000,"body":"hi"}}`), nil)
		require.NoError(t, err)
		require.NotNil(t, events[0].Interaction)
		assert.Equal(t, model.InteractionText, events[0].Interaction.Type)
		assert.Equal(t, int64(1700000000000), events[0].Interaction.Timestamp)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Decode(strings.NewReader(`{"type":`), nil)
		require.Error(t, err)

		_, err = Decode(strings.NewReader(`42`), nil)
		var invalid *InvalidEventError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestFilter(t *testing.T) {
	filter, err := CompileFilter(`.batch[] | {type: .kind, account: "a", conversation: .conv, visible: true}`)
	require.NoError(t, err)

	events, err := Decode(strings.NewReader(`{"batch":[{"kind":"visibility","conv":"swarm:x"},{"kind":"visibility","conv":"swarm:y"}]}`), filter)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.SwarmURI("y"), events[1].Conversation)
	assert.Equal(t, "a", events[1].Account)

	t.Run("array output is flattened", func(t *testing.T) {
		filter, err := CompileFilter(`.events`)
		require.NoError(t, err)
		events, err := Decode(strings.NewReader(`{"events":[{"type":"accountReady"},{"type":"accountReady"}]}`), filter)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("empty expression", func(t *testing.T) {
		filter, err := CompileFilter("  ")
		require.NoError(t, err)
		assert.Nil(t, filter)
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := CompileFilter(`.[`)
		require.Error(t, err)
	})

	t.Run("runtime error", func(t *testing.T) {
		filter, err := CompileFilter(`error("boom")`)
		require.NoError(t, err)
		_, err = Decode(strings.NewReader(`{}`), filter)
		require.Error(t, err)
	})
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	e := engine.New(&cfg, nil, nil, nil)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	feed := `
{"type":"accountReady","user":"jami:me","ready":true}
{"type":"conversationReady","conversationId":"x","mode":"ONE_TO_ONE","members":[{"uri":"jami:me","role":"admin"},{"uri":"jami:bob","role":"member"}]}
{"type":"interaction","conversation":"swarm:x","newMessage":true,"interaction":{"messageId":"m1","type":"TEXT","author":"jami:bob","incoming":true,"body":"hi"}}
{"type":"interaction","conversation":"swarm:x","newMessage":true,"interaction":{"messageId":"m2","parentId":"m1","type":"TEXT","author":"jami:bob","incoming":true,"body":"there"}}
{"type":"somethingNew"}
{"type":"statusUpdate","conversation":"swarm:x","messageId":"m2","peer":"jami:bob","status":"DISPLAYED"}
`
	events, err := Decode(strings.NewReader(feed), nil)
	require.NoError(t, err)
	require.Len(t, events, 6)

	e := newEngine(t)
	applied, err := Dispatch(ctx, e, "acc", events)
	require.NoError(t, err)
	assert.Equal(t, 5, applied)

	snap, err := e.Snapshot("acc", false)
	require.NoError(t, err)
	assert.True(t, snap.Ready)
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, model.ModeOneToOne, snap.Conversations[0].Mode)

	history, err := e.History(ctx, "acc", model.SwarmURI("x"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].MessageID)
	assert.Equal(t, "m2", history[1].MessageID)

	t.Run("account mismatch", func(t *testing.T) {
		applied, err := Dispatch(ctx, e, "acc", []Event{{Type: TypeAccountReady, Account: "other"}})
		var invalid *InvalidEventError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, 0, applied)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := Dispatch(ctx, e, "", []Event{{Type: TypeAccountReady}})
		var invalid *InvalidEventError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("stops at first invalid event", func(t *testing.T) {
		applied, err := Dispatch(ctx, e, "acc", []Event{
			{Type: TypeVisibility, Conversation: model.SwarmURI("x"), Visible: true},
			{Type: TypeInteraction, Conversation: model.SwarmURI("x")},
			{Type: TypeVisibility, Conversation: model.SwarmURI("x")},
		})
		var invalid *InvalidEventError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, 1, invalid.Index)
		assert.Equal(t, 1, applied)
	})

	t.Run("unknown account without auto creation", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.AutoCreateAccounts = false
		strict := engine.New(&cfg, nil, nil, nil)
		defer strict.Close()
		_, err := Dispatch(ctx, strict, "ghost", []Event{{Type: TypeVisibility, Conversation: model.SwarmURI("x")}})
		var unknown *engine.UnknownAccountError
		require.ErrorAs(t, err, &unknown)
	})
}
