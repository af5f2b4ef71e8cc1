package accounts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/chirino/swarm-sync/internal/plugin/store/memory"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu   sync.Mutex
	cmds []registrycommand.Command
	err  error
}

func (s *sink) Send(_ context.Context, cmd registrycommand.Command) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *sink) Close() error { return nil }

func (s *sink) kinds() []registrycommand.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []registrycommand.Kind
	for _, c := range s.cmds {
		out = append(out, c.Kind)
	}
	return out
}

func setup(t *testing.T, s *sink) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Accounts = map[string]string{"acc": "jami:me"}
	cfg.AutoCreateAccounts = false
	eng := engine.New(&cfg, memory.New(), nil, s)
	t.Cleanup(func() { _ = eng.Close() })

	r := gin.New()
	MountRoutes(r, eng, func(c *gin.Context) { c.Next() })
	return r
}

func call(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAccounts(t *testing.T) {
	s := &sink{}
	r := setup(t, s)

	rec := call(r, http.MethodGet, "/v1/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["acc"]}`, rec.Body.String())

	rec = call(r, http.MethodGet, "/v1/accounts/acc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"account":"acc"`)

	rec = call(r, http.MethodGet, "/v1/accounts/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_account")

	rec = call(r, http.MethodGet, "/v1/accounts/acc/conversations/jami:bob/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		s := &sink{}
		r := setup(t, s)
		rec := call(r, http.MethodPost, "/v1/accounts/acc/conversations/jami:bob/messages", `{"body":"hello"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var n model.Interaction
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
		assert.Equal(t, "hello", n.Body)
		assert.Equal(t, model.StatusSending, n.Status)
		assert.Equal(t, []registrycommand.Kind{registrycommand.KindSendMessage}, s.kinds())

		rec = call(r, http.MethodGet, "/v1/accounts/acc/conversations/jami:bob/history", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var page struct {
			Data []model.Interaction `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		require.Len(t, page.Data, 1)
		assert.Equal(t, n.MessageID, page.Data[0].MessageID)
	})

	t.Run("transport failure", func(t *testing.T) {
		r := setup(t, &sink{err: errors.New("down")})
		rec := call(r, http.MethodPost, "/v1/accounts/acc/conversations/jami:bob/messages", `{"body":"hello"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)

		var resp struct {
			Code        string            `json:"code"`
			Interaction model.Interaction `json:"interaction"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "send_failed", resp.Code)
		assert.Equal(t, model.StatusFailure, resp.Interaction.Status)
	})

	t.Run("validation", func(t *testing.T) {
		r := setup(t, &sink{})
		assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPost, "/v1/accounts/acc/conversations/jami:bob/messages", `{}`).Code)
		assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPost, "/v1/accounts/acc/conversations/jami:bob/messages", `nope`).Code)
	})
}

func TestCallActions(t *testing.T) {
	s := &sink{}
	r := setup(t, s)

	for _, action := range []string{"accept", "refuse", "hangup"} {
		rec := call(r, http.MethodPost, "/v1/accounts/acc/calls/c1/"+action, "")
		assert.Equal(t, http.StatusAccepted, rec.Code, action)
	}
	assert.Equal(t, []registrycommand.Kind{
		registrycommand.KindAcceptCall,
		registrycommand.KindRefuseCall,
		registrycommand.KindHangUp,
	}, s.kinds())

	assert.Equal(t, http.StatusNotFound, call(r, http.MethodPost, "/v1/accounts/acc/calls/c1/dance", "").Code)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodPost, "/v1/accounts/ghost/calls/c1/accept", "").Code)

	rec := call(r, http.MethodPost, "/v1/accounts/acc/conferences/conf1/mute", `{"peer":"jami:bob","muted":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPost, "/v1/accounts/acc/conferences/conf1/mute", `{"muted":true}`).Code)
}

func TestLoadMessageTimeout(t *testing.T) {
	s := &sink{}
	r := setup(t, s)

	rec := call(r, http.MethodGet, "/v1/accounts/acc/conversations/swarm:x/messages/m9?timeout=50ms", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, []registrycommand.Kind{registrycommand.KindLoadMessage}, s.kinds())

	rec = call(r, http.MethodGet, "/v1/accounts/acc/conversations/swarm:x/messages/m9?timeout=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountStream(t *testing.T) {
	r := setup(t, &sink{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/accounts/acc/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event:account", lines.Text())
	require.True(t, lines.Scan())
	assert.Contains(t, lines.Text(), `"account":"acc"`)

	rec := call(r, http.MethodGet, "/v1/accounts/acc/conversations/swarm:none/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
