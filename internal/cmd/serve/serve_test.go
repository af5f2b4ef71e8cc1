package serve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/accounts/acc/events", readBodyLengthHandler)

	t.Run("small body passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/accounts/acc/events", strings.NewReader("012")))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "3", rec.Body.String())
	})

	t.Run("large body is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/accounts/acc/events", strings.NewReader("0123456789")))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestOptionsApply(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := &options{
		readHeaderTimeoutSecs: 7,
		cacheTTL:              "PT1H",
		localCacheSize:        "1M",
		anomalyThreshold:      "90s",
		accounts:              "a=jami:alice",
	}
	require.NoError(t, opts.apply(&cfg))
	assert.Equal(t, 7*time.Second, cfg.Listener.ReadHeaderTimeout)
	assert.Equal(t, 7*time.Second, cfg.ManagementListener.ReadHeaderTimeout)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, int64(1<<20), cfg.LocalCacheMaxCost)
	assert.Equal(t, 90*time.Second, cfg.AnomalyThreshold)
	assert.Equal(t, "jami:alice", cfg.Accounts["a"])

	require.Error(t, (&options{cacheTTL: "P1D"}).apply(&cfg))
	require.Error(t, (&options{accounts: "broken"}).apply(&cfg))
}

func TestStartServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listener.Port = 0
	cfg.Accounts = map[string]string{"acc": "jami:me"}
	cfg.AutoCreateAccounts = false
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()

	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		require.NoError(t, srv.Shutdown(shutdownCtx))
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
	get := func(path string) (int, string) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, _ := get("/ready")
	assert.Equal(t, http.StatusOK, code)

	resp, err := http.Post(base+"/v1/accounts/acc/events", "application/json", strings.NewReader(
		`{"type":"conversationReady","conversationId":"x","mode":"2"}
{"type":"interaction","conversation":"swarm:x","newMessage":true,"interaction":{"messageId":"m1","type":"TEXT","body":"hi","author":"jami:bob"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, body := get("/v1/accounts/acc/conversations/swarm:x/history")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"messageId":"m1"`)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "swarm_sync_events_total")
}
