package accounts

import (
	"io"
	"net/http"

	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/gin-gonic/gin"
)

// streamAccount sends the account snapshot, then every later snapshot, as
// server-sent "account" events.
func streamAccount(c *gin.Context, eng *engine.Engine) {
	a, err := eng.Account(c.Param("accountId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	states, cancel := a.SubscribeState()
	defer cancel()

	c.SSEvent("account", a.Snapshot(false))
	c.Writer.Flush()
	stream(c, states, "account")
}

// streamConversation sends history changes of a known conversation as
// server-sent "element" events.
func streamConversation(c *gin.Context, eng *engine.Engine) {
	a, err := eng.Account(c.Param("accountId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	conv, ok := a.GetByURI(model.ParseURI(c.Param("uri")))
	if !ok {
		HandleError(c, engine.ErrUnknownConversation)
		return
	}
	elements, cancel := conv.SubscribeElements()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
	stream(c, elements, "element")
}

func stream[T any](c *gin.Context, ch <-chan T, name string) {
	done := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case v, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(name, v)
			return true
		case <-done:
			return false
		}
	})
}
