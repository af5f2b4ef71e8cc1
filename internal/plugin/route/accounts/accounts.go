package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/model"
	registryroute "github.com/chirino/swarm-sync/internal/registry/route"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/gin-gonic/gin"
)

const (
	defaultLoadTimeout = 10 * time.Second
	maxLoadTimeout     = time.Minute
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "accounts",
		Order: 100,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			if deps.Engine == nil {
				return fmt.Errorf("accounts routes need an engine")
			}
			MountRoutes(r, deps.Engine, deps.Auth)
			return nil
		},
	})
}

// MountRoutes mounts the observation and local action routes. auth may be nil.
func MountRoutes(r *gin.Engine, eng *engine.Engine, auth gin.HandlerFunc) {
	g := r.Group("/v1/accounts")
	if auth != nil {
		g.Use(auth)
	}

	g.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": eng.AccountIDs()})
	})
	g.GET("/:accountId", func(c *gin.Context) {
		getAccount(c, eng)
	})
	g.GET("/:accountId/stream", func(c *gin.Context) {
		streamAccount(c, eng)
	})
	g.GET("/:accountId/conversations/:uri/stream", func(c *gin.Context) {
		streamConversation(c, eng)
	})
	g.GET("/:accountId/conversations/:uri/history", func(c *gin.Context) {
		getHistory(c, eng)
	})
	g.POST("/:accountId/conversations/:uri/messages", func(c *gin.Context) {
		sendMessage(c, eng)
	})
	g.GET("/:accountId/conversations/:uri/messages/:messageId", func(c *gin.Context) {
		loadMessage(c, eng)
	})
	g.POST("/:accountId/conversations/:uri/read", func(c *gin.Context) {
		readMessages(c, eng)
	})
	g.POST("/:accountId/calls/:callId/:action", func(c *gin.Context) {
		callAction(c, eng)
	})
	g.POST("/:accountId/conferences/:confId/mute", func(c *gin.Context) {
		muteParticipant(c, eng)
	})
}

func getAccount(c *gin.Context, eng *engine.Engine) {
	includeBanned, _ := strconv.ParseBool(c.Query("includeBanned"))
	snap, err := eng.Snapshot(c.Param("accountId"), includeBanned)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func getHistory(c *gin.Context, eng *engine.Engine) {
	history, err := eng.History(c.Request.Context(), c.Param("accountId"), model.ParseURI(c.Param("uri")))
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

func sendMessage(c *gin.Context, eng *engine.Engine) {
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "body is required", "field": "body"})
		return
	}
	n, err := eng.SendMessage(c.Request.Context(), c.Param("accountId"), model.ParseURI(c.Param("uri")), req.Body)
	var sendErr *engine.SendError
	if errors.As(err, &sendErr) {
		c.JSON(http.StatusBadGateway, gin.H{"code": "send_failed", "error": err.Error(), "interaction": n})
		return
	}
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, n)
}

func loadMessage(c *gin.Context, eng *engine.Engine) {
	timeout := defaultLoadTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := config.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid timeout", "field": "timeout"})
			return
		}
		timeout = min(d, maxLoadTimeout)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	n, err := eng.LoadMessage(ctx, c.Param("accountId"), model.ParseURI(c.Param("uri")), c.Param("messageId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func readMessages(c *gin.Context, eng *engine.Engine) {
	read, err := eng.ReadMessages(c.Request.Context(), c.Param("accountId"), model.ParseURI(c.Param("uri")))
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": read})
}

func callAction(c *gin.Context, eng *engine.Engine) {
	ctx, acc, callID := c.Request.Context(), c.Param("accountId"), c.Param("callId")
	var err error
	switch c.Param("action") {
	case "accept":
		err = eng.AcceptCall(ctx, acc, callID)
	case "refuse":
		err = eng.RefuseCall(ctx, acc, callID)
	case "hangup":
		err = eng.HangUp(ctx, acc, callID)
	default:
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "unknown call action"})
		return
	}
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func muteParticipant(c *gin.Context, eng *engine.Engine) {
	var req struct {
		Peer  string `json:"peer"`
		Muted bool   `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Peer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "peer is required", "field": "peer"})
		return
	}
	err := eng.MuteParticipant(c.Request.Context(), c.Param("accountId"), c.Param("confId"), model.ParseURI(req.Peer), req.Muted)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// HandleError maps engine and store errors to responses.
func HandleError(c *gin.Context, err error) {
	var unknown *engine.UnknownAccountError
	var command *engine.CommandError
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError

	switch {
	case errors.As(err, &unknown):
		c.JSON(http.StatusNotFound, gin.H{"code": "unknown_account", "error": err.Error()})
	case errors.Is(err, engine.ErrUnknownConversation), errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &command):
		c.JSON(http.StatusBadGateway, gin.H{"code": "command_failed", "error": err.Error()})
	case errors.Is(err, conversation.ErrConversationClosed):
		c.JSON(http.StatusGone, gin.H{"code": "conversation_closed", "error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": "timeout", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
