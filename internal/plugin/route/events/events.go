package events

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/feed"
	"github.com/chirino/swarm-sync/internal/plugin/route/accounts"
	registryroute "github.com/chirino/swarm-sync/internal/registry/route"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "events",
		Order: 110,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			if deps.Engine == nil {
				return fmt.Errorf("event routes need an engine")
			}
			MountRoutes(r, deps.Engine, deps.Filter, deps.Auth)
			return nil
		},
	})
}

// MountRoutes mounts event ingest. filter and auth may be nil.
func MountRoutes(r *gin.Engine, eng *engine.Engine, filter *feed.Filter, auth gin.HandlerFunc) {
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ingest(c, eng, filter)
	}}
	if auth != nil {
		handlers = append([]gin.HandlerFunc{auth}, handlers...)
	}
	r.POST("/v1/accounts/:accountId/events", handlers...)
}

func ingest(c *gin.Context, eng *engine.Engine, filter *feed.Filter) {
	account := c.Param("accountId")
	events, err := feed.Decode(c.Request.Body, filter)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "event feed too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_feed", "error": err.Error()})
		return
	}
	applied, err := feed.Dispatch(c.Request.Context(), eng, account, events)
	if err != nil {
		log.Warn("Event ingest stopped", "account", account, "applied", applied, "total", len(events), "err", err)
		var invalid *feed.InvalidEventError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_event", "error": err.Error(), "applied": applied, "index": invalid.Index})
			return
		}
		accounts.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}
