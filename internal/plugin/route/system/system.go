package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/swarm-sync/internal/registry/route"
)

var (
	ready    atomic.Bool
	draining atomic.Bool
)

// MarkReady signals that the stores are open and the listeners are up.
func MarkReady() {
	draining.Store(false)
	ready.Store(true)
}

// MarkDraining makes /ready fail so load balancers stop routing new events
// while in-flight requests finish.
func MarkDraining() {
	draining.Store(true)
}

func status() (int, string) {
	switch {
	case draining.Load():
		return http.StatusServiceUnavailable, "draining"
	case ready.Load():
		return http.StatusOK, "ready"
	default:
		return http.StatusServiceUnavailable, "starting"
	}
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine, _ registryroute.Deps) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			r.GET("/ready", func(c *gin.Context) {
				code, s := status()
				c.JSON(code, gin.H{"status": s})
			})
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
