package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/feed"
	"github.com/gin-gonic/gin"
)

// Deps are the services route plugins mount against. Management plugins
// must not rely on them: a dedicated management router is mounted with a
// zero Deps.
type Deps struct {
	Engine *engine.Engine
	Filter *feed.Filter
	Auth   gin.HandlerFunc
}

// RouterLoader mounts a plugin's routes.
type RouterLoader func(r *gin.Engine, deps Deps) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain routes serve the account API.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (health, readiness, metrics) go on the
	// management port, or on the main port when none is configured.
	RouteTypeManagement
)

// Plugin is a named set of routes mounted in Order.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// Plugins returns the plugins of type t sorted by Order.
func Plugins(t RouteType) []Plugin {
	mu.Lock()
	defer mu.Unlock()
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Mount runs every loader of type t against r.
func Mount(r *gin.Engine, t RouteType, deps Deps) error {
	for _, p := range Plugins(t) {
		if err := p.Loader(r, deps); err != nil {
			return fmt.Errorf("load %s routes: %w", p.Name, err)
		}
		log.Debug("Routes mounted", "plugin", p.Name)
	}
	return nil
}
