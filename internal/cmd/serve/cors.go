package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// originSet is the CORS allow list. An empty list allows every origin.
type originSet map[string]bool

func (o originSet) allows(origin string) bool {
	return origin != "" && (o["*"] || o[origin])
}

// corsMiddleware lets browser dashboards read the API and its event streams.
// Preflights from origins outside the list are refused.
func corsMiddleware(originsCSV string) gin.HandlerFunc {
	origins := parseOrigins(originsCSV)
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		allowed := origins.allows(origin)
		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if origin != "" && !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, Last-Event-ID")
		h.Set("Access-Control-Max-Age", "600")
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func parseOrigins(raw string) originSet {
	set := originSet{}
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimRight(strings.TrimSpace(part), "/"); v != "" {
			set[v] = true
		}
	}
	if len(set) == 0 {
		set["*"] = true
	}
	return set
}
