package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	eventsTotal       *prometheus.CounterVec
	unknownRefsTotal  *prometheus.CounterVec
	unlinearizedNodes prometheus.Gauge
	anomaliesTotal    prometheus.Counter
	commandsTotal     *prometheus.CounterVec

	// StoreLatency records history store operation latency.
	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Returns nil for an empty string.
func ParseLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initOnce sync.Once

// Init registers all collectors with the given constant labels. Only the
// first call registers; recording helpers are no-ops until then.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_sync_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_sync_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	eventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_sync_events_total",
			Help: "Inbound events applied, by kind",
		},
		[]string{"kind"},
	)

	unknownRefsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_sync_unknown_references_total",
			Help: "Events referencing an unknown message, call or conference",
		},
		[]string{"kind"},
	)

	unlinearizedNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_sync_unlinearized_nodes",
		Help: "Known history nodes still waiting for a causal ancestor",
	})

	anomaliesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "swarm_sync_anomalies_total",
		Help: "Nodes left unlinearized longer than the configured threshold",
	})

	commandsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_sync_commands_total",
			Help: "Commands sent to the transport, by kind and result",
		},
		[]string{"kind", "result"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_sync_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "swarm_sync_cache_hits_total",
		Help: "Total history cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "swarm_sync_cache_misses_total",
		Help: "Total history cache misses",
	})
}

func EventApplied(kind string) {
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(kind).Inc()
	}
}

func UnknownReference(kind string) {
	if unknownRefsTotal != nil {
		unknownRefsTotal.WithLabelValues(kind).Inc()
	}
}

// Unlinearized adjusts the count of held nodes.
func Unlinearized(delta int) {
	if unlinearizedNodes != nil {
		unlinearizedNodes.Add(float64(delta))
	}
}

func Anomaly() {
	if anomaliesTotal != nil {
		anomaliesTotal.Inc()
	}
}

func Command(kind string, err error) {
	if commandsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	commandsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveStore records the latency of a store operation started at start.
func ObserveStore(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func CacheHit() {
	if CacheHitsTotal != nil {
		CacheHitsTotal.Inc()
	}
}

func CacheMiss() {
	if CacheMissesTotal != nil {
		CacheMissesTotal.Inc()
	}
}

// Middleware records HTTP request metrics for Prometheus.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
