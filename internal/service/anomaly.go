package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/metrics"
)

// ConversationSource lists the live conversations to scan.
type ConversationSource interface {
	Conversations() []*conversation.Conversation
}

// AnomalyService periodically reports swarm nodes that have waited for a
// missing ancestor longer than the threshold. Each node is reported once.
type AnomalyService struct {
	source    ConversationSource
	interval  time.Duration
	threshold time.Duration
}

// NewAnomalyService creates a new anomaly service.
func NewAnomalyService(source ConversationSource, interval, threshold time.Duration) *AnomalyService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AnomalyService{
		source:    source,
		interval:  interval,
		threshold: threshold,
	}
}

// Start begins the periodic scan loop. Returns when ctx is cancelled.
func (s *AnomalyService) Start(ctx context.Context) {
	if s.threshold <= 0 {
		log.Info("Anomaly scan disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *AnomalyService) scan(ctx context.Context) int {
	reported := 0
	for _, c := range s.source.Conversations() {
		if ctx.Err() != nil {
			return reported
		}
		for _, n := range c.StaleNodes(s.threshold) {
			log.Error("Node never linearized",
				"account", c.Account(),
				"conversation", c.URI(),
				"messageId", n.MessageID,
				"parentId", n.ParentID,
				"threshold", s.threshold)
			metrics.Anomaly()
			reported++
		}
	}
	return reported
}
