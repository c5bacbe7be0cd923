// Package feed streams new activity feed items to WebSocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bdbt/analytics/internal/analytics"
	"github.com/bdbt/analytics/internal/jobs"
	"github.com/gorilla/websocket"
)

// Defaults for Config.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 50
	DefaultWriteTimeout = 5 * time.Second
)

// MessageTypeActivity labels feed item messages.
const MessageTypeActivity = "activity"

// Source reads the most recent feed items, newest first. ok is false when
// the read failed and items is an empty fallback.
type Source interface {
	PollActivityFeed(ctx context.Context, limit int) (items []analytics.ActivityFeedItem, ok bool)
}

// Message is the JSON payload written to subscribers.
type Message struct {
	Type     string                     `json:"type"`
	Activity analytics.ActivityFeedItem `json:"activity"`
}

// Config configures the hub.
type Config struct {
	PollInterval time.Duration
	// BatchSize is the number of feed items read per poll.
	BatchSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	JobMetrics   jobs.Reporter
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Hub polls the activity feed and fans new items out to subscribers.
// Items are considered new when they are later than the watermark, or share
// its timestamp with an id that has not been sent yet.
type Hub struct {
	source Source
	config Config

	mu          sync.RWMutex
	subscribers map[*websocket.Conn]*subscriber

	pollMu    sync.Mutex
	primed    bool
	watermark time.Time
	sentAt    map[string]struct{} // ids sent with CreatedAt == watermark

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHub creates a hub reading from source.
func NewHub(source Source, config Config) *Hub {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Hub{
		source:      source,
		config:      config,
		subscribers: make(map[*websocket.Conn]*subscriber),
		sentAt:      make(map[string]struct{}),
	}
}

// Subscribe registers a connection for feed broadcasts.
func (h *Hub) Subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[conn] = &subscriber{conn: conn}
}

// Unsubscribe removes a connection. It does not close it.
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, conn)
}

// ClientCount returns the number of subscribed connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Start begins polling in a background goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	if h.running {
		h.runMu.Unlock()
		return nil
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.runMu.Unlock()

	go h.run(ctx)
	return nil
}

// Stop halts polling and waits for the loop to exit. Subscribers stay
// connected.
func (h *Hub) Stop() {
	h.runMu.Lock()
	if !h.running {
		h.runMu.Unlock()
		return
	}
	stopCh, doneCh := h.stopCh, h.doneCh
	h.runMu.Unlock()

	close(stopCh)
	<-doneCh

	h.runMu.Lock()
	h.running = false
	h.runMu.Unlock()
}

// IsRunning returns whether the polling loop is active.
func (h *Hub) IsRunning() bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	return h.running
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.config.Logger.Info("feed hub stopping due to context cancellation")
			return
		case <-h.stopCh:
			h.config.Logger.Info("feed hub stopping due to stop signal")
			return
		case <-ticker.C:
			h.PollOnce(ctx)
		}
	}
}

// PollOnce reads the feed, broadcasts items newer than the watermark in
// chronological order and returns how many were sent. The first poll only
// primes the watermark.
func (h *Hub) PollOnce(ctx context.Context) int {
	h.pollMu.Lock()
	defer h.pollMu.Unlock()

	start := time.Now()
	items, ok := h.source.PollActivityFeed(ctx, h.config.BatchSize)
	if !ok {
		// Keep the watermark so the next good read resumes where this left off.
		h.report(jobs.StatusFailure, start)
		h.config.Logger.Warn("feed poll degraded, skipping broadcast")
		return 0
	}
	fresh := h.advance(items)
	for _, item := range fresh {
		h.Broadcast(item)
	}

	h.report(jobs.StatusSuccess, start)
	if len(fresh) > 0 {
		h.config.Logger.Debug("feed items broadcast",
			"count", len(fresh),
			"subscribers", h.ClientCount())
	}
	return len(fresh)
}

func (h *Hub) report(status string, start time.Time) {
	if h.config.JobMetrics == nil {
		return
	}
	h.config.JobMetrics.IncJobsTotal(jobs.JobTypeFeedPoll, status)
	h.config.JobMetrics.ObserveJobDuration(jobs.JobTypeFeedPoll, time.Since(start).Seconds())
}

// advance returns the unseen items oldest first and moves the watermark.
// Callers hold pollMu.
func (h *Hub) advance(items []analytics.ActivityFeedItem) []analytics.ActivityFeedItem {
	var fresh []analytics.ActivityFeedItem
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		switch {
		case item.CreatedAt.Before(h.watermark):
			continue
		case item.CreatedAt.Equal(h.watermark):
			if _, sent := h.sentAt[item.ID]; sent {
				continue
			}
		default:
			h.watermark = item.CreatedAt
			h.sentAt = make(map[string]struct{})
		}
		h.sentAt[item.ID] = struct{}{}
		fresh = append(fresh, item)
	}

	if !h.primed {
		h.primed = true
		return nil
	}
	return fresh
}

// Broadcast writes one item to every subscriber. Connections that fail to
// accept the write are dropped and closed.
func (h *Hub) Broadcast(item analytics.ActivityFeedItem) {
	data, err := json.Marshal(Message{Type: MessageTypeActivity, Activity: item})
	if err != nil {
		h.config.Logger.Error("failed to marshal feed item", "error", err, "activity_id", item.ID)
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if err := s.write(data, h.config.WriteTimeout); err != nil {
			h.config.Logger.Warn("failed to send feed item to websocket client", "error", err)
			h.Unsubscribe(s.conn)
			s.conn.Close()
		}
	}
}

func (s *subscriber) write(data []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
