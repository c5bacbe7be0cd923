package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdbt/analytics/internal/analytics"
	"github.com/bdbt/analytics/internal/jobs"
	"github.com/gorilla/websocket"
)

var base = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubSource serves a replaceable feed snapshot.
type stubSource struct {
	mu       sync.Mutex
	items    []analytics.ActivityFeedItem
	limit    int
	degraded bool
}

func (s *stubSource) PollActivityFeed(_ context.Context, limit int) ([]analytics.ActivityFeedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	if s.degraded {
		return []analytics.ActivityFeedItem{}, false
	}
	return s.items, true
}

func (s *stubSource) setDegraded(degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = degraded
}

func (s *stubSource) set(items ...analytics.ActivityFeedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func item(id string, offset time.Duration) analytics.ActivityFeedItem {
	return analytics.ActivityFeedItem{ActivityEvent: analytics.ActivityEvent{
		ID:           id,
		ActivityType: analytics.ActivityPageView,
		CreatedAt:    base.Add(offset),
	}}
}

func ids(items []analytics.ActivityFeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestHub_AdvanceWatermark(t *testing.T) {
	h := NewHub(&stubSource{}, Config{Logger: newTestLogger()})

	// First call primes without emitting.
	if got := h.advance([]analytics.ActivityFeedItem{item("b", time.Second), item("a", 0)}); len(got) != 0 {
		t.Fatalf("expected priming to emit nothing, got %v", ids(got))
	}

	// Newest first in, oldest first out; already sent ids are skipped.
	got := h.advance([]analytics.ActivityFeedItem{
		item("d", 2*time.Second),
		item("c", time.Second),
		item("b", time.Second),
		item("a", 0),
	})
	if strings.Join(ids(got), ",") != "c,d" {
		t.Errorf("expected c,d got %v", ids(got))
	}

	if got := h.advance([]analytics.ActivityFeedItem{item("d", 2*time.Second)}); len(got) != 0 {
		t.Errorf("expected no repeats, got %v", ids(got))
	}
}

func TestHub_PollOnceUsesBatchSize(t *testing.T) {
	src := &stubSource{}
	h := NewHub(src, Config{BatchSize: 7, Logger: newTestLogger()})

	h.PollOnce(context.Background())

	if src.limit != 7 {
		t.Errorf("expected limit 7, got %d", src.limit)
	}
}

// statusRecorder records job statuses reported by the hub.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) IncJobsTotal(jobType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, jobType+":"+status)
}

func (r *statusRecorder) ObserveJobDuration(string, float64) {}

func (r *statusRecorder) IncJobErrors(string, string) {}

func TestHub_PollOnceReportsDegradedRead(t *testing.T) {
	src := &stubSource{}
	rec := &statusRecorder{}
	h := NewHub(src, Config{Logger: newTestLogger(), JobMetrics: rec})
	ctx := context.Background()

	src.set(item("a", 0))
	h.PollOnce(ctx) // primes

	src.setDegraded(true)
	if sent := h.PollOnce(ctx); sent != 0 {
		t.Errorf("expected nothing sent on a degraded read, got %d", sent)
	}

	src.setDegraded(false)
	src.set(item("b", time.Second), item("a", 0))
	if sent := h.PollOnce(ctx); sent != 1 {
		t.Errorf("expected only b after recovery, got %d", sent)
	}

	want := []string{
		jobs.JobTypeFeedPoll + ":" + jobs.StatusSuccess,
		jobs.JobTypeFeedPoll + ":" + jobs.StatusFailure,
		jobs.JobTypeFeedPoll + ":" + jobs.StatusSuccess,
	}
	if strings.Join(rec.statuses, ",") != strings.Join(want, ",") {
		t.Errorf("expected statuses %v, got %v", want, rec.statuses)
	}
}

func TestHub_DegradedFirstReadDoesNotPrime(t *testing.T) {
	src := &stubSource{degraded: true}
	h := NewHub(src, Config{Logger: newTestLogger()})
	ctx := context.Background()

	h.PollOnce(ctx)

	// The first good read primes, so history is not replayed to subscribers.
	src.setDegraded(false)
	src.set(item("b", time.Second), item("a", 0))
	if sent := h.PollOnce(ctx); sent != 0 {
		t.Errorf("expected the first good read to prime, got %d sent", sent)
	}
}

func TestNewHub_Defaults(t *testing.T) {
	h := NewHub(&stubSource{}, Config{})

	if h.config.PollInterval != DefaultPollInterval || h.config.BatchSize != DefaultBatchSize || h.config.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("unexpected defaults: %+v", h.config)
	}
}

// serveHub upgrades connections and subscribes them until they disconnect.
func serveHub(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Subscribe(conn)
		defer func() {
			h.Unsubscribe(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsNewItems(t *testing.T) {
	src := &stubSource{}
	src.set(item("a", 0))
	h := NewHub(src, Config{Logger: newTestLogger()})
	srv := serveHub(t, h)

	h.PollOnce(context.Background())

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	src.set(item("c", 2*time.Second), item("b", time.Second), item("a", 0))
	if n := h.PollOnce(context.Background()); n != 2 {
		t.Fatalf("expected 2 items sent, got %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"b", "c"} {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != MessageTypeActivity || msg.Activity.ID != want {
			t.Errorf("expected activity %s, got %+v", want, msg)
		}
	}
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	h := NewHub(&stubSource{}, Config{Logger: newTestLogger()})
	srv := serveHub(t, h)

	conn := dial(t, srv)
	waitForClients(t, h, 1)
	conn.Close()

	waitForClients(t, h, 0)
}

func TestHub_StartStop(t *testing.T) {
	src := &stubSource{}
	h := NewHub(src, Config{PollInterval: 10 * time.Millisecond, Logger: newTestLogger()})

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.IsRunning() {
		t.Error("hub should be running after Start")
	}
	h.Start(context.Background())

	h.Stop()
	if h.IsRunning() {
		t.Error("hub should not be running after Stop")
	}
	h.Stop()
}
