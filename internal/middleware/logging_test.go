package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testLogEntry represents a parsed JSON log entry for testing.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ErrorCode string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/analytics/feed", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, buf)
	if entry.Method != "GET" || entry.Path != "/analytics/feed" {
		t.Errorf("unexpected method/path: %s %s", entry.Method, entry.Path)
	}
	if entry.Status != 200 {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != 5 {
		t.Errorf("expected size 5, got %d", entry.Size)
	}
	if entry.Level != "INFO" || entry.Msg != "request completed" {
		t.Errorf("unexpected level/msg: %s %q", entry.Level, entry.Msg)
	}
	if entry.UserID != "" || entry.ErrorCode != "" {
		t.Errorf("expected no user or error code, got %+v", entry)
	}
}

func TestLogging_RequestIDAndUser(t *testing.T) {
	buf := &bytes.Buffer{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set on a derived context, as Authenticate does.
		r = r.WithContext(SetUserID(r.Context(), "user-1"))
		w.WriteHeader(http.StatusCreated)
	})
	handler := RequestID(Logging(newTestLogger(buf))(inner))

	req := httptest.NewRequest(http.MethodPost, "/analytics/track", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, buf)
	if entry.RequestID != "req-123" {
		t.Errorf("expected request_id req-123, got %q", entry.RequestID)
	}
	if entry.UserID != "user-1" {
		t.Errorf("expected user_id user-1, got %q", entry.UserID)
	}
}

func TestLogging_ErrorLevels(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		wantLevel string
		wantCode  string
	}{
		{"client error", http.StatusBadRequest, "validation_error", "WARN", "validation_error"},
		{"server error", http.StatusInternalServerError, "internal_error", "ERROR", "internal_error"},
		{"success ignores code", http.StatusOK, "ignored", "INFO", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				SetErrorCode(r.Context(), tt.code)
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/analytics/summary", nil))

			entry := parseLogEntry(t, buf)
			if entry.Level != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, entry.Level)
			}
			if entry.ErrorCode != tt.wantCode {
				t.Errorf("expected error_code %q, got %q", tt.wantCode, entry.ErrorCode)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	if _, ok := NewLogger("production").Handler().(*slog.JSONHandler); !ok {
		t.Error("expected JSON handler in production")
	}
	if _, ok := NewLogger("development").Handler().(*slog.TextHandler); !ok {
		t.Error("expected text handler in development")
	}
}

func TestSetUserID_GetUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetUserID(req.Context()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
	ctx := SetUserID(req.Context(), "user-9")
	if got := GetUserID(ctx); got != "user-9" {
		t.Errorf("expected user-9, got %q", got)
	}
}

func TestResponseWriter_WriteHeaderOnce(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusOK)

	if rw.statusCode != http.StatusNotFound || rr.Code != http.StatusNotFound {
		t.Errorf("expected first status to win, got %d / %d", rw.statusCode, rr.Code)
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error hijacking a recorder")
	}
	if rw.Unwrap() == nil {
		t.Error("expected Unwrap to return the underlying writer")
	}
}
