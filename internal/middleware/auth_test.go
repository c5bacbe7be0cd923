package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdbt/analytics/internal/auth"
)

const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func newTestVerifier(t *testing.T) *auth.TokenVerifier {
	t.Helper()
	v, err := auth.NewTokenVerifier(testSecret, "", 0)
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	return v
}

func TestAuthenticate(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.IssueAccessToken("user-42")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
		wantCode   string
	}{
		{"anonymous", "", http.StatusOK, "", ""},
		{"valid token", "Bearer " + token, http.StatusOK, "user-42", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "", ErrCodeAuthFailed},
		{"forged token", "Bearer not.a.token", http.StatusUnauthorized, "", ErrCodeAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			var identified bool
			handler := Authenticate(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, identified = ContextIdentity{}.CurrentUserID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/analytics/dashboard", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if gotUser != tt.wantUser || identified != (tt.wantUser != "") {
				t.Errorf("expected user %q, got %q (%v)", tt.wantUser, gotUser, identified)
			}
			if tt.wantCode != "" {
				var body struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
					t.Fatalf("decode error body: %v", err)
				}
				if body.Error.Code != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, body.Error.Code)
				}
			}
		})
	}
}

func TestAuthenticate_LoggedUser(t *testing.T) {
	v := newTestVerifier(t)
	token, _ := v.IssueAccessToken("user-7")
	buf := &bytes.Buffer{}

	handler := Logging(newTestLogger(buf))(Authenticate(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/analytics/feed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := parseLogEntry(t, buf); entry.UserID != "user-7" {
		t.Errorf("expected user_id user-7 in log, got %q", entry.UserID)
	}
}

func TestAuthenticate_FailureLogsErrorCode(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(Authenticate(newTestVerifier(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/analytics/feed", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, buf)
	if entry.Status != http.StatusUnauthorized || entry.ErrorCode != ErrCodeAuthFailed {
		t.Errorf("unexpected log entry: %+v", entry)
	}
}

func TestRequireUser(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.IssueAccessToken("ops")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"forged token", "Bearer not.a.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			handler := Authenticate(v)(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(http.StatusNoContent)
			})))

			req := httptest.NewRequest(http.MethodPost, "/internal/analytics/refresh", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			wantCalls := 0
			if tt.wantStatus == http.StatusNoContent {
				wantCalls = 1
			}
			if calls != wantCalls {
				t.Errorf("expected %d handler calls, got %d", wantCalls, calls)
			}
		})
	}
}
