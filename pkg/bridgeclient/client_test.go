package bridgeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallSuccessRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["command"] != "scene.list" {
			t.Errorf("command = %v, want scene.list", body["command"])
		}
		json.NewEncoder(w).Encode(RPCResult{ID: "req-1", Status: "ok", Result: map[string]any{"scenes": []any{}}})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := c.Call(context.Background(), "scene.list", nil, "", 0)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !result.IsOK() {
		t.Errorf("result not ok: %+v", result)
	}
}

func TestCallMapsServiceUnavailableToErrPeerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(RPCResult{Status: "error", Error: &RPCError{Code: "PEER_UNAVAILABLE"}})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL), WithRetry(RetryConfig{MaxAttempts: 1}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Call(context.Background(), "scene.list", nil, "", 0)
	if !errors.Is(err, ErrPeerUnavailable) {
		t.Fatalf("got %v, want ErrPeerUnavailable", err)
	}
}

// An ok-status-200-with-status:error body (COMPILATION_ERROR etc.) is not a
// transport error: Call returns it as a non-ok RPCResult with a nil error.
func TestCallReturnsCompilationErrorAsOkResultNotGoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RPCResult{Status: "error", Error: &RPCError{Code: "COMPILATION_ERROR", Message: "nope"}})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := c.Call(context.Background(), "asset.refresh", nil, "", 0)
	if err != nil {
		t.Fatalf("Call returned a transport error for a 200 response: %v", err)
	}
	if result.IsOK() {
		t.Fatal("expected a non-ok result")
	}
	if result.Error.Code != "COMPILATION_ERROR" {
		t.Errorf("error code = %q, want COMPILATION_ERROR", result.Error.Code)
	}
}

func TestCallRetriesPeerUnavailableThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(RPCResult{Status: "error", Error: &RPCError{Code: "PEER_UNAVAILABLE"}})
			return
		}
		json.NewEncoder(w).Encode(RPCResult{Status: "ok"})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL), WithRetry(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := c.Call(context.Background(), "scene.list", nil, "", 0)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !result.IsOK() {
		t.Fatal("expected ok result after retry")
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestCallDoesNotRetryBadRequest(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(RPCResult{Status: "error", Error: &RPCError{Code: "BAD_REQUEST"}})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL), WithRetry(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Call(context.Background(), "scene.list", nil, "", 0)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("got %v, want ErrBadRequest", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("attempts = %d, want 1 (bad request must not be retried)", attempts)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected an error when no base URL is configured")
	}
}

func TestHealthDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "unityConnected": true})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if body["unityConnected"] != true {
		t.Errorf("unityConnected = %v, want true", body["unityConnected"])
	}
}

func TestLogsTailSendsQueryParamsAndDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		q := r.URL.Query()
		if q.Get("lines") != "10" || q.Get("source") != "console" || q.Get("full") != "true" {
			t.Errorf("unexpected query: %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"sequenceNumber": 1, "timestamp": time.Now().Format(time.RFC3339), "source": "console", "level": "log", "message": "hi"},
			},
			"watermark": 1,
		})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := c.LogsTail(context.Background(), LogsTailOptions{Lines: 10, Source: "console", Full: true})
	if err != nil {
		t.Fatalf("LogsTail: %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Message != "hi" {
		t.Errorf("entries = %+v", result.Entries)
	}
	if result.Watermark != 1 {
		t.Errorf("watermark = %d, want 1", result.Watermark)
	}
}

func TestLogsClearPostsReasonAndDecodesWatermark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Query().Get("reason") != "entered-play-mode" {
			t.Errorf("reason = %q, want entered-play-mode", r.URL.Query().Get("reason"))
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "watermark": 42})
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := c.LogsClear(context.Background(), "entered-play-mode")
	if err != nil {
		t.Fatalf("LogsClear: %v", err)
	}
	if !result.Success || result.Watermark != 42 {
		t.Errorf("result = %+v", result)
	}
}
