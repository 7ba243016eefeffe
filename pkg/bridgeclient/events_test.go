package bridgeclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStreamLogsDeliversEntriesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "data: {\"sequenceNumber\":%d,\"message\":\"line-%d\"}\n\n", i, i)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ls := c.StreamLogs("console", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []string
	err = ls.RecvAll(ctx, func(e LogEntry) error {
		got = append(got, e.Message)
		if len(got) == 3 {
			return context.Canceled // stop after the fixture's 3 lines
		}
		return nil
	})
	if err != nil && err != context.Canceled {
		t.Fatalf("RecvAll: %v", err)
	}
	want := []string{"line-1", "line-2", "line-3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamLogsSavesCursorPerEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"sequenceNumber\":5,\"message\":\"hi\"}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cursors := NewMemoryCursorStore()
	ls := c.StreamLogs("", "my-stream", cursors)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ls.RecvAll(ctx, func(e LogEntry) error {
		return context.Canceled
	})

	seq, err := cursors.LoadCursor(context.Background(), "my-stream")
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if seq != 5 {
		t.Errorf("saved cursor = %d, want 5", seq)
	}
}
