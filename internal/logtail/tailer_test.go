package logtail

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DirtybitGames/unityctl-sub000/internal/bridge"
)

func waitForEntries(t *testing.T, logs *bridge.LogPipeline, n int) []bridge.LogEntry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		res := logs.Tail(0, "", true)
		if len(res.Entries) >= n {
			return res.Entries
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d entries", n)
	return nil
}

func TestTailerStreamsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "editor.log")
	if err := os.WriteFile(path, []byte("stale line before startup\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	logs := bridge.NewLogPipeline(100)
	tailer := New(path, logs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stop := make(chan struct{})
	defer close(stop)
	go tailer.Run(stop)

	time.Sleep(100 * time.Millisecond) // let it open and seek to EOF

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("first appended line\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	entries := waitForEntries(t, logs, 1)
	if entries[0].Message != "first appended line" {
		t.Fatalf("got message %q, want %q", entries[0].Message, "first appended line")
	}
	if entries[0].Source != bridge.LogSourceEditor {
		t.Errorf("source = %q, want editor", entries[0].Source)
	}
	for _, e := range entries {
		if e.Message == "stale line before startup" {
			t.Fatal("tailer must not stream content that predates startup")
		}
	}
}

func TestTailerDetectsTruncationRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "editor.log")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	logs := bridge.NewLogPipeline(100)
	tailer := New(path, logs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stop := make(chan struct{})
	defer close(stop)
	go tailer.Run(stop)

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("line after replace\n"), 0o644); err != nil {
		t.Fatalf("replace file: %v", err)
	}

	entries := waitForEntries(t, logs, 1)
	if entries[0].Message != "line after replace" {
		t.Fatalf("got message %q, want %q after rotation", entries[0].Message, "line after replace")
	}
}
