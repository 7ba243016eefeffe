package bridgeclient

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryCursorStoreRoundTrips(t *testing.T) {
	s := NewMemoryCursorStore()
	ctx := context.Background()

	seq, err := s.LoadCursor(ctx, "stream-a")
	if err != nil || seq != 0 {
		t.Fatalf("LoadCursor on empty store = (%d, %v), want (0, nil)", seq, err)
	}

	if err := s.SaveCursor(ctx, "stream-a", 42); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	seq, err = s.LoadCursor(ctx, "stream-a")
	if err != nil || seq != 42 {
		t.Fatalf("LoadCursor = (%d, %v), want (42, nil)", seq, err)
	}
}

func TestFileCursorStoreRoundTripsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	ctx := context.Background()

	first := NewFileCursorStore(path)
	if err := first.SaveCursor(ctx, "stream-a", 7); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	if err := first.SaveCursor(ctx, "stream-b", 9); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}

	second := NewFileCursorStore(path)
	seq, err := second.LoadCursor(ctx, "stream-a")
	if err != nil || seq != 7 {
		t.Fatalf("LoadCursor(stream-a) = (%d, %v), want (7, nil)", seq, err)
	}
	seq, err = second.LoadCursor(ctx, "stream-b")
	if err != nil || seq != 9 {
		t.Fatalf("LoadCursor(stream-b) = (%d, %v), want (9, nil)", seq, err)
	}
}

func TestFileCursorStoreLoadMissingFileReturnsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s := NewFileCursorStore(path)
	seq, err := s.LoadCursor(context.Background(), "stream-a")
	if err != nil || seq != 0 {
		t.Fatalf("LoadCursor on missing file = (%d, %v), want (0, nil)", seq, err)
	}
}
