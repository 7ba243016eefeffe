// Package logtail implements the editor log-file tailer of §4.7: it
// opens the editor's own log file and streams appended lines into the
// Bridge's log pipeline as source=editor entries, reopening on rotation
// (truncation or replacement). The rotation-detection approach mirrors
// rubiojr-ergs's fsnotify-based config-file watcher in cmd/serve.go, which
// reacts to Write/Create/Rename/Remove and re-adds the watch after a
// replace.
package logtail

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DirtybitGames/unityctl-sub000/internal/bridge"
)

// Tailer streams appended lines from a single file path into a LogPipeline.
// It applies no content filtering (display-level filtering is a CLI
// concern per §4.7).
type Tailer struct {
	path   string
	logs   *bridge.LogPipeline
	logger *slog.Logger

	file   *os.File
	reader *bufio.Reader
	offset int64
}

// New creates a Tailer for path, publishing accepted lines to logs.
func New(path string, logs *bridge.LogPipeline, logger *slog.Logger) *Tailer {
	return &Tailer{path: path, logs: logs, logger: logger}
}

// Run opens the file (waiting for it to exist if necessary) and streams
// new lines until stop is closed. It is meant to be run in
// its own goroutine for the lifetime of the daemon.
func (t *Tailer) Run(stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("editor log tailer: fsnotify unavailable, falling back to polling", "error", err)
		t.pollLoop(stop)
		return
	}
	defer watcher.Close()

	if err := t.openAndSeekEnd(); err != nil {
		t.logger.Warn("editor log tailer: initial open failed, will retry on watch events", "path", t.path, "error", err)
	}

	if err := watcher.Add(t.dirOf()); err != nil {
		t.logger.Warn("editor log tailer: watch failed, falling back to polling", "error", err)
		t.pollLoop(stop)
		return
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			t.closeFile()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// Editor rotated the log by replacing it; reopen from the start
				// of the new file.
				t.closeFile()
				continue
			}
			t.drain()
		case <-ticker.C:
			// Belt-and-suspenders: also poll, since some editors append via
			// mmap/truncate sequences that don't always surface a clean
			// fsnotify event on every platform.
			t.checkRotationAndDrain()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("editor log tailer: watcher error", "error", err)
		}
	}
}

func (t *Tailer) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			t.closeFile()
			return
		case <-ticker.C:
			t.checkRotationAndDrain()
		}
	}
}

func (t *Tailer) dirOf() string {
	dir := t.path
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i]
		}
	}
	return "."
}

// openAndSeekEnd opens the file fresh and positions the read cursor at EOF
// so the tailer only streams lines appended after Bridge startup.
func (t *Tailer) openAndSeekEnd() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Seek(info.Size(), io.SeekStart); err != nil {
		f.Close()
		return err
	}
	t.file = f
	t.reader = bufio.NewReader(f)
	t.offset = info.Size()
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.reader = nil
		t.offset = 0
	}
}

// checkRotationAndDrain detects rotation only by a size decrease below the
// current read offset and reopens before draining; inode and mtime are not
// compared, so a replacement file that is already at least as large as the
// offset is not detected here.
func (t *Tailer) checkRotationAndDrain() {
	info, err := os.Stat(t.path)
	if err != nil {
		// File missing (mid-rotation); nothing to drain this tick.
		return
	}
	if t.file == nil {
		if err := t.openAndSeekEnd(); err != nil {
			return
		}
		// A freshly (re)opened tailer should start from the beginning of a
		// brand new file rather than skipping its first lines.
		if info.Size() < t.offset {
			t.offset = 0
			t.file.Seek(0, io.SeekStart)
			t.reader = bufio.NewReader(t.file)
		}
	}
	if info.Size() < t.offset {
		// Size decreased: truncated or replaced. Reopen from the start.
		t.closeFile()
		if err := t.openAndSeekEnd(); err != nil {
			return
		}
		t.offset = 0
		t.file.Seek(0, io.SeekStart)
		t.reader = bufio.NewReader(t.file)
	}
	t.drain()
}

func (t *Tailer) drain() {
	if t.file == nil {
		if err := t.openAndSeekEnd(); err != nil {
			return
		}
	}
	for {
		line, err := t.reader.ReadString('\n')
		if len(line) > 0 {
			t.offset += int64(len(line))
			trimmed := trimNewline(line)
			if trimmed != "" {
				t.logs.Accept(bridge.LogEntry{
					Source:  bridge.LogSourceEditor,
					Level:   bridge.LogLevelLog,
					Message: trimmed,
				})
			}
		}
		if err != nil {
			// Partial line or EOF: back off until the next event/tick.
			return
		}
	}
}

func trimNewline(s string) string {
	n := len(s)
	for n > 0 && (s[n-1] == '\n' || s[n-1] == '\r') {
		n--
	}
	return s[:n]
}
