package bridgeclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LogStream wraps GET /logs/stream with automatic reconnection and capped
// exponential backoff.
type LogStream struct {
	client   *Client
	source   string
	streamID string
	cursors  CursorStore
	logger   *slog.Logger
}

// StreamLogs opens a reconnecting log stream for the given source filter
// ("console", "editor", or "" for all). If cursors is non-nil and
// streamID != "", the last-seen sequence number is loaded/saved across
// reconnects for cross-run resume bookkeeping (see CursorStore's doc
// comment on its limits).
func (c *Client) StreamLogs(source, streamID string, cursors CursorStore) *LogStream {
	return &LogStream{client: c, source: source, streamID: streamID, cursors: cursors, logger: slog.Default()}
}

// RecvAll reads entries until ctx is cancelled or callback returns an
// error (which RecvAll then returns), reconnecting with capped exponential
// backoff whenever the underlying HTTP stream fails. A stream that the
// server ends cleanly is not reconnected: RecvAll returns ctx.Err().
func (ls *LogStream) RecvAll(ctx context.Context, callback func(LogEntry) error) error {
	if ls.cursors != nil && ls.streamID != "" {
		if seq, err := ls.cursors.LoadCursor(ctx, ls.streamID); err == nil {
			_ = seq // advisory only; the wire protocol has no cursor-resume parameter (see CursorStore doc)
		}
	}

	backoff := 200 * time.Millisecond
	maxBackoff := 10 * time.Second

	var callbackErr error
	stopOnError := func(e LogEntry) error {
		if err := callback(e); err != nil {
			callbackErr = err
			return err
		}
		return nil
	}

	for {
		err := ls.recvOnce(ctx, stopOnError)
		if callbackErr != nil {
			return callbackErr
		}
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		ls.logger.Warn("log stream disconnected, reconnecting", "source", ls.source, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (ls *LogStream) recvOnce(ctx context.Context, callback func(LogEntry) error) error {
	url := ls.client.baseURL + "/logs/stream"
	if ls.source != "" {
		url += "?source=" + ls.source
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// SSE connections are held open indefinitely; the default client
	// timeout would sever every stream, so use a dedicated no-timeout
	// client for this one call.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridgeclient: unexpected stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry); err != nil {
			continue
		}
		if ls.cursors != nil && ls.streamID != "" {
			_ = ls.cursors.SaveCursor(ctx, ls.streamID, entry.SequenceNumber)
		}
		if err := callback(entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}
