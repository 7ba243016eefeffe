// Package peer implements the Bridge's single WebSocket endpoint for the
// editor-plugin peer (§4.3). It adapts gorilla/websocket frames to the
// transport-agnostic bridge.Session, the way rubiojr-ergs's
// pkg/api/routes.go HandleFirehoseWS adapts a gorilla/websocket connection
// to its firehose hub.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DirtybitGames/unityctl-sub000/internal/bridge"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	// Loopback-only per §4.2; the HTTP front end never binds beyond
	// 127.0.0.1, so origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	helloTimeout     = 5 * time.Second
	readinessTimeout = 5 * time.Second
)

// frame is used only to sniff the discriminator "type" field; the full
// shape is decoded again into the specific struct once known.
type frame struct {
	Type string `json:"type"`
}

type helloFrame struct {
	bridge.Hello
	Type string `json:"type"`
}

type responseFrame struct {
	Type string `json:"type"`
	bridge.Response
}

type eventFrame struct {
	Type string `json:"type"`
	bridge.Event
}

type requestFrame struct {
	Type string `json:"type"`
	bridge.Request
}

// Endpoint serves the /peer WebSocket upgrade and owns the single
// connected peer's read loop and outbound writer.
type Endpoint struct {
	Session *bridge.Session
	Logs    *bridge.LogPipeline
	Logger  *slog.Logger
}

// conn adapts a gorilla/websocket.Conn plus a serialized outbound queue
// (§9 "Outbound socket serialization": one writer goroutine drains a
// channel in front of the socket) to bridge.PeerConn.
type conn struct {
	ws     *websocket.Conn
	outbox chan []byte
	done   chan struct{}
}

func (c *conn) Send(req *bridge.Request) error {
	data, err := json.Marshal(requestFrame{Type: "request", Request: *req})
	if err != nil {
		return err
	}
	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *conn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.ws.Close()
}

func (c *conn) writerLoop() {
	for {
		select {
		case data, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ServeHTTP upgrades the connection, performs the Hello handshake, and
// then dispatches inbound frames until the peer disconnects.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, outbox: make(chan []byte, 64), done: make(chan struct{})}
	go c.writerLoop()

	hello, err := e.awaitHello(ws)
	if err != nil {
		e.Logger.Warn("peer handshake failed", "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = c.Close()
		return
	}

	if err := e.Session.Connect(c, *hello); err != nil {
		e.Logger.Warn("peer rejected", "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = c.Close()
		return
	}
	e.Logger.Info("peer connected",
		"project_id", hello.ProjectID, "unity_version", hello.UnityVersion, "plugin_version", hello.PluginVersion)

	go e.probeReadiness()

	e.readLoop(ws, c)
}

func (e *Endpoint) awaitHello(ws *websocket.Conn) (*bridge.Hello, error) {
	_ = ws.SetReadDeadline(time.Now().Add(helloTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: no hello within %s: %v", bridge.ErrProtocolViolation, helloTimeout, err)
	}
	var hf helloFrame
	if err := json.Unmarshal(data, &hf); err != nil || hf.Type != "hello" {
		return nil, fmt.Errorf("%w: first frame was not a valid hello", bridge.ErrProtocolViolation)
	}
	return &hf.Hello, nil
}

// probeReadiness sends editor.ping right after connect; any non-error
// reply within readinessTimeout marks the session ready (§4.3, §9 Open
// Question: the ping payload shape is unconstrained).
func (e *Endpoint) probeReadiness() {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()
	resp, err := e.Session.Send(ctx, "editor.ping", nil, "", readinessTimeout)
	if err == nil && resp.IsOK() {
		e.Session.SetReady(true)
	}
}

func (e *Endpoint) readLoop(ws *websocket.Conn, c *conn) {
	defer func() {
		_ = c.Close()
		e.Session.Disconnect()
		e.Logger.Info("peer disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var fr frame
		if err := json.Unmarshal(data, &fr); err != nil {
			continue // malformed frame; tolerate rather than tear down the whole session
		}

		switch fr.Type {
		case "response":
			var rf responseFrame
			if err := json.Unmarshal(data, &rf); err != nil {
				continue
			}
			e.Session.Resolve(&rf.Response)
		case "event":
			var ef eventFrame
			if err := json.Unmarshal(data, &ef); err != nil {
				continue
			}
			e.handleEvent(ef.Event)
		default:
			// Unexpected frame kind mid-session; ignore rather than drop the
			// connection outright, matching §4.3's tolerance for arbitrary
			// wire ordering (O1).
		}
	}
}

func (e *Endpoint) handleEvent(ev bridge.Event) {
	switch ev.Name {
	case "domain.reloadStarting":
		e.Session.OnDomainReloadStarting()
	case "playModeChanged":
		if state, _ := ev.Payload["state"].(string); state == "EnteredPlayMode" {
			e.Logs.Clear("entered-play-mode")
		}
	case "log":
		e.ingestLog(ev.Payload)
	}
	e.Session.PublishEvent(ev)
}

func (e *Endpoint) ingestLog(payload map[string]any) {
	level, _ := payload["level"].(string)
	if level == "" {
		level = string(bridge.LogLevelLog)
	}
	message, _ := payload["message"].(string)
	stack, _ := payload["stackTrace"].(string)
	color, _ := payload["color"].(string)

	e.Logs.Accept(bridge.LogEntry{
		Source:     bridge.LogSourceConsole,
		Level:      bridge.LogLevel(level),
		Message:    message,
		StackTrace: stack,
		Color:      color,
	})
}
