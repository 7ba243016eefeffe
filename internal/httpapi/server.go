// Package httpapi is the Bridge's loopback-only HTTP front end (§4.2): it
// exposes /health, /rpc, /logs/tail, /logs/stream, /logs/clear, and the
// console/* legacy aliases, and forwards /rpc through the orchestrator to
// the peer session.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DirtybitGames/unityctl-sub000/internal/bridge"
)

const bridgeVersion = "0.1.0"

// heavyCommands are the compound flows orchestrator.go drives through
// multiple request/ack/event round trips (§4.6): they hold a session
// correlator slot open for the duration of a Unity-side operation rather
// than returning after one request/response pair, so they get their own,
// tighter per-agent budget (see RateLimitConfig).
var heavyCommands = map[string]bool{
	"asset.refresh":     true,
	"play.enter":        true,
	"play.exit":         true,
	"test.run":          true,
	"record.start":      true,
	"asset.import":      true,
	"asset.reimportAll": true,
	"build.player":      true,
}

// RateLimitConfig controls per-agent RPC throttling. Both limiters are
// keyed by the request's agentId (or "anonymous" if it's absent), never by
// a single flat key, so one scripted agent hammering the Bridge can't
// exhaust another agent's budget.
type RateLimitConfig struct {
	PerAgentRPS        float64
	PerAgentBurst      int
	PerAgentHeavyRPS   float64
	PerAgentHeavyBurst int
}

// Server implements the HTTP front end described in §4.2.
type Server struct {
	session      *bridge.Session
	logs         *bridge.LogPipeline
	orchestrator *bridge.Orchestrator
	logger       *slog.Logger
	rpcLimiter   *keyedLimiter
	heavyLimiter *keyedLimiter
}

// New creates a Server wired to a session, log pipeline, and orchestrator.
func New(session *bridge.Session, logs *bridge.LogPipeline, orch *bridge.Orchestrator, logger *slog.Logger, rl RateLimitConfig) *Server {
	return &Server{
		session:      session,
		logs:         logs,
		orchestrator: orch,
		logger:       logger,
		rpcLimiter:   newKeyedLimiter(rl.PerAgentRPS, rl.PerAgentBurst),
		heavyLimiter: newKeyedLimiter(rl.PerAgentHeavyRPS, rl.PerAgentHeavyBurst),
	}
}

// Mux builds the *http.ServeMux routing every endpoint of §4.2.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/logs/tail", s.handleLogsTail(""))
	mux.HandleFunc("/logs/stream", s.handleLogsStream(""))
	mux.HandleFunc("/logs/clear", s.handleLogsClear(""))
	// Legacy aliases force source=console regardless of the query string.
	mux.HandleFunc("/console/tail", s.handleLogsTail(bridge.LogSourceConsole))
	mux.HandleFunc("/console/clear", s.handleLogsClear(bridge.LogSourceConsole))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.session.Snapshot()
	body := map[string]any{
		"status":         "ok",
		"projectId":      st.ProjectID,
		"unityConnected": st.UnityConnected,
		"editorReady":    st.EditorReady,
		"bridgeVersion":  bridgeVersion,
	}
	if st.UnityPluginVersion != "" {
		body["unityPluginVersion"] = st.UnityPluginVersion
	}
	writeJSON(w, http.StatusOK, body)
}

type rpcRequest struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
	AgentID string         `json:"agentId,omitempty"`
	Timeout float64        `json:"timeout,omitempty"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": map[string]any{"code": "BAD_REQUEST", "message": "invalid JSON body"}})
		return
	}
	if err := validateCommand(req.Command); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": map[string]any{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}
	if err := validateAgentID(req.AgentID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": map[string]any{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}

	agentKey := req.AgentID
	if agentKey == "" {
		agentKey = "anonymous"
	}
	limiter := s.rpcLimiter
	if heavyCommands[req.Command] {
		limiter = s.heavyLimiter
	}
	if !limiter.allow(agentKey) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "error": map[string]any{"code": "RATE_LIMITED", "message": "rate limit exceeded for agent " + agentKey}})
		return
	}

	var timeoutOverride time.Duration
	if req.Timeout > 0 {
		timeoutOverride = time.Duration(req.Timeout * float64(time.Second))
	}

	ctx := r.Context()
	resp, err := s.orchestrator.Dispatch(ctx, req.Command, req.Args, req.AgentID, timeoutOverride)
	if err != nil {
		s.writeDispatchError(w, req.Command, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDispatchError maps a Bridge sentinel error to its §7 HTTP status.
// COMPILATION_ERROR/PLAY_MODE_FAILED/COMMAND_FAILED never reach here as Go
// errors — the orchestrator returns them as ok-200 ResponseMessages with
// status:"error" instead, per §7's "HTTP 200 with status:error" rule.
func (s *Server) writeDispatchError(w http.ResponseWriter, command string, err error) {
	status := bridge.MapHTTPStatus(err)
	code := bridge.Code(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("internal dispatch error", "command", command, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"status": "error",
		"error":  map[string]any{"code": code, "message": err.Error()},
	})
}

func (s *Server) handleLogsTail(forceSource bridge.LogSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lines := parseIntDefault(q.Get("lines"), 50)
		full := q.Get("full") == "true"
		source := forceSource
		if source == "" {
			source = bridge.LogSource(q.Get("source"))
		}

		res := s.logs.Tail(lines, source, full)
		body := map[string]any{
			"entries":   res.Entries,
			"watermark": res.Watermark,
		}
		if res.ClearedAt != nil {
			body["clearedAt"] = res.ClearedAt.Format(time.RFC3339)
			body["clearReason"] = res.ClearReason
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleLogsClear(forceSource bridge.LogSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reason := r.URL.Query().Get("reason")
		watermark := s.logs.Clear(reason)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "watermark": watermark})
	}
}

// handleLogsStream implements the SSE endpoint (§4.2, §4.5, §9 "Log
// fan-out"). Each accepted entry flows to the client as one `data: <json>`
// frame; a slow client is dropped by the pipeline's non-blocking fan-out
// rather than stalling the producer. Grounded on brennhill's stdlib-only
// http.Flusher SSE pattern (no third-party SSE library is warranted: the
// wire format is three lines of stdlib writes).
func (s *Server) handleLogsStream(forceSource bridge.LogSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		source := forceSource
		if source == "" {
			source = bridge.LogSource(r.URL.Query().Get("source"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := s.logs.Subscribe()
		defer s.logs.Unsubscribe(ch)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-ch:
				if !ok {
					return
				}
				if source != "" && source != "all" && entry.Source != source {
					continue
				}
				data, err := json.Marshal(entry)
				if err != nil {
					continue
				}
				if _, err := w.Write([]byte("data: ")); err != nil {
					return
				}
				if _, err := w.Write(data); err != nil {
					return
				}
				if _, err := w.Write([]byte("\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
