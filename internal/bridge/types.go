// Package bridge implements the daemon at the center of UnityCtl: it
// correlates stateless HTTP requests from the CLI driver with a single,
// reconnectable WebSocket peer (the Unity editor plugin), fans out a
// unified log pipeline, and orchestrates multi-step compound commands.
package bridge

import "time"

// Hello is the first frame a peer sends after the WebSocket opens.
type Hello struct {
	ProjectID       string `json:"projectId"`
	UnityVersion    string `json:"unityVersion"`
	ProtocolVersion string `json:"protocolVersion"`
	PluginVersion   string `json:"pluginVersion"`
	PID             int    `json:"pid,omitempty"`
}

// Request is sent Bridge -> peer.
type Request struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
	AgentID string         `json:"agentId,omitempty"`
}

// ResponseError is the error payload of a Response.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is sent peer -> Bridge in answer to a Request.
type Response struct {
	ID     string         `json:"id"`
	Status string         `json:"status"` // "ok" or "error"
	Result map[string]any `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// IsOK reports whether the response indicates success.
func (r *Response) IsOK() bool { return r != nil && r.Status == "ok" }

// Event is an unsolicited peer -> Bridge frame.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// LogSource discriminates the origin of a LogEntry.
type LogSource string

const (
	LogSourceConsole LogSource = "console"
	LogSourceEditor  LogSource = "editor"
)

// LogLevel mirrors Unity's console log levels.
type LogLevel string

const (
	LogLevelLog       LogLevel = "log"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelException LogLevel = "exception"
	LogLevelAssert    LogLevel = "assert"
)

// LogEntry is the unified, logical log record fed by both the peer's
// console events and the editor log-file tailer.
type LogEntry struct {
	SequenceNumber uint64    `json:"sequenceNumber"`
	Timestamp      time.Time `json:"timestamp"`
	Source         LogSource `json:"source"`
	Level          LogLevel  `json:"level"`
	Message        string    `json:"message"`
	StackTrace     string    `json:"stackTrace,omitempty"`
	Color          string    `json:"color,omitempty"`
}
