package bridge

import "errors"

// Error taxonomy returned by the correlator and orchestrator. Transport
// layers (internal/httpapi) map these to HTTP statuses; see MapHTTPStatus.
var (
	ErrPeerUnavailable   = errors.New("PEER_UNAVAILABLE")
	ErrTimeout           = errors.New("TIMEOUT")
	ErrPeerDisconnected  = errors.New("PEER_DISCONNECTED")
	ErrCompilationError  = errors.New("COMPILATION_ERROR")
	ErrPlayModeFailed    = errors.New("PLAY_MODE_FAILED")
	ErrProtocolViolation = errors.New("PROTOCOL_ERROR")
	ErrCommandFailed     = errors.New("COMMAND_FAILED")
)

// Code returns the stable taxonomy code string for a Bridge-internal error,
// or "" if err does not originate from this package's sentinels.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrPeerUnavailable):
		return "PEER_UNAVAILABLE"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrPeerDisconnected):
		return "PEER_DISCONNECTED"
	case errors.Is(err, ErrCompilationError):
		return "COMPILATION_ERROR"
	case errors.Is(err, ErrPlayModeFailed):
		return "PLAY_MODE_FAILED"
	case errors.Is(err, ErrProtocolViolation):
		return "PROTOCOL_ERROR"
	case errors.Is(err, ErrCommandFailed):
		return "COMMAND_FAILED"
	default:
		return ""
	}
}

// MapHTTPStatus maps a Bridge error to the HTTP status §7 assigns it.
// COMPILATION_ERROR and PLAY_MODE_FAILED are reported as HTTP 200 with an
// error-shaped ResponseMessage, so they are not listed here.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrPeerUnavailable):
		return 503
	case errors.Is(err, ErrTimeout):
		return 504
	case errors.Is(err, ErrPeerDisconnected):
		return 502
	default:
		return 500
	}
}
