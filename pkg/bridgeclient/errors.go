package bridgeclient

import "errors"

// SDK-level sentinel errors, mirroring the taxonomy of §7 as seen by an
// HTTP client rather than as Bridge-internal errors.
var (
	ErrPeerUnavailable  = errors.New("bridgeclient: peer unavailable")
	ErrTimeout          = errors.New("bridgeclient: request timed out")
	ErrPeerDisconnected = errors.New("bridgeclient: peer disconnected mid-request")
	ErrCompilationError = errors.New("bridgeclient: compilation error")
	ErrPlayModeFailed   = errors.New("bridgeclient: play mode transition failed")
	ErrCommandFailed    = errors.New("bridgeclient: command failed")
	ErrBadRequest       = errors.New("bridgeclient: bad request")
)

// mapStatusCode converts an HTTP status (and, for 200-with-error bodies,
// the wire error code) into one of the sentinels above.
func mapStatusCode(httpStatus int, code string) error {
	switch httpStatus {
	case 503:
		return ErrPeerUnavailable
	case 504:
		return ErrTimeout
	case 502:
		return ErrPeerDisconnected
	case 400:
		return ErrBadRequest
	}
	switch code {
	case "COMPILATION_ERROR":
		return ErrCompilationError
	case "PLAY_MODE_FAILED":
		return ErrPlayModeFailed
	case "COMMAND_FAILED":
		return ErrCommandFailed
	default:
		return nil
	}
}
