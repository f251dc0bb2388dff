package bridge

import "fmt"

// ErrType classifies bridge failures so callers can distinguish a
// remote-reported failure from a transport problem.
type ErrType int

const (
	ErrTypeSpawn ErrType = iota
	ErrTypeStreamClosed
	ErrTypeTimeout
	ErrTypeRemote
	ErrTypeSerialization
	ErrTypeListenerSetup
	ErrTypeClosed
)

// Error is the typed error surfaced by both bridges. Malformed
// individual protocol lines are never surfaced as an Error; they are
// skipped inside the read loop.
type Error struct {
	Type    ErrType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch e.Type {
	case ErrTypeSpawn:
		return fmt.Sprintf("failed to spawn bridge process: %s", e.Message)
	case ErrTypeStreamClosed:
		return "bridge stream closed unexpectedly"
	case ErrTypeTimeout:
		return fmt.Sprintf("bridge request timed out: %s", e.Message)
	case ErrTypeRemote:
		return e.Message
	case ErrTypeSerialization:
		if e.Cause != nil {
			return fmt.Sprintf("serialization failed: %s: %v", e.Message, e.Cause)
		}
		return fmt.Sprintf("serialization failed: %s", e.Message)
	case ErrTypeListenerSetup:
		return fmt.Sprintf("listener setup failed: %s", e.Message)
	case ErrTypeClosed:
		return "bridge is closed"
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is a bridge timeout.
func IsTimeout(err error) bool {
	be, ok := err.(*Error)
	return ok && be.Type == ErrTypeTimeout
}

// IsRemote reports whether err is an explicit failure reported by the
// remote end.
func IsRemote(err error) bool {
	be, ok := err.(*Error)
	return ok && be.Type == ErrTypeRemote
}

func spawnErr(msg string, cause error) *Error {
	return &Error{Type: ErrTypeSpawn, Message: msg, Cause: cause}
}

func streamClosedErr() *Error {
	return &Error{Type: ErrTypeStreamClosed}
}

func timeoutErr(msg string) *Error {
	return &Error{Type: ErrTypeTimeout, Message: msg}
}

func remoteErr(msg string) *Error {
	return &Error{Type: ErrTypeRemote, Message: msg}
}

func serializationErr(msg string, cause error) *Error {
	return &Error{Type: ErrTypeSerialization, Message: msg, Cause: cause}
}
