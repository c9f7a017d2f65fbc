package hue

import (
	"errors"
	"fmt"

	"github.com/dokzlo13/lightcontrol/internal/light"
)

var (
	// ErrTransport marks I/O failures talking to the bridge.
	ErrTransport = errors.New("bridge transport failure")
	// ErrProtocol marks non-2xx responses.
	ErrProtocol = errors.New("bridge protocol failure")
	// ErrCanceled is reported to callbacks of cancelled calls. It is not a failure.
	ErrCanceled = errors.New("call canceled")
	// ErrClosed is reported when a call is enqueued on a closed transport.
	ErrClosed = errors.New("transport closed")
)

// StatusError is returned for a non-2xx bridge response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Is makes errors.Is(err, ErrProtocol) hold for any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrProtocol
}

// Outcome labels used in logs and the ledger.
const (
	OutcomeCompleted = "completed"
	OutcomeCanceled  = "canceled"
	OutcomeTransport = "transport_failure"
	OutcomeProtocol  = "protocol_failure"
	OutcomeDecode    = "decode_failure"
	OutcomeClosed    = "transport_closed"
	OutcomeUnknown   = "failure"
)

// Classify maps an error from a call to its outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrCanceled):
		return OutcomeCanceled
	case errors.Is(err, ErrClosed):
		return OutcomeClosed
	case errors.Is(err, ErrProtocol):
		return OutcomeProtocol
	case errors.Is(err, light.ErrDecode):
		return OutcomeDecode
	case errors.Is(err, ErrTransport):
		return OutcomeTransport
	default:
		return OutcomeUnknown
	}
}
