package flow

import (
	"errors"
	"fmt"
)

// ErrPhotoNotFound is returned by transports when an uploaded photo cannot be resolved.
var ErrPhotoNotFound = errors.New("flow: photo not found")

// TransportError wraps a chat platform failure during op.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Code exposes a stable error code for handler summaries.
func (e *TransportError) Code() string { return "transport_" + e.Op }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// committedError reports a failure that happened after the step's outcome
// was delivered. The session change is kept.
type committedError struct {
	err error
}

func (e *committedError) Error() string { return e.err.Error() }

func (e *committedError) Unwrap() error { return e.err }

// userMessage maps a failure onto the text shown to the operator.
func userMessage(err error) (kind, text string) {
	var te *TransportError
	switch {
	case errors.Is(err, ErrPhotoNotFound):
		return "missing_resource", msgPhotoNotFound
	case errors.As(err, &te):
		return "transport", msgTransportFailure
	default:
		return "internal", msgUnexpected
	}
}
