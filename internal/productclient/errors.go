package productclient

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrTimeout is matched by calls that did not complete before their
	// deadline.
	ErrTimeout = errors.New("deadline exceeded")
	// ErrTransportFailure is matched by every other failure of the remote
	// call: unreachable endpoint, remote error status, undecodable reply.
	ErrTransportFailure = errors.New("transport failure")
	// ErrCanceled is matched when the caller's context was canceled.
	ErrCanceled = errors.New("canceled")
	// ErrInvalidArgument is matched when inputs are rejected before any
	// connection is opened.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmptyResponse is the cause of a transport failure whose reply
	// carried no product type.
	ErrEmptyResponse = errors.New("empty product type in response")
)

// Error describes a failed client operation. errors.Is matches both Kind and
// Cause, and status.Code(err) still reports the remote status.
type Error struct {
	Op     string
	Vendor string
	Kind   error
	Cause  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("productclient: %s", e.Op)
	if e.Vendor != "" {
		msg += fmt.Sprintf(" vendor=%q", e.Vendor)
	}
	msg += ": " + e.Kind.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// classify maps a transport error to one of the client error kinds.
func classify(op, vendor string, err error) *Error {
	kind := ErrTransportFailure
	switch {
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		kind = ErrTimeout
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		kind = ErrCanceled
	}
	return &Error{Op: op, Vendor: vendor, Kind: kind, Cause: err}
}

func invalid(op, vendor, format string, args ...any) *Error {
	return &Error{Op: op, Vendor: vendor, Kind: ErrInvalidArgument, Cause: fmt.Errorf(format, args...)}
}

// Process exit codes reported by ExitCode.
const (
	ExitOK        = 0
	ExitTimeout   = 1
	ExitTransport = 2
	ExitUsage     = 3
	ExitCanceled  = 130
)

// ExitCode maps an error returned by this package to a process exit code.
// Errors of unknown origin count as usage errors.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrTimeout):
		return ExitTimeout
	case errors.Is(err, ErrCanceled):
		return ExitCanceled
	case errors.Is(err, ErrTransportFailure):
		return ExitTransport
	default:
		return ExitUsage
	}
}
