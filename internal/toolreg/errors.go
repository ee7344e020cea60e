package toolreg

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrToolDisabled      = errors.New("tool is disabled")
	ErrNotOnPlatform     = errors.New("tool is not available on this platform")
	ErrToolAlreadyExists = errors.New("tool already registered")
)

// Kind classifies a tool execution failure.
type Kind int

const (
	KindUpstreamUnavailable Kind = iota
	KindInvalidArgument
	KindTimeout
	KindPermissionDenied
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindTimeout:
		return "timeout"
	case KindPermissionDenied:
		return "permission denied"
	default:
		return "upstream unavailable"
	}
}

// Error is a failure raised while a tool handler ran.
type Error struct {
	Kind Kind
	Tool string
	Err  error
}

func (e *Error) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("tool %s failed (%s): %v", e.Tool, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidArgument marks err as caused by a bad argument value that passed
// schema validation (e.g. an unparseable URL).
func InvalidArgument(err error) error { return &Error{Kind: KindInvalidArgument, Err: err} }

// UpstreamUnavailable marks err as a failure of an external service.
func UpstreamUnavailable(err error) error { return &Error{Kind: KindUpstreamUnavailable, Err: err} }

// Timeout marks err as a deadline overrun.
func Timeout(err error) error { return &Error{Kind: KindTimeout, Err: err} }

// PermissionDenied marks err as a refusal for the caller or platform.
func PermissionDenied(err error) error { return &Error{Kind: KindPermissionDenied, Err: err} }

// ValidationError rejects a tool call before its handler runs.
type ValidationError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
