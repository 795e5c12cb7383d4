package apierror

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind classifies an error the way callers need to react to it
type Kind string

const (
	// KindBadRequest is returned for invalid input that was rejected before any side effect
	KindBadRequest Kind = "BadRequest"
	// KindConflict is returned if the requested transition is not allowed in the current state
	KindConflict Kind = "Conflict"
	// KindNotFound is returned if the requested workspace, runtime or machine does not exist
	KindNotFound Kind = "NotFound"
	// KindServer is returned for infrastructure failures
	KindServer Kind = "Server"
)

// Error is an error tagged with a kind
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes errors.Is(err, errdefs.ErrNotFound) and friends work for tagged errors.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindBadRequest:
		return target == errdefs.ErrInvalidArgument
	case KindConflict:
		return target == errdefs.ErrConflict
	case KindNotFound:
		return target == errdefs.ErrNotFound
	case KindServer:
		return target == errdefs.ErrInternal
	}

	return false
}

func BadRequest(format string, args ...interface{}) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Server(format string, args ...interface{}) error {
	return &Error{Kind: KindServer, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind and prefixes its message. A nil err stays nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Message: message + ": " + err.Error(), cause: err}
}

// New creates a tagged error from a kind and a plain message, used by
// clients that receive the kind over the wire.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the kind of err. Errors from collaborators that are not
// tagged are classified through the errdefs interfaces and default to
// KindServer.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	switch {
	case errdefs.IsInvalidArgument(err):
		return KindBadRequest
	case errdefs.IsConflict(err), errdefs.IsAlreadyExists(err), errdefs.IsFailedPrecondition(err):
		return KindConflict
	case errdefs.IsNotFound(err):
		return KindNotFound
	}

	return KindServer
}

// Ensure converts any error into a tagged one, keeping the kind of
// already tagged errors.
func Ensure(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}

	return &Error{Kind: KindOf(err), Message: err.Error(), cause: err}
}

func IsBadRequest(err error) bool {
	return KindOf(err) == KindBadRequest
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsServer(err error) bool {
	return KindOf(err) == KindServer
}
