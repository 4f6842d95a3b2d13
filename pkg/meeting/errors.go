package meeting

import (
	"errors"
	"fmt"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/topology"
	"github.com/confab-dev/confab/pkg/mesh"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/sfu"
)

// Code is the wire-level error class. Clients branch on the code, humans
// read the message.
type Code string

const (
	// CodeValidation: the request is malformed or not applicable.
	CodeValidation Code = "validation-error"
	// CodeAuthorization: the caller is not allowed to do this.
	CodeAuthorization Code = "authorization-error"
	// CodeNotFound: the referenced entity does not exist.
	CodeNotFound Code = "not-found"
	// CodeConflict: the operation collides with the current state.
	CodeConflict Code = "conflict"
	// CodeCapacity: a configured limit is exhausted.
	CodeCapacity Code = "capacity-exceeded"
	// CodeTransient: retrying later may succeed.
	CodeTransient Code = "service-unavailable"
	// CodeFatal: an internal invariant broke.
	CodeFatal Code = "internal-error"
)

// Error is the typed error every meeting operation returns.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code, so callers can branch with errors.Is on a
// template like &Error{Code: CodeNotFound}.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Classify folds an arbitrary error into the wire taxonomy. Typed errors
// pass through; known sentinels from the media, mesh and registry layers map
// onto their class; everything else is internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	var code Code
	switch {
	case errors.Is(err, mediaworker.ErrProducerNotFound),
		errors.Is(err, mediaworker.ErrConsumerNotFound),
		errors.Is(err, mediaworker.ErrTransportNotFound),
		errors.Is(err, registry.ErrNotFound):
		code = CodeNotFound

	case errors.Is(err, sfu.ErrSelfConsumption),
		errors.Is(err, sfu.ErrNoCapabilities),
		errors.Is(err, sfu.ErrNoSendTransport),
		errors.Is(err, sfu.ErrNoRecvTransport),
		errors.Is(err, mesh.ErrUnknownPeer),
		errors.Is(err, mesh.ErrPeerSuspended),
		errors.Is(err, mesh.ErrUnknownSignal),
		errors.Is(err, mesh.ErrUnknownSampler),
		errors.Is(err, mediaworker.ErrLayerOutOfRange),
		errors.Is(err, mediaworker.ErrWrongDirection),
		errors.Is(err, mediaworker.ErrNotConnected),
		errors.Is(err, mediaworker.ErrCannotConsume),
		errors.Is(err, mediaworker.ErrPayloadTooLarge):
		code = CodeValidation

	case errors.Is(err, mesh.ErrSpoofedSender):
		code = CodeAuthorization

	case errors.Is(err, topology.ErrTransitionInFlight):
		code = CodeConflict

	case errors.Is(err, mediaworker.ErrNoWorkersAvailable),
		errors.Is(err, mediaworker.ErrWorkerDead),
		errors.Is(err, mediaworker.ErrRouterClosed),
		errors.Is(err, mediaworker.ErrTransportClosed):
		code = CodeTransient

	default:
		code = CodeFatal
	}

	return &Error{Code: code, Message: err.Error(), cause: err}
}

// transient reports whether retrying the operation may help.
func transient(err error) bool {
	return Classify(err).Code == CodeTransient
}
