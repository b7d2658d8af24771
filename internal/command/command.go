// Package command defines the structured error vocabulary shared by every
// write-path component (spec §4.9, §7) and the transaction buffer that
// turns a sequence of writes into one atomic commit or rollback.
//
// Grounded on the teacher's sentinel + fmt.Errorf("%w", ...) wrapping
// convention (internal/storage/sqlite/errors.go in the reference corpus)
// rather than per-kind exported struct types.
package command

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies a command-path failure (spec §7).
type Kind string

const (
	KindValidationError    Kind = "ValidationError"
	KindNotFound           Kind = "NotFound"
	KindVersionConflict    Kind = "VersionConflict"
	KindETagMismatch       Kind = "ETagMismatch"
	KindAlreadyExists      Kind = "AlreadyExists"
	KindInvalidFilter      Kind = "InvalidFilter"
	KindInvalidUpdate      Kind = "InvalidUpdate"
	KindReferenceNotFound  Kind = "ReferenceNotFound"
	KindBackendError       Kind = "BackendError"
	KindDeadline           Kind = "Deadline"
)

// sentinels let callers use errors.Is against a Kind without constructing
// an Error; New's Error.Is matches against these.
var (
	ErrValidation        = errors.New(string(KindValidationError))
	ErrNotFound          = errors.New(string(KindNotFound))
	ErrVersionConflict   = errors.New(string(KindVersionConflict))
	ErrETagMismatch      = errors.New(string(KindETagMismatch))
	ErrAlreadyExists     = errors.New(string(KindAlreadyExists))
	ErrInvalidFilter     = errors.New(string(KindInvalidFilter))
	ErrInvalidUpdate     = errors.New(string(KindInvalidUpdate))
	ErrReferenceNotFound = errors.New(string(KindReferenceNotFound))
	ErrBackendError      = errors.New(string(KindBackendError))
	ErrDeadline          = errors.New(string(KindDeadline))
)

// customSentinels holds one sentinel per Kind outside the set above, so
// repeated sentinelFor calls for the same custom Kind return the same error.
var customSentinels sync.Map

func sentinelFor(k Kind) error {
	switch k {
	case KindValidationError:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindVersionConflict:
		return ErrVersionConflict
	case KindETagMismatch:
		return ErrETagMismatch
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindInvalidFilter:
		return ErrInvalidFilter
	case KindInvalidUpdate:
		return ErrInvalidUpdate
	case KindReferenceNotFound:
		return ErrReferenceNotFound
	case KindBackendError:
		return ErrBackendError
	case KindDeadline:
		return ErrDeadline
	default:
		v, _ := customSentinels.LoadOrStore(k, errors.New(string(k)))
		return v.(error)
	}
}

// Error is the single structured error type every command-path failure is
// reported as (spec §7: "Error kinds are reported structurally
// {kind, message, ...fields}, never as opaque strings").
type Error struct {
	Kind    Kind
	Message string
	// Namespace/EntityID/Field contextualize the failure; not every kind
	// populates every field.
	Namespace string
	EntityID  string
	Field     string
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes Cause to errors.Is/As, and also makes e itself match its
// own Kind's sentinel via errors.Is (see Is below).
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is this error's Kind sentinel, so callers can
// write errors.Is(err, command.ErrNotFound) without a type assertion.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// New constructs a command.Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a command.Error that preserves cause in its chain
// (spec §7: "BackendError always wraps the originating blobstore error via
// %w so errors.Is against the backend's own sentinels still succeeds").
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with Namespace/EntityID/Field populated,
// for call sites that know which entity a failure concerns.
func (e *Error) WithContext(namespace, entityID, field string) *Error {
	cp := *e
	cp.Namespace = namespace
	cp.EntityID = entityID
	cp.Field = field
	return &cp
}

// As reports whether err is a *Error and, if so, assigns it to target,
// mirroring the stdlib errors.As contract for callers that want the
// structured fields rather than just the Kind.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
