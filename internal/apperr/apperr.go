// Copyright Contributors to the env360 project

// Package apperr defines the error-kind taxonomy shared by every core
// component. Kinds are not Go types; a single Error struct carries a Kind
// tag so callers can branch with the Is* helpers the way the rest of the
// codebase branches on apimachinery's errors.IsNotFound/IsAlreadyExists.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	KindNotFound Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalid Kind = "invalid"
	KindConflict Kind = "conflict"
	KindUnavailable Kind = "unavailable"
	KindCancelled Kind = "cancelled"
	KindFatal Kind = "fatal"
)

// Error is the concrete error type produced by every core component.
type Error struct {
	Kind Kind
	Message string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf attaches a kind and formatted message to an existing error.
func Wrapf(kind Kind, err error, format string, args...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, returning "" if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func is(err error, k Kind) bool { return KindOf(err) == k }

func IsNotFound(err error) bool { return is(err, KindNotFound) }
func IsAlreadyExists(err error) bool { return is(err, KindAlreadyExists) }
func IsPermissionDenied(err error) bool { return is(err, KindPermissionDenied) }
func IsInvalid(err error) bool { return is(err, KindInvalid) }
func IsConflict(err error) bool { return is(err, KindConflict) }
func IsUnavailable(err error) bool { return is(err, KindUnavailable) }
func IsCancelled(err error) bool { return is(err, KindCancelled) }
func IsFatal(err error) bool { return is(err, KindFatal) }

// NotFound is a convenience constructor mirroring how often this kind is
// produced by Store lookups.
func NotFound(format string, args...any) *Error {
	return Newf(KindNotFound, format, args...)
}

// AlreadyExists is a convenience constructor naming the conflicting key.
func AlreadyExists(format string, args...any) *Error {
	return Newf(KindAlreadyExists, format, args...)
}

// Conflict is a convenience constructor for version-hash and 409-style
// conflicts.
func Conflict(format string, args...any) *Error {
	return Newf(KindConflict, format, args...)
}

// Invalid is a convenience constructor for bad enums / missing fields.
func Invalid(format string, args...any) *Error {
	return Newf(KindInvalid, format, args...)
}

// PermissionDenied is a convenience constructor for Evaluator rejections.
func PermissionDenied(format string, args...any) *Error {
	return Newf(KindPermissionDenied, format, args...)
}

// Unavailable is a convenience constructor for unreachable clusters/timeouts.
func Unavailable(format string, args...any) *Error {
	return Newf(KindUnavailable, format, args...)
}
