// Package mlerr defines the closed error taxonomy used across the ML core:
// every failure returned by a public operation carries one of six kinds,
// queryable with this package's Is helper and unwrappable to its underlying
// cause.
package mlerr

import (
	"errors"
	"fmt"
)

// Kind identifies which stage of the pipeline a failure came from.
type Kind int

const (
	// KindInvalidRequest marks malformed caller input: empty paths, NaN or
	// negative box coordinates, mismatched batch sizes, missing model paths.
	KindInvalidRequest Kind = iota
	// KindDecode marks image decode failures.
	KindDecode
	// KindPreprocess marks failures while building model input tensors.
	KindPreprocess
	// KindOrt marks ONNX Runtime session construction or Run() failures.
	KindOrt
	// KindPostprocess marks failures interpreting model output.
	KindPostprocess
	// KindRuntime marks failures of the runtime registry itself.
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindDecode:
		return "decode"
	case KindPreprocess:
		return "preprocess"
	case KindOrt:
		return "ort"
	case KindPostprocess:
		return "postprocess"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried by every kind. It wraps an
// optional underlying cause so callers can still reach it via errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is an *Error of the given kind, looking through
// any wrapping via errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// InvalidRequest builds a KindInvalidRequest error.
func InvalidRequest(format string, args ...any) *Error { return newf(KindInvalidRequest, format, args...) }

// Decode builds a KindDecode error.
func Decode(format string, args ...any) *Error { return newf(KindDecode, format, args...) }

// WrapDecode builds a KindDecode error wrapping cause.
func WrapDecode(cause error, format string, args ...any) *Error {
	return wrap(KindDecode, cause, format, args...)
}

// Preprocess builds a KindPreprocess error.
func Preprocess(format string, args ...any) *Error { return newf(KindPreprocess, format, args...) }

// WrapPreprocess builds a KindPreprocess error wrapping cause.
func WrapPreprocess(cause error, format string, args ...any) *Error {
	return wrap(KindPreprocess, cause, format, args...)
}

// Ort builds a KindOrt error.
func Ort(format string, args ...any) *Error { return newf(KindOrt, format, args...) }

// WrapOrt builds a KindOrt error wrapping cause.
func WrapOrt(cause error, format string, args ...any) *Error {
	return wrap(KindOrt, cause, format, args...)
}

// Postprocess builds a KindPostprocess error.
func Postprocess(format string, args ...any) *Error { return newf(KindPostprocess, format, args...) }

// WrapPostprocess builds a KindPostprocess error wrapping cause.
func WrapPostprocess(cause error, format string, args ...any) *Error {
	return wrap(KindPostprocess, cause, format, args...)
}

// Runtime builds a KindRuntime error.
func Runtime(format string, args ...any) *Error { return newf(KindRuntime, format, args...) }

// WrapRuntime builds a KindRuntime error wrapping cause.
func WrapRuntime(cause error, format string, args ...any) *Error {
	return wrap(KindRuntime, cause, format, args...)
}
