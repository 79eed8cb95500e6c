package zkerr

import (
	"errors"
	"fmt"
)

// Kind identifies one member of the error taxonomy.
type Kind int

const (
	ConfigMissing Kind = iota + 1
	SerializationError
	IoError
	OtherError
)

var kindCodes = map[Kind]int{
	ConfigMissing:      1001,
	SerializationError: 1002,
	IoError:            1003,
	OtherError:         1004,
}

var kindNames = map[Kind]string{
	ConfigMissing:      "ConfigMissing",
	SerializationError: "SerializationError",
	IoError:            "IoError",
	OtherError:         "OtherError",
}

// Code returns the stable numeric code attached to the kind.
// Unknown kinds report the OtherError code.
func (k Kind) Code() int {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[OtherError]
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the only error type that crosses a handler boundary.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates an error of the given kind with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches cause to a new error. The cause is appended to the message so
// clients see what went wrong without receiving the internal error value.
func Wrap(kind Kind, cause error, message string) *Error {
	e := New(kind, message)
	if cause != nil {
		e.Message = fmt.Sprintf("%s: %v", message, cause)
		e.cause = cause
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("[%s %d] %s", e.Kind, e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !errors.As(target, &t) {
		return false
	}
	return t != nil && e.Kind == t.Kind
}

// Code returns the numeric code of the error's kind.
func (e *Error) Code() int {
	if e == nil {
		return OtherError.Code()
	}
	return e.Kind.Code()
}

// From extracts an *Error from err's chain. Errors outside the taxonomy are
// folded into OtherError carrying err's text.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: OtherError, Message: err.Error(), cause: err}
}

// KindOf reports the taxonomy kind of err, or OtherError when err does not
// carry one.
func KindOf(err error) Kind {
	return From(err).Kind
}

// CodeOf reports the numeric code of err.
func CodeOf(err error) int {
	return From(err).Code()
}
