package udf

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a UDF failure.
type Kind string

const (
	KindExportNotFound    Kind = "export_not_found"
	KindModuleCompilation Kind = "module_compilation"
	KindGuestTrap         Kind = "guest_trap"
	KindTypeMismatch      Kind = "type_mismatch"
	KindEmptyResult       Kind = "empty_result"
	KindDeserialization   Kind = "deserialization"
	KindUnsupportedType   Kind = "unsupported_type"
	KindInvalidSpec       Kind = "invalid_spec"
)

// Error is the structured error returned by every loader and runner
// operation. Two errors are equal under errors.Is when their kinds match.
type Error struct {
	Cause  error
	Kind   Kind
	Op     string // export, type name or step involved
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrExportNotFound    = &Error{Kind: KindExportNotFound}
	ErrModuleCompilation = &Error{Kind: KindModuleCompilation}
	ErrGuestTrap         = &Error{Kind: KindGuestTrap}
	ErrTypeMismatch      = &Error{Kind: KindTypeMismatch}
	ErrEmptyResult       = &Error{Kind: KindEmptyResult}
	ErrDeserialization   = &Error{Kind: KindDeserialization}
	ErrUnsupportedType   = &Error{Kind: KindUnsupportedType}
	ErrInvalidSpec       = &Error{Kind: KindInvalidSpec}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExportNotFound reports a missing guest export.
func ExportNotFound(name, what string) *Error {
	return &Error{
		Kind:   KindExportNotFound,
		Op:     name,
		Detail: fmt.Sprintf("guest module does not export %s %q", what, name),
	}
}

// ModuleCompilation wraps a failure to compile guest bytecode.
func ModuleCompilation(cause error) *Error {
	return &Error{
		Kind:   KindModuleCompilation,
		Op:     "compile",
		Detail: "invalid guest module",
		Cause:  cause,
	}
}

// GuestTrap wraps a failure raised while executing guest code.
func GuestTrap(op string, cause error) *Error {
	return &Error{
		Kind:  KindGuestTrap,
		Op:    op,
		Cause: cause,
	}
}

// TypeMismatch reports a value or signature that does not match the declared
// types.
func TypeMismatch(op, msg string, args ...any) *Error {
	return &Error{
		Kind:   KindTypeMismatch,
		Op:     op,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// EmptyResult reports a zero-length result descriptor.
func EmptyResult(op string) *Error {
	return &Error{
		Kind:   KindEmptyResult,
		Op:     op,
		Detail: "no valid answer received from function",
	}
}

// Deserialization reports a result that could not be decoded.
func Deserialization(op string, cause error, msg string, args ...any) *Error {
	return &Error{
		Kind:   KindDeserialization,
		Op:     op,
		Detail: fmt.Sprintf(msg, args...),
		Cause:  cause,
	}
}

// UnsupportedType reports a type name or Arrow type outside the supported set.
func UnsupportedType(name string) *Error {
	return &Error{
		Kind:   KindUnsupportedType,
		Op:     name,
		Detail: fmt.Sprintf("unsupported udf type %q", name),
	}
}

// InvalidSpec reports a malformed Spec.
func InvalidSpec(msg string, args ...any) *Error {
	return &Error{
		Kind:   KindInvalidSpec,
		Detail: fmt.Sprintf(msg, args...),
	}
}
