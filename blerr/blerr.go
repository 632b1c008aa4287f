// Package blerr defines the programmer-error family: contract
// violations by the embedder (invalid UUID, out-of-range argument,
// permission inconsistency at service-add time, buffer/offset
// overflow in a public API call). These are distinct from ATT
// protocol errors (att.Error), which travel over the wire; a blerr
// error never does.
package blerr

import "fmt"

// Kind classifies a programmer error.
type Kind int

const (
	// InvalidArgument covers malformed UUIDs, out-of-range lengths,
	// and other directly-rejected call arguments.
	InvalidArgument Kind = iota
	// PermissionInconsistent covers service-add-time violations of
	// the readPerm/writePerm-vs-property invariants.
	PermissionInconsistent
	// OutOfRange covers buffer/offset overflows in public API calls.
	OutOfRange
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case PermissionInconsistent:
		return "PermissionInconsistent"
	case OutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

// Error is a structured programmer error: a contract violation by the
// caller, never a wire-level protocol error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Error of the given kind, for use with
// errors.Is-style call sites.
func Is(err error, kind Kind) bool {
	be, ok := err.(*Error)
	return ok && be.Kind == kind
}
