package ibverbscr

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/coreos-rdma/ibverbscr/internal/uapi"
)

// ErrorKind is the high-level category a failure falls into, matching
// the error taxonomy the dump/restore pipeline distinguishes between.
type ErrorKind string

const (
	KindIOFail             ErrorKind = "io-fail"
	KindDecodeMismatch     ErrorKind = "decode-mismatch"
	KindKernelVerbsFail    ErrorKind = "kernel-verbs-fail"
	KindCatalogClash       ErrorKind = "catalog-clash"
	KindUnsupportedFeature ErrorKind = "unsupported-feature"
	KindIdentityMismatch   ErrorKind = "identity-mismatch"
)

// Error is the structured error type every package-level function
// returns, carrying enough context to log or categorize a failure
// without parsing a message string.
type Error struct {
	Op         string          // operation that failed, e.g. "Dump", "Restore", "restoreMR"
	Kind       ErrorKind       // high-level error category
	Handle     uint32          // dump-time handle involved, 0 if not applicable
	ObjectKind uapi.ObjectKind // PD/MR/CQ/QP, zero value if not object-specific
	Errno      syscall.Errno   // kernel errno, 0 if not applicable
	Msg        string          // human-readable message
	Inner      error           // wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ObjectKind != 0 || e.Handle != 0 {
		parts = append(parts, fmt.Sprintf("%s[%d]", e.ObjectKind, e.Handle))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ibverbscr: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("ibverbscr: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is compares by Kind, so errors.Is(err, &Error{Kind: KindIOFail}) works
// regardless of the rest of the fields.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError creates a structured error with no object or errno context.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewObjectError creates a structured error scoped to one dumped object.
func NewObjectError(op string, kind ErrorKind, objKind uapi.ObjectKind, handle uint32, msg string) *Error {
	return &Error{Op: op, Kind: kind, ObjectKind: objKind, Handle: handle, Msg: msg}
}

// WrapError wraps an arbitrary error with operation context, mapping
// syscall errnos to a Kind and passing structured *Error values through
// with their operation updated to reflect the new call site.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var existing *Error
	if errors.As(inner, &existing) {
		return &Error{
			Op:         op,
			Kind:       existing.Kind,
			Handle:     existing.Handle,
			ObjectKind: existing.ObjectKind,
			Errno:      existing.Errno,
			Msg:        existing.Msg,
			Inner:      existing.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{Op: op, Kind: mapErrnoToKind(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Kind: KindIOFail, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToKind maps a kernel errno to the error kind that best
// describes an ioctl or procfs failure carrying it.
func mapErrnoToKind(errno syscall.Errno) ErrorKind {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return KindDecodeMismatch
	case syscall.EOPNOTSUPP, syscall.ENOSYS:
		return KindUnsupportedFeature
	default:
		return KindIOFail
	}
}

// IsKind reports whether err is a structured *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
