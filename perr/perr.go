// Package perr defines the exhaustive error-kind enumeration of
// spec.md §7 as a typed error any component of the patching engine
// can raise and any caller can branch on with errors.As, independent
// of which package actually detected the failure.
package perr

import "fmt"

// Kind enumerates the error kinds spec.md §7 lists as exhaustive.
type Kind int

const (
	// TargetTypeMissing: a plug named a target type that does not
	// exist in the target module. Recovered locally.
	TargetTypeMissing Kind = iota
	// TargetMemberMissing: a plug member has no matching target
	// member. Recovered locally.
	TargetMemberMissing
	// AmbiguousTargetName: a plug attribute has neither a positional
	// argument nor Target/TargetName. Recovered locally.
	AmbiguousTargetName
	// CloneFailure: cloning a single instruction raised an internal
	// invariant violation. Recovered at the member boundary.
	CloneFailure
	// InvalidConstructorShape: constructor-initializer splicing found
	// a body whose instruction indices disagree with the expected
	// pattern. Recovered at the member boundary.
	InvalidConstructorShape
	// ModuleInvariantBroken: after patching, a module-wide check
	// failed (e.g. a self-reference remains). Fatal.
	ModuleInvariantBroken
)

func (k Kind) String() string {
	switch k {
	case TargetTypeMissing:
		return "TargetTypeMissing"
	case TargetMemberMissing:
		return "TargetMemberMissing"
	case AmbiguousTargetName:
		return "AmbiguousTargetName"
	case CloneFailure:
		return "CloneFailure"
	case InvalidConstructorShape:
		return "InvalidConstructorShape"
	case ModuleInvariantBroken:
		return "ModuleInvariantBroken"
	default:
		return "Unknown"
	}
}

// Fatal reports whether errors of this kind abort the whole patch
// run, per spec.md §7's propagation rules. Every other kind is
// recovered locally or at the member boundary and the run continues.
func (k Kind) Fatal() bool {
	return k == ModuleInvariantBroken
}

// Error is the concrete error value carrying a Kind plus context.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *Error of the given kind (following
// Unwrap chains), for callers that want errors.Is-style branching
// without importing the stdlib errors package themselves.
func Is(err error, kind Kind) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			if pe.Kind == kind {
				return true
			}
			err = pe.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
