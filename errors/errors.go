package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in an evaluation the error occurred
type Phase string

const (
	PhaseEngine  Phase = "engine"  // engine binary loading / wasm calls
	PhaseLoad    Phase = "load"    // module source loading
	PhaseModule  Phase = "module"  // cage module registration
	PhaseEval    Phase = "eval"    // initial script evaluation
	PhaseJobs    Phase = "jobs"    // guest job queue drain
	PhaseHook    Phase = "hook"    // after-script hooks
	PhaseMarshal Phase = "marshal" // host/guest value conversion
	PhaseScope   Phase = "scope"   // resource disposal
)

// Kind categorizes the error
type Kind string

const (
	KindGuestException Kind = "guest_exception"
	KindSyntax         Kind = "syntax"
	KindUnmarshallable Kind = "unmarshallable"
	KindRegistration   Kind = "registration"
	KindDisposed       Kind = "disposed"
	KindScopeClosed    Kind = "scope_closed"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindEngineFailure  Kind = "engine_failure"
	KindNotObject      Kind = "not_object"
	KindAllocation     Kind = "allocation"
	KindModuleLoad     Kind = "module_load"
	KindInterrupted    Kind = "interrupted"
	KindHookFailure    Kind = "hook_failure"
)

// Error is the structured error type used throughout the cage
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Name   string // guest error name (TypeError, SyntaxError, ...)
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Name != "" {
		b.WriteString(": ")
		b.WriteString(e.Name)
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Message returns the human-readable message without phase/kind decoration.
// For guest errors this is the guest's own message text.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the value path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Name sets the guest error name
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// GuestException wraps a guest-thrown error captured at phase.
// name and message come from the dumped guest error.
func GuestException(phase Phase, name, message string) *Error {
	kind := KindGuestException
	if name == "SyntaxError" {
		kind = KindSyntax
	}
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Name:   name,
		Detail: message,
	}
}

// Unmarshallable creates an error for a host value the marshaller rejects
func Unmarshallable(path []string, goType string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindUnmarshallable,
		Path:   path,
		Detail: fmt.Sprintf("cannot marshal %s to guest", goType),
	}
}

// Registration creates a module registration error
func Registration(moduleName string, cause error) *Error {
	return &Error{
		Phase:  PhaseModule,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("module %q def failed", moduleName),
		Cause:  cause,
	}
}

// Engine creates an engine-level failure error
func Engine(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngineFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// NotObject creates an error for property access on a non-object receiver
func NotObject(op string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindNotObject,
		Detail: fmt.Sprintf("%s requires an object receiver", op),
	}
}

// Disposed creates an error for use of a dead handle or closed resource
func Disposed(what string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindDisposed,
		Detail: fmt.Sprintf("%s already disposed", what),
	}
}

// ScopeClosed creates an error for Add on a closed scope
func ScopeClosed() *Error {
	return &Error{
		Phase:  PhaseScope,
		Kind:   KindScopeClosed,
		Detail: "scope already closed",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Allocation creates a guest memory allocation failure error
func Allocation(size uint32) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in guest memory", size),
	}
}

// ModuleLoad creates an ES module resolution/fetch error
func ModuleLoad(specifier string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindModuleLoad,
		Detail: fmt.Sprintf("load module %q", specifier),
		Cause:  cause,
	}
}

// Interrupted creates a cancellation error
func Interrupted(cause error) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindInterrupted,
		Detail: "evaluation interrupted",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with phase/kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
