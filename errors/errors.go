package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseRegistry    Phase = "registry"    // asset lookup
	PhaseEncode      Phase = "encode"      // payload encoding
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseInvoke      Phase = "invoke"      // module invocation
	PhaseValidate    Phase = "validate"    // request validation
	PhaseDecode      Phase = "decode"      // response decoding
	PhaseNormalize   Phase = "normalize"   // result normalization
	PhaseSession     Phase = "session"     // session lifecycle
	PhaseRelay       Phase = "relay"       // HTTP relay transport
	PhaseConfig      Phase = "config"      // configuration
)

// Kind categorizes the error
type Kind string

const (
	KindAssetMissing         Kind = "asset_missing"
	KindAssetAmbiguous       Kind = "asset_ambiguous"
	KindEncodingFailure      Kind = "encoding_failure"
	KindInstantiationFailure Kind = "instantiation_failure"
	KindInvocationFailure    Kind = "invocation_failure"
	KindWitnessValidation    Kind = "witness_validation"
	KindProtocolViolation    Kind = "protocol_violation"
	KindConsistency          Kind = "consistency"
	KindSessionClosed        Kind = "session_closed"
	KindInvalidInput         Kind = "invalid_input"
	KindTransport            Kind = "transport"
	KindUnsupportedImport    Kind = "unsupported_import"
)

// Sentinels for errors.Is. They match any Error of the same Kind.
var (
	ErrAssetMissing         = &Error{Kind: KindAssetMissing}
	ErrAssetAmbiguous       = &Error{Kind: KindAssetAmbiguous}
	ErrEncodingFailure      = &Error{Kind: KindEncodingFailure}
	ErrInstantiationFailure = &Error{Kind: KindInstantiationFailure}
	ErrInvocationFailure    = &Error{Kind: KindInvocationFailure}
	ErrWitnessValidation    = &Error{Kind: KindWitnessValidation}
	ErrProtocolViolation    = &Error{Kind: KindProtocolViolation}
	ErrConsistency          = &Error{Kind: KindConsistency}
	ErrSessionClosed        = &Error{Kind: KindSessionClosed}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrTransport            = &Error{Kind: KindTransport}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// Is reports whether target matches this error. Kinds must be equal; the
// phase is compared only when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
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

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsStartup reports whether err aborts session creation. Hosts present these
// as "service unavailable", never as a compilation error.
func IsStartup(err error) bool {
	switch KindOf(err) {
	case KindAssetMissing, KindAssetAmbiguous, KindEncodingFailure, KindInstantiationFailure, KindUnsupportedImport:
		return true
	}
	var u *UnsupportedImportsError
	return stderrors.As(err, &u)
}

// IsRecoverable reports whether err is a per-call failure after which the
// session stays usable.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindInvocationFailure, KindWitnessValidation, KindProtocolViolation, KindConsistency, KindInvalidInput, KindTransport:
		return true
	}
	return false
}

// Convenience constructors for common error patterns

// AssetMissing creates a registry error for an absent module/glue pair
func AssetMissing(detail string, args ...any) *Error {
	return New(PhaseRegistry, KindAssetMissing).Detail(detail, args...).Build()
}

// AssetAmbiguous creates a registry error listing the competing versions
func AssetAmbiguous(versions []string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindAssetAmbiguous,
		Detail: fmt.Sprintf("%d module/glue pairs found (%s) and no selection policy configured", len(versions), strings.Join(versions, ", ")),
		Value:  versions,
	}
}

// EncodingFailure creates a payload encoding error
func EncodingFailure(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindEncodingFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiationFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// Invocation creates a module invocation error
func Invocation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindInvocationFailure,
		Detail: detail,
		Cause:  cause,
	}
}

// WitnessValidation creates a witness validation error at path
func WitnessValidation(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindWitnessValidation,
		Path:   path,
		Detail: detail,
	}
}

// ProtocolViolation creates a response decoding error. raw is kept as the
// offending value for debugging.
func ProtocolViolation(detail string, raw string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindProtocolViolation,
		Detail: detail,
		Value:  raw,
		Cause:  cause,
	}
}

// Consistency creates a normalizer disagreement error
func Consistency(field, computed, reported string) *Error {
	return &Error{
		Phase:  PhaseNormalize,
		Kind:   KindConsistency,
		Path:   []string{field},
		Detail: fmt.Sprintf("computed %q, module reported %q", computed, reported),
		Value:  reported,
	}
}

// SessionClosed creates a session-closed error
func SessionClosed() *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindSessionClosed,
		Detail: "session closed",
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

// Transport creates a relay transport error
func Transport(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRelay,
		Kind:   KindTransport,
		Detail: detail,
		Cause:  cause,
	}
}

// UnsupportedImport represents a single host import the runtime cannot provide
type UnsupportedImport struct {
	Module string // e.g., "env"
	Name   string // e.g., "__wbg_now_1e80617bcee43265"
}

// UnsupportedImportsError is returned when a module needs host capabilities
// the runtime does not have
type UnsupportedImportsError struct {
	Imports []UnsupportedImport
}

// NewUnsupportedImportsError creates an error from a list of "module#name" strings
func NewUnsupportedImportsError(imports []string) *UnsupportedImportsError {
	result := &UnsupportedImportsError{
		Imports: make([]UnsupportedImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, name := parseImportKey(imp)
		result.Imports = append(result.Imports, UnsupportedImport{
			Module: mod,
			Name:   name,
		})
	}
	return result
}

func parseImportKey(key string) (module, name string) {
	mod, name, found := strings.Cut(key, "#")
	if found {
		return mod, name
	}
	return key, ""
}

// TrimBindgenHash strips the content hash wasm-bindgen appends to generated
// import names: "__wbg_log_5bb5f88f245d7762" -> "__wbg_log".
func TrimBindgenHash(name string) string {
	idx := strings.LastIndexByte(name, '_')
	if idx <= 0 || idx == len(name)-1 {
		return name
	}
	suffix := name[idx+1:]
	if len(suffix) < 8 {
		return name
	}
	for _, c := range suffix {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return name
		}
	}
	return name[:idx]
}

func (e *UnsupportedImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[instantiate] unsupported_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("unsupported %d host import(s):\n", len(e.Imports)))

	// Group by module for cleaner output
	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			modOrder = append(modOrder, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], TrimBindgenHash(imp.Name))
	}

	for _, mod := range modOrder {
		names := byMod[mod]
		sort.Strings(names)
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, name := range names {
			b.WriteString("    - ")
			b.WriteString(name)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type. It also matches the
// instantiation failure sentinel, since an unsupported import always fails
// instantiation.
func (e *UnsupportedImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *UnsupportedImportsError:
		return true
	case *Error:
		return t.Kind == KindUnsupportedImport || t.Kind == KindInstantiationFailure
	}
	return false
}
