package vulnassess

import (
	"errors"
	"strings"
)

// Error is this module's error domain type.
//
// Errors coming from the engine's components should be inspectable as
// ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (e.g. a
// database driver call, a parse failure, an external collaborator call)
// and intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. That is to say, use [fmt.Errorf]
// with a "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrConflict,
		ErrInternal,
		ErrInvalid,
		ErrPrecondition,
		ErrTransient:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	switch kind {
	case ErrVersionDependent:
		return !errors.Is(e, ErrTransient) && !errors.Is(e, ErrPermanent)
	default:
	}
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If an error is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	ErrConflict     = ErrorKind("conflict")     // conflicting action
	ErrInternal     = ErrorKind("internal")     // non-specific internal error
	ErrInvalid      = ErrorKind("invalid")      // invalid request
	ErrPrecondition = ErrorKind("precondition") // some precondition unfulfilled
	ErrTransient    = ErrorKind("transient")    // may succeed on retry
	ErrPermanent    = ErrorKind("permanent")    // will never succeed

	// ErrVersionDependent should only be used for an [Is] comparison.
	// It's true for any error that's not marked as transient or permanent.
	ErrVersionDependent = ErrorKind("version dependent") // neither transient nor permanent, may not error in a future version
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// Named sentinels for the error taxonomy in §7 of the design. Each wraps
// one of the ErrorKind values above so callers can check with errors.Is
// against either the specific sentinel or the broader kind.
var (
	// ErrUnparseableVersion is returned by VersionSemantics when a version
	// string or affected-versions expression can't be parsed. Never fatal:
	// callers fall back to PatternKindUnknown and a non-match.
	ErrUnparseableVersion = &Error{Kind: ErrInvalid, Op: "version", Message: "unparseable version expression"}

	// ErrDuplicateExternalID is returned by VulnStore.InsertVulnerability
	// when external_id already exists. Benign on a LabelPredictor
	// cache-write race; fatal (reported per-record) on an update-package
	// import.
	ErrDuplicateExternalID = &Error{Kind: ErrConflict, Op: "store", Message: "external_id already exists"}

	// ErrStoreBusy is returned once the store's bounded write-retry budget
	// is exhausted under contention.
	ErrStoreBusy = &Error{Kind: ErrTransient, Op: "store", Message: "store busy"}

	// ErrHashMismatch aborts an entire offline update package.
	ErrHashMismatch = &Error{Kind: ErrPermanent, Op: "updatepkg", Message: "manifest sha256 mismatch"}

	// ErrLLMTimeout and ErrLLMError are never propagated out of
	// LabelPredictor; Tier 3 converts either into a needs_review
	// prediction instead.
	ErrLLMTimeout = &Error{Kind: ErrTransient, Op: "predictor", Message: "llm backend timed out"}
	ErrLLMError   = &Error{Kind: ErrTransient, Op: "predictor", Message: "llm backend error"}

	// ErrEmbedderUnavailable is fatal at process startup; per-request it
	// degrades Tier 2 to a no-op that falls through to Tier 3.
	ErrEmbedderUnavailable = &Error{Kind: ErrPrecondition, Op: "predictor", Message: "embedder unavailable"}

	// ErrDiscoveryFailure is recorded on the device row; it never aborts a
	// bulk operation.
	ErrDiscoveryFailure = &Error{Kind: ErrTransient, Op: "orchestrator", Message: "device discovery failed"}

	// ErrScanFailure is recorded per-device in a bulk job's results; it
	// never aborts the job.
	ErrScanFailure = &Error{Kind: ErrInternal, Op: "orchestrator", Message: "device scan failed"}

	// ErrValidation covers per-record or per-request input rejection.
	ErrValidation = &Error{Kind: ErrInvalid, Op: "validate", Message: "validation failed"}
)
