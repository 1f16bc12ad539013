package model

import "fmt"

// FaultKind enumerates the error taxonomy of spec.md §7.
type FaultKind string

const (
	// Input errors — surfaced to caller, never retried automatically.
	FaultInvalidParameters FaultKind = "InvalidParameters"
	FaultInvalidCategory   FaultKind = "InvalidCategory"
	FaultVersionConflict   FaultKind = "VersionConflict"
	FaultUnmetDependency   FaultKind = "UnmetDependency"
	FaultRuleViolation     FaultKind = "RuleViolation"
	FaultRuleConflict      FaultKind = "RuleConflict"
	FaultNotFound          FaultKind = "NotFound"

	// Authorization errors — surfaced; audited.
	FaultUnauthorized FaultKind = "Unauthorized"
	FaultForbidden    FaultKind = "Forbidden"

	// Resource errors — surfaced; emit an incidents memory.
	FaultQuotaExceeded   FaultKind = "QuotaExceeded"
	FaultInboxOverflow   FaultKind = "InboxOverflow"
	FaultRecordTooLarge  FaultKind = "RecordTooLarge"

	// Transient errors — retried locally with backoff; surfaced as Timeout
	// only once the deadline expires.
	FaultStorageUnavailable FaultKind = "StorageUnavailable"
	FaultPeerUnreachable    FaultKind = "PeerUnreachable"
	FaultEmbeddingFailed    FaultKind = "EmbeddingFailed"
	FaultTimeout            FaultKind = "Timeout"

	// Transport errors — terminate the current call; session may recover.
	FaultSessionExpired FaultKind = "SessionExpired"
	FaultCallTimeout    FaultKind = "CallTimeout"
	FaultCancelled      FaultKind = "Cancelled"

	// Fatal errors — log, emit a security memory, terminate the process.
	FaultInvariantViolation FaultKind = "InvariantViolation"
	FaultCorruptedStorage   FaultKind = "CorruptedStorage"
)

// retriableKinds is the set of FaultKinds whose Retriable() is true by
// default (transient errors, per §7).
var retriableKinds = map[FaultKind]bool{
	FaultStorageUnavailable: true,
	FaultPeerUnreachable:    true,
	FaultEmbeddingFailed:    true,
	FaultTimeout:            true,
}

// Fault is the structured error every tool returns on failure
// (`{kind, detail, retriable}`, spec.md §7).
type Fault struct {
	Kind      FaultKind
	Detail    string
	Retriable bool
	Cause     error
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error { return f.Cause }

// NewFault builds a Fault, defaulting Retriable from the kind's taxonomy
// class unless overridden by the caller via WithRetriable.
func NewFault(kind FaultKind, detail string, cause error) *Fault {
	return &Fault{Kind: kind, Detail: detail, Retriable: retriableKinds[kind], Cause: cause}
}

// WithRetriable returns a copy of f with Retriable forced to v.
func (f *Fault) WithRetriable(v bool) *Fault {
	out := *f
	out.Retriable = v
	return &out
}

// AsFault extracts a *Fault from err, if any wraps one.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	for err != nil {
		if ff, ok := err.(*Fault); ok {
			f = ff
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if f == nil {
		return nil, false
	}
	return f, true
}
