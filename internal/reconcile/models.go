package reconcile

import (
	"time"

	"docproof/internal/document/models"
	"docproof/internal/document/store"
	"docproof/internal/ledger"
)

// State is the position of one verification attempt in the reconcile state machine:
// started → hash_computed → ledger_checked → record_matched → reconciled | skipped | failed.
type State string

const (
	StateStarted       State = "started"
	StateHashComputed  State = "hash_computed"
	StateLedgerChecked State = "ledger_checked"
	StateRecordMatched State = "record_matched"
	StateReconciled    State = "reconciled"
	StateSkipped       State = "skipped"
	StateFailed        State = "failed"
)

// IsTerminal reports whether the attempt has finished.
func (s State) IsTerminal() bool {
	return s == StateReconciled || s == StateSkipped || s == StateFailed
}

// FindingCode classifies an outcome error or warning.
type FindingCode string

const (
	CodeInvalidHashFormat  FindingCode = "invalid_hash_format"
	CodeHashMismatch       FindingCode = "hash_mismatch"
	CodeStorageUnavailable FindingCode = "storage_unavailable"
	CodeStorageError       FindingCode = "storage_error"
	CodeNetworkError       FindingCode = "network_error"
	CodeLedgerError        FindingCode = "ledger_error"
	CodeLedgerInactive     FindingCode = "ledger_inactive"
	CodeLedgerRevoked      FindingCode = "ledger_revoked"
	CodeLedgerExpired      FindingCode = "ledger_expired"
	CodeFileNameMatch      FindingCode = "file_name_match"
	CodeNotificationFailed FindingCode = "notification_failed"
	CodeInternal           FindingCode = "internal"
)

// Finding is one entry of an outcome's errors or warnings list.
type Finding struct {
	Code    FindingCode `json:"code"`
	Message string      `json:"message"`
}

// Kind is the shape of an outcome.
type Kind string

const (
	// KindVerified: the bytes match the claimed hash and a record or ledger entry
	// vouches for them with nothing to report.
	KindVerified Kind = "verified"
	// KindPartial: the attempt completed with some information missing or adverse.
	KindPartial Kind = "partial"
	// KindFailed: the attempt could not complete.
	KindFailed Kind = "failed"
)

// Outcome is the result of one reconciliation attempt.
type Outcome struct {
	AttemptID     string         `json:"attemptId"`
	State         State          `json:"state"`
	IsValid       bool           `json:"isValid"`
	ActualHash    string         `json:"actualHash,omitempty"`
	ClaimedHash   string         `json:"claimedHash"`
	LedgerRecord  *ledger.Record `json:"ledgerRecord,omitempty"`
	MatchedRecord *models.Record `json:"matchedRecord,omitempty"`
	MatchStrategy store.Strategy `json:"matchStrategy,omitempty"`
	StatusUpdated bool           `json:"statusUpdated"`
	Errors        []Finding      `json:"errors"`
	Warnings      []Finding      `json:"warnings"`
	CompletedAt   time.Time      `json:"completedAt"`
}

// Kind derives the outcome shape from its fields.
func (o *Outcome) Kind() Kind {
	if o.State == StateFailed || len(o.Errors) > 0 {
		return KindFailed
	}
	if o.IsValid && len(o.Warnings) == 0 && (o.MatchedRecord != nil || o.LedgerRecord != nil) {
		return KindVerified
	}
	return KindPartial
}

func (o *Outcome) addError(code FindingCode, msg string) {
	o.Errors = append(o.Errors, Finding{Code: code, Message: msg})
}

func (o *Outcome) addWarning(code FindingCode, msg string) {
	o.Warnings = append(o.Warnings, Finding{Code: code, Message: msg})
}

func (o *Outcome) hasWarning(code FindingCode) bool {
	for _, w := range o.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// SubmitRequest carries an upload to be recorded as pending.
type SubmitRequest struct {
	Data     []byte
	FileName string
	FileType string
	Metadata models.Metadata
}

// SubmitResult reports the stored record and whether this call created it.
type SubmitResult struct {
	Record  *models.Record `json:"record"`
	Created bool           `json:"created"`
}
