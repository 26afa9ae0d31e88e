package ledger

import (
	"time"
)

// State is the on-ledger verification state of a document.
type State string

const (
	StatePending  State = "pending"
	StateVerified State = "verified"
	StateRevoked  State = "revoked"
	StateExpired  State = "expired"
)

func (s State) IsValid() bool {
	switch s {
	case StatePending, StateVerified, StateRevoked, StateExpired:
		return true
	}
	return false
}

// Record is the authoritative ledger entry for a document hash. It is read-only to
// this service; the only write is a confirm request.
type Record struct {
	DocumentHash   string     `json:"documentHash"`
	Issuer         string     `json:"issuer"`
	IssuerName     string     `json:"issuerName"`
	RecipientName  string     `json:"recipientName"`
	RecipientID    string     `json:"recipientId,omitempty"`
	DocumentType   string     `json:"documentType"`
	IssuanceDate   time.Time  `json:"issuanceDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	IsActive       bool       `json:"isActive"`
	State          State      `json:"state"`
}

// Effective returns a copy with time-based expiry applied: a record whose
// expiration date has passed reports StateExpired and is inactive.
func (r Record) Effective(now time.Time) Record {
	if r.ExpirationDate != nil && !now.Before(*r.ExpirationDate) {
		if r.State == StatePending || r.State == StateVerified {
			r.State = StateExpired
		}
		r.IsActive = false
	}
	return r
}

// Problem reports why a found record is not currently valid, or nil when it is.
// Revocation and expiry take precedence over the active flag.
func (r Record) Problem() *Error {
	switch {
	case r.State == StateRevoked:
		return NewError(CategoryRevoked, OpVerify, "document has been revoked on the ledger", nil)
	case r.State == StateExpired:
		return NewError(CategoryExpired, OpVerify, "document has expired on the ledger", nil)
	case !r.IsActive:
		return NewError(CategoryInactive, OpVerify, "document is inactive on the ledger", nil)
	}
	return nil
}

// Lookup is the result of a read. A nil Record means the ledger holds no entry for
// the hash, which is a valid outcome rather than an error.
type Lookup struct {
	Hash   string  `json:"hash"`
	Record *Record `json:"record,omitempty"`
}

func (l *Lookup) Found() bool {
	return l != nil && l.Record != nil
}

// Confirmation is returned by a successful confirm.
type Confirmation struct {
	TransactionID string    `json:"transactionId"`
	DocumentHash  string    `json:"documentHash"`
	Signer        string    `json:"signer"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}
