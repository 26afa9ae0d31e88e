package models

import (
	"strings"
	"time"

	"docproof/internal/document/hashing"
	dErrors "docproof/pkg/domain-errors"
)

// Status is the lifecycle position of a locally submitted document.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusFailed, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether reconciliation may no longer move the status.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRevoked || s == StatusExpired
}

// CanTransitionTo allows forward moves out of pending only.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	switch next {
	case StatusVerified, StatusRevoked, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// Metadata is the uploader-supplied description of a document.
type Metadata struct {
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Uploader       string     `json:"uploader,omitempty"`
	Private        bool       `json:"private"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
}

// VerificationData stamps who verified a record, how and when.
type VerificationData struct {
	Verifier  string    `json:"verifier"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a document the local party has submitted.
//
// Invariants:
//   - Hash is a normalized 64-hex digest and never changes after construction
//   - Status only moves forward: pending → verified | revoked | expired | failed
//   - VerifiedAt and Verification are set exactly when Status becomes verified
type Record struct {
	Hash         string            `json:"hash"`
	FileName     string            `json:"fileName"`
	FileType     string            `json:"fileType"`
	FileSize     int64             `json:"fileSize"`
	Status       Status            `json:"status"`
	Metadata     Metadata          `json:"metadata"`
	CreatedAt    time.Time         `json:"createdAt"`
	VerifiedAt   *time.Time        `json:"verifiedAt,omitempty"`
	Verification *VerificationData `json:"verificationData,omitempty"`
}

// NewRecord builds a pending record for a freshly hashed upload.
func NewRecord(hash, fileName, fileType string, fileSize int64, meta Metadata, now time.Time) (*Record, error) {
	v := hashing.Validate(hash)
	if err := v.Err(); err != nil {
		return nil, err
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "file name cannot be empty")
	}
	if fileSize < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "file size cannot be negative")
	}
	return &Record{
		Hash:      v.Normalized,
		FileName:  fileName,
		FileType:  fileType,
		FileSize:  fileSize,
		Status:    StatusPending,
		Metadata:  meta,
		CreatedAt: now,
	}, nil
}

// CanVerify checks the pending → verified transition.
// Use with ApplyVerification when validation and mutation are split.
func (r *Record) CanVerify() error {
	if !r.Status.CanTransitionTo(StatusVerified) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "record is already %s", r.Status)
	}
	return nil
}

// ApplyVerification marks the record verified. Call CanVerify first.
func (r *Record) ApplyVerification(data VerificationData) {
	at := data.Timestamp
	r.Status = StatusVerified
	r.VerifiedAt = &at
	r.Verification = &data
}

// Verify validates and applies verification in one call.
func (r *Record) Verify(data VerificationData) error {
	if err := r.CanVerify(); err != nil {
		return err
	}
	r.ApplyVerification(data)
	return nil
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata.Tags != nil {
		c.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	}
	if r.Metadata.ExpirationDate != nil {
		t := *r.Metadata.ExpirationDate
		c.Metadata.ExpirationDate = &t
	}
	if r.VerifiedAt != nil {
		t := *r.VerifiedAt
		c.VerifiedAt = &t
	}
	if r.Verification != nil {
		v := *r.Verification
		c.Verification = &v
	}
	return &c
}
