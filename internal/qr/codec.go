// Package qr encodes and decodes the compact verification envelope carried by a
// scannable 2D code. It does not validate the hash; callers normalize and
// validate it after decoding.
package qr

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	dErrors "docproof/pkg/domain-errors"
)

const (
	EnvelopeType    = "document-verification"
	EnvelopeVersion = "1.0"
)

// Envelope is the scannable payload.
type Envelope struct {
	Hash      string         `json:"hash"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	Type      string         `json:"type"`
	Version   string         `json:"version"`
}

// Time returns Timestamp as a time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Codec builds and parses envelopes.
type Codec struct {
	now func() time.Time
}

func New() *Codec {
	return &Codec{now: time.Now}
}

// NewWithClock is New with an injectable clock for the envelope timestamp.
func NewWithClock(now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{now: now}
}

// Encode renders the envelope for hash and metadata as compact JSON.
func (c *Codec) Encode(hash string, metadata map[string]any) (string, error) {
	env := c.Envelope(hash, metadata)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "metadata is not serializable")
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Envelope builds the envelope Encode would serialize.
func (c *Codec) Envelope(hash string, metadata map[string]any) Envelope {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Envelope{
		Hash:      hash,
		Metadata:  metadata,
		Timestamp: c.now().UnixMilli(),
		Type:      EnvelopeType,
		Version:   EnvelopeVersion,
	}
}

// Decode parses scanned text back into an envelope. Text that is not an object
// with a string hash and the expected type is a decode error. Unknown versions
// are accepted.
func (c *Codec) Decode(text string) (*Envelope, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scanned payload is empty")
	}
	var env Envelope
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "scanned payload is not a verification envelope")
	}
	if dec.More() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scanned payload has trailing data")
	}
	if env.Type != EnvelopeType {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unexpected payload type %q", env.Type)
	}
	if env.Hash == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scanned payload has no hash")
	}
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	return &env, nil
}
