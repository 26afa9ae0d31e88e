// Package hashing derives and canonicalizes document content hashes.
//
// The digest is Keccak-256 over the raw document bytes and nothing else. File name,
// MIME type and upload metadata never feed the hash, so identical bytes always map to
// the same identity.
package hashing

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "docproof/pkg/domain-errors"
)

const (
	// Prefix is prepended to rendered digests.
	Prefix = "0x"
	// HexLength is the length of a normalized digest.
	HexLength = 64
	// Algorithm names the digest for audit fields.
	Algorithm = "keccak256"

	chunkSize = 1 << 20
)

// Engine computes content digests. It exists so callers can treat hashing of large
// inputs as a cancellable step.
type Engine interface {
	Digest(ctx context.Context, data []byte) (string, error)
}

// Keccak is the system-wide Engine.
type Keccak struct{}

// Digest hashes data in chunks, checking ctx between chunks.
func (Keccak) Digest(ctx context.Context, data []byte) (string, error) {
	h := sha3.NewLegacyKeccak256()
	for off := 0; off < len(data); off += chunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := min(off+chunkSize, len(data))
		h.Write(data[off:end])
	}
	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Digest renders the Keccak-256 of data as "0x" followed by 64 lower-case hex characters.
func Digest(data []byte) string {
	sum := sha3.NewLegacyKeccak256()
	sum.Write(data)
	return Prefix + hex.EncodeToString(sum.Sum(nil))
}

// DigestReader streams r through the hash.
func DigestReader(ctx context.Context, r io.Reader) (string, error) {
	h := sha3.NewLegacyKeccak256()
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
	}
	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize trims whitespace, strips any leading "0x"/"0X" and lower-cases the rest.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	for hasPrefix(s) {
		s = strings.TrimSpace(s[len(Prefix):])
	}
	return strings.ToLower(s)
}

func hasPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// Validation is the result of Validate.
type Validation struct {
	IsValid    bool   `json:"isValid"`
	Length     int    `json:"length"`
	Normalized string `json:"normalized"`
	HadPrefix  bool   `json:"hadPrefix"`
}

// Validate reports whether s normalizes to exactly 64 hex digits.
func Validate(s string) Validation {
	normalized := Normalize(s)
	return Validation{
		IsValid:    len(normalized) == HexLength && isHex(normalized),
		Length:     len(normalized),
		Normalized: normalized,
		HadPrefix:  hasPrefix(strings.TrimSpace(s)),
	}
}

// Err returns a CodeInvalidHash error describing why v is invalid, or nil.
func (v Validation) Err() error {
	if v.IsValid {
		return nil
	}
	if len(v.Normalized) != HexLength {
		return dErrors.Newf(dErrors.CodeInvalidHash, "hash must be %d hex characters, got %d", HexLength, v.Length)
	}
	return dErrors.New(dErrors.CodeInvalidHash, "hash contains non-hex characters")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// Prefixed renders a hash in its displayed "0x" form.
func Prefixed(hash string) string {
	return Prefix + Normalize(hash)
}

// Equal compares two hash strings after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Bytes32 decodes a valid hash into its 32-byte value.
func Bytes32(hash string) ([32]byte, error) {
	var out [32]byte
	v := Validate(hash)
	if err := v.Err(); err != nil {
		return out, err
	}
	raw, err := hex.DecodeString(v.Normalized)
	if err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInvalidHash, "hash is not valid hex")
	}
	copy(out[:], raw)
	return out, nil
}
