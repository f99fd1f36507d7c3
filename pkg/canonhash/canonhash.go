// Package canonhash computes the two hash forms used by the kernel: SHA-256
// over canonical JSON bytes of an object (with self-referential fields
// excluded), and SHA-256 over raw file bytes.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nooterra/nooterra-sub010/pkg/canonjson"
)

var ErrExcludeNonObject = errors.New("field exclusion requires a JSON object")

func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashCanonical removes the named top-level fields from v, canonicalizes the
// remainder and returns the lowercase hex SHA-256 of the canonical bytes.
// A hashed object always excludes its own hash field and signature block here
// so the digest never covers itself.
func HashCanonical(v any, exclude ...string) (string, error) {
	norm, err := canonjson.Canonicalize(v)
	if err != nil {
		return "", err
	}
	if len(exclude) > 0 {
		obj, ok := norm.(map[string]any)
		if !ok {
			return "", ErrExcludeNonObject
		}
		for _, field := range exclude {
			delete(obj, field)
		}
		norm = obj
	}
	b, err := canonjson.Marshal(norm)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// HashFileBytes hashes raw bytes with no normalization. Manifest file entries
// use this form, never HashCanonical.
func HashFileBytes(b []byte) string {
	return SHA256Hex(b)
}

// StripPrefix tolerates the "sha256:" display prefix on hash strings.
func StripPrefix(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "sha256:")
}

// DecodeDigest decodes a 64-char lowercase hex digest into its raw 32 bytes.
func DecodeDigest(s string) ([]byte, error) {
	h := StripPrefix(s)
	if h != strings.ToLower(h) {
		return nil, errors.New("digest must be lowercase hex")
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("invalid digest encoding: %w", err)
	}
	if len(b) != sha256.Size {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(b))
	}
	return b, nil
}
