package governance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

var (
	ErrRevocationUnsigned  = errors.New("revocation list requires a signature")
	ErrRevocationSignature = errors.New("revocation list signature did not verify")
	ErrInvalidTimestamp    = errors.New("timestamp must be RFC3339 UTC")
)

const (
	CodeSignerRevoked         = "SIGNER_REVOKED"
	CodeSigningTimeUnprovable = "SIGNING_TIME_UNPROVABLE"
)

// EffectiveTime is the signing time the revocation timeline is evaluated
// against. Trustworthy is true only when established by a time authority.
type EffectiveTime struct {
	Time        time.Time
	Trustworthy bool
}

// RevocationCheck is the outcome of a timeline check. Code is empty when the
// key is usable at the effective time.
type RevocationCheck struct {
	Revoked bool
	Code    string
}

// HashRevocationList computes the list's hash with its signature excluded.
func HashRevocationList(l RevocationList) (string, error) {
	return canonhash.HashCanonical(l, "signature")
}

// VerifyRevocationList checks the governance root signature on the list.
func VerifyRevocationList(l RevocationList, anchors Anchors) error {
	if l.Signature == nil {
		return ErrRevocationUnsigned
	}
	root, ok := anchors.Roots[l.Signature.SignerKeyID]
	if !ok {
		return ErrRootNotTrusted
	}
	hash, err := HashRevocationList(l)
	if err != nil {
		return err
	}
	ok, err = signature.VerifyEnvelope(*l.Signature, hash, root)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRevocationSignature
	}
	return nil
}

// ResolveEffectiveTime picks the signing time for revocation evaluation. A
// valid proof from a trusted time authority establishes a trustworthy time;
// anything else falls back to the document's own claimed time, marked
// non-trustworthy.
func ResolveEffectiveTime(claimedAt, messageHash string, proof *TimestampProof, anchors Anchors) (EffectiveTime, error) {
	if proof != nil {
		if et, ok := resolveProof(*proof, messageHash, anchors); ok {
			return et, nil
		}
	}
	claimed, err := parseRFC3339UTC(claimedAt)
	if err != nil {
		return EffectiveTime{}, err
	}
	return EffectiveTime{Time: claimed, Trustworthy: false}, nil
}

func resolveProof(proof TimestampProof, messageHash string, anchors Anchors) (EffectiveTime, bool) {
	authority, ok := anchors.TimeAuthorities[proof.SignerKeyID]
	if !ok {
		return EffectiveTime{}, false
	}
	if canonhash.StripPrefix(proof.MessageHash) != canonhash.StripPrefix(messageHash) {
		return EffectiveTime{}, false
	}
	ts, err := parseRFC3339UTC(proof.Timestamp)
	if err != nil {
		return EffectiveTime{}, false
	}
	hash, err := canonhash.HashCanonical(proof, "signature")
	if err != nil {
		return EffectiveTime{}, false
	}
	env := signature.Envelope{
		Algorithm:   signature.AlgorithmEd25519,
		SignerKeyID: proof.SignerKeyID,
		Signature:   proof.Signature,
	}
	verified, err := signature.VerifyEnvelope(env, hash, authority)
	if err != nil || !verified {
		return EffectiveTime{}, false
	}
	return EffectiveTime{Time: ts, Trustworthy: true}, true
}

// CheckRevocation evaluates one key against the revocation/rotation timeline.
// A key revoked (or rotated away) at T is unusable for any signature whose
// effective time is at or after T. When the effective time is not trustworthy
// and the timeline would otherwise permit the signature, the check fails
// closed: false rejection is preferred over false acceptance.
func CheckRevocation(signerKeyID string, et EffectiveTime, list *RevocationList) RevocationCheck {
	if list == nil {
		return RevocationCheck{}
	}
	cutoff, found := revocationCutoff(signerKeyID, list)
	if !found {
		return RevocationCheck{}
	}
	if !et.Time.Before(cutoff) {
		return RevocationCheck{Revoked: true, Code: CodeSignerRevoked}
	}
	if !et.Trustworthy {
		return RevocationCheck{Revoked: true, Code: CodeSigningTimeUnprovable}
	}
	return RevocationCheck{}
}

// revocationCutoff returns the earliest instant at which signerKeyID became
// unusable, considering both revocations and rotations away from the key.
func revocationCutoff(signerKeyID string, list *RevocationList) (time.Time, bool) {
	var cutoff time.Time
	found := false
	consider := func(raw string) {
		t, err := parseRFC3339UTC(raw)
		if err != nil {
			return
		}
		if !found || t.Before(cutoff) {
			cutoff = t
			found = true
		}
	}
	for _, r := range list.Revocations {
		if r.KeyID == signerKeyID {
			consider(r.RevokedAt)
		}
	}
	for _, r := range list.Rotations {
		if r.OldKeyID == signerKeyID {
			consider(r.RotatedAt)
		}
	}
	return cutoff, found
}

func parseRFC3339UTC(v string) (time.Time, error) {
	s := strings.TrimSpace(v)
	if s == "" || !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, v)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, v)
	}
	return t.UTC(), nil
}
