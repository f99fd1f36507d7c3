// Package governance evaluates signer authorization against a versioned,
// signed policy and a prospective revocation/rotation timeline. Trust anchors
// are always injected by the caller, never read from the artifact under
// verification.
package governance

import (
	"crypto/ed25519"

	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

type Role string

const (
	RoleBundleHeadAttestation Role = "bundle_head_attestation"
	RoleVerificationReport    Role = "verification_report"
	RolePricingMatrix         Role = "pricing_matrix"
)

const (
	SchemaPolicyV1     = "governance-policy-v1"
	SchemaPolicyV2     = "governance-policy-v2"
	SchemaRevocationV1 = "revocation-list-v1"
)

// Rule gates one (subjectType, role) pair.
type Rule struct {
	AllowedKeyIDs   []string `json:"allowedKeyIds,omitempty"`
	AllowedScopes   []string `json:"allowedScopes,omitempty"`
	RequireGoverned bool     `json:"requireGoverned,omitempty"`
	RequiredPurpose string   `json:"requiredPurpose,omitempty"`
}

// PolicyV1 is the unsigned legacy policy form.
type PolicyV1 struct {
	SchemaVersion string                     `json:"schemaVersion"`
	Rules         map[string]map[string]Rule `json:"rules"`
}

// PolicyV2 is signed by a governance root and bound to a revocation list.
type PolicyV2 struct {
	SchemaVersion      string                     `json:"schemaVersion"`
	Rules              map[string]map[string]Rule `json:"rules"`
	RevocationListHash string                     `json:"revocationListHash"`
	PolicyHash         string                     `json:"policyHash,omitempty"`
	Signature          *signature.Envelope        `json:"signature"`
}

// Policy is the tagged sum over the supported schema versions. Exactly one
// variant is set after a successful parse.
type Policy struct {
	V1 *PolicyV1
	V2 *PolicyV2
}

type Revocation struct {
	KeyID     string `json:"keyId"`
	RevokedAt string `json:"revokedAt"`
}

type Rotation struct {
	OldKeyID  string `json:"oldKeyId"`
	NewKeyID  string `json:"newKeyId"`
	RotatedAt string `json:"rotatedAt"`
}

type RevocationList struct {
	SchemaVersion string              `json:"schemaVersion"`
	Revocations   []Revocation        `json:"revocations"`
	Rotations     []Rotation          `json:"rotations"`
	Signature     *signature.Envelope `json:"signature"`
}

// TimestampProof is an independent time-authority attestation over a specific
// message hash, used to resolve revocation-timeline ambiguity without trusting
// the signer's own claimed time.
type TimestampProof struct {
	Timestamp   string `json:"timestamp"`
	MessageHash string `json:"messageHash"`
	SignerKeyID string `json:"signerKeyId"`
	Signature   string `json:"signature"`
}

// SignerLifecycle is the resolved view of one key's governance stream, built
// by the collaborator from its event log. The kernel only does lookups.
type SignerLifecycle struct {
	KeyID     string `json:"keyId"`
	ValidFrom string `json:"validFrom"`
	ValidTo   string `json:"validTo,omitempty"`
	RotatedAt string `json:"rotatedAt,omitempty"`
	RevokedAt string `json:"revokedAt,omitempty"`
}

// Anchors holds the out-of-band trust material. Roots sign policies and
// revocation lists; Signers resolve attestation/report signer key ids. Strict
// verification fails hard when Roots is empty.
type Anchors struct {
	Roots           map[string]ed25519.PublicKey
	Signers         map[string]ed25519.PublicKey
	TimeAuthorities map[string]ed25519.PublicKey
	PricingSigners  map[string]ed25519.PublicKey
}

func (a Anchors) HasRoots() bool { return len(a.Roots) > 0 }

// Decision is the outcome of an authorization check. Reason carries the
// stable machine-readable explanation when Authorized is false.
type Decision struct {
	Authorized bool
	Reason     string
}

const (
	ReasonNoRule           = "no policy rule for subject type and role"
	ReasonKeyNotAllowed    = "signer keyId not allowed by policy"
	ReasonScopeNotAllowed  = "scope not allowed by policy"
	ReasonNotGoverned      = "signer keyId not present in governance key lifecycle"
	ReasonPurposeMismatch  = "signer purpose does not satisfy policy"
	ReasonV2RequiresKeyIDs = "v2 policy rule missing allowedKeyIds"
)
