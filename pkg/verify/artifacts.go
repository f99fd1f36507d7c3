package verify

import (
	"github.com/nooterra/nooterra-sub010/pkg/governance"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

// Fixed relative paths for the protocol surfaces inside a bundle tree.
const (
	PathManifest           = "manifest.json"
	PathGovernancePolicy   = "governance/policy.json"
	PathRevocationList     = "governance/revocations.json"
	PathHeadAttestation    = "attestation/bundle_head_attestation.json"
	PathVerificationReport = "verify/verification_report.json"
	PathPricingSignatures  = "pricing/pricing_matrix_signatures.json"
)

const (
	SchemaHeadAttestationV1    = "bundle-head-attestation-v1"
	SchemaVerificationReportV1 = "verification-report-v1"
	SchemaPricingSignaturesV1  = "pricing-matrix-signatures-v1"
)

// HeadAttestation binds a signer to the manifest hash so attestations cannot
// be replayed against a different bundle.
type HeadAttestation struct {
	SchemaVersion  string                     `json:"schemaVersion"`
	SubjectType    string                     `json:"subjectType"`
	ManifestHash   string                     `json:"manifestHash"`
	Scope          string                     `json:"scope,omitempty"`
	Purpose        string                     `json:"purpose,omitempty"`
	SignedAt       string                     `json:"signedAt"`
	TimestampProof *governance.TimestampProof `json:"timestampProof,omitempty"`
	Signature      *signature.Envelope        `json:"signature"`
}

// VerificationReport is a signed statement that some verifier ran against the
// exact manifest named by ManifestHash.
type VerificationReport struct {
	SchemaVersion  string                     `json:"schemaVersion"`
	SubjectType    string                     `json:"subjectType"`
	ManifestHash   string                     `json:"manifestHash"`
	Scope          string                     `json:"scope,omitempty"`
	Purpose        string                     `json:"purpose,omitempty"`
	Verified       bool                       `json:"verified"`
	SignedAt       string                     `json:"signedAt"`
	TimestampProof *governance.TimestampProof `json:"timestampProof,omitempty"`
	Signature      *signature.Envelope        `json:"signature"`
}

// PricingMatrixSignatures carries detached signatures over a pricing matrix
// hash, bound to the bundle via the manifest hash.
type PricingMatrixSignatures struct {
	SchemaVersion     string               `json:"schemaVersion"`
	ManifestHash      string               `json:"manifestHash"`
	PricingMatrixHash string               `json:"pricingMatrixHash"`
	Signatures        []signature.Envelope `json:"signatures"`
}

// Tool identifies the verifier build in the machine-readable result.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}
