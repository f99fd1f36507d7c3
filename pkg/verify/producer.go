package verify

import (
	"crypto/ed25519"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

// SignHeadAttestation computes the attestation payload hash (signature and
// timestamp proof excluded) and attaches the signer envelope. Producers and
// verifiers must agree on these exclusions bit-for-bit.
func SignHeadAttestation(att HeadAttestation, priv ed25519.PrivateKey, signerKeyID string) (HeadAttestation, error) {
	att.Signature = nil
	hash, err := canonhash.HashCanonical(att, "signature", "timestampProof")
	if err != nil {
		return HeadAttestation{}, err
	}
	env, err := signature.SignEnvelope(priv, hash, signerKeyID, att.SignedAt)
	if err != nil {
		return HeadAttestation{}, err
	}
	att.Signature = &env
	return att, nil
}

// SignVerificationReport signs a report with the same hashing discipline as
// SignHeadAttestation.
func SignVerificationReport(report VerificationReport, priv ed25519.PrivateKey, signerKeyID string) (VerificationReport, error) {
	report.Signature = nil
	hash, err := canonhash.HashCanonical(report, "signature", "timestampProof")
	if err != nil {
		return VerificationReport{}, err
	}
	env, err := signature.SignEnvelope(priv, hash, signerKeyID, report.SignedAt)
	if err != nil {
		return VerificationReport{}, err
	}
	report.Signature = &env
	return report, nil
}
