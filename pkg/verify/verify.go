// Package verify composes the manifest, governance, attestation and report
// checks into a single deterministic verdict. The same bundle, anchors and
// options always produce byte-identical results.
package verify

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/nooterra/nooterra-sub010/pkg/bundle"
	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
	"github.com/nooterra/nooterra-sub010/pkg/governance"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

const (
	CodeManifestMissing         = "MANIFEST_MISSING"
	CodeManifestInvalid         = "MANIFEST_INVALID"
	CodeTrustedRootsMissing     = "TRUSTED_ROOTS_MISSING"
	CodePolicyMissing           = "GOVERNANCE_POLICY_MISSING"
	CodePolicyInvalid           = "GOVERNANCE_POLICY_INVALID"
	CodeRevocationListMissing   = "REVOCATION_LIST_MISSING"
	CodeRevocationListInvalid   = "REVOCATION_LIST_INVALID"
	CodeAttestationMissing      = "ATTESTATION_MISSING"
	CodeAttestationInvalid      = "ATTESTATION_INVALID"
	CodeAttestationMismatch     = "ATTESTATION_MANIFEST_MISMATCH"
	CodeAttestationUnauthorized = "ATTESTATION_SIGNER_NOT_AUTHORIZED"
	CodeAttestationSignature    = "ATTESTATION_SIGNATURE_INVALID"
	CodeReportMissing           = "VERIFICATION_REPORT_MISSING"
	CodeReportInvalid           = "VERIFICATION_REPORT_INVALID"
	CodeReportMismatch          = "REPORT_MANIFEST_MISMATCH"
	CodeReportUnauthorized      = "REPORT_SIGNER_NOT_AUTHORIZED"
	CodeReportSignature         = "REPORT_SIGNATURE_INVALID"
	CodePricingMissing          = "PRICING_SIGNATURES_MISSING"
	CodePricingInvalid          = "PRICING_SIGNATURES_INVALID"
	CodePricingUntrusted        = "PRICING_SIGNER_NOT_TRUSTED"
	CodePricingSignature        = "PRICING_SIGNATURE_INVALID"
	CodeSignerUnresolved        = "SIGNER_KEY_UNRESOLVED"
	CodeSignerRevoked           = governance.CodeSignerRevoked
	CodeSigningTimeUnprovable   = governance.CodeSigningTimeUnprovable
	CodeFailOnWarnings          = "FAIL_ON_WARNINGS"
)

// Input carries everything a verification run needs. All I/O is injected; the
// pipeline itself never touches disk or network.
type Input struct {
	Kind           Kind
	Strict         bool
	FailOnWarnings bool
	Read           bundle.ReadFile
	IsSymlink      bundle.IsSymlink
	Anchors        governance.Anchors
	Lifecycles     map[string]governance.SignerLifecycle
	Concurrency    int
	Tool           Tool
}

// Result is the stable machine-readable surface collaborators depend on.
// Codes are a public contract. Errors and warnings are sorted by (path, code).
type Result struct {
	OK             bool           `json:"ok"`
	VerificationOK bool           `json:"verificationOk"`
	Errors         []bundle.Issue `json:"errors"`
	Warnings       []bundle.Issue `json:"warnings"`
	Tool           Tool           `json:"tool"`
}

type run struct {
	in       Input
	errors   []bundle.Issue
	warnings []bundle.Issue
}

// Bundle verifies a bundle directory tree end to end: manifest first, then
// the governance/attestation/report chain per the strictness table.
func Bundle(in Input) Result {
	if in.Kind == "" {
		in.Kind = KindEvidence
	}
	r := &run{in: in}
	r.execute()
	return r.finish()
}

func (r *run) execute() {
	manifest, ok := r.loadManifest()
	if !ok {
		return
	}
	issues := bundle.Verify(manifest, bundle.VerifyDeps{
		Read:        r.in.Read,
		IsSymlink:   r.in.IsSymlink,
		Concurrency: r.in.Concurrency,
	})
	if len(issues) > 0 {
		r.errors = append(r.errors, issues...)
		return
	}
	manifestHash := canonhash.StripPrefix(manifest.ManifestHash)

	if r.in.Strict && !r.in.Anchors.HasRoots() {
		r.fail(bundle.Issue{Code: CodeTrustedRootsMissing, Message: "strict requires trusted governance root keys"})
		return
	}

	list := r.checkRevocationList()
	policy := r.checkPolicy(list)
	r.checkAttestation(manifestHash, policy, list)
	r.checkReport(manifestHash, policy, list)
	r.checkPricing(manifestHash)
}

func (r *run) finish() Result {
	sortIssues(r.errors)
	sortIssues(r.warnings)
	res := Result{
		VerificationOK: len(r.errors) == 0,
		Errors:         r.errors,
		Warnings:       r.warnings,
		Tool:           r.in.Tool,
	}
	res.OK = res.VerificationOK
	if r.in.FailOnWarnings && len(res.Warnings) > 0 {
		res.OK = false
		res.Errors = append(res.Errors, bundle.Issue{
			Code:    CodeFailOnWarnings,
			Message: "verified with warnings and failOnWarnings is set",
		})
	}
	if res.Errors == nil {
		res.Errors = []bundle.Issue{}
	}
	if res.Warnings == nil {
		res.Warnings = []bundle.Issue{}
	}
	return res
}

func (r *run) fail(issue bundle.Issue) {
	r.errors = append(r.errors, issue)
}

func (r *run) warn(issue bundle.Issue) {
	r.warnings = append(r.warnings, issue)
}

func (r *run) loadManifest() (bundle.Manifest, bool) {
	b, err := r.in.Read(PathManifest)
	if err != nil {
		r.fail(bundle.Issue{Code: CodeManifestMissing, Path: PathManifest, Message: "manifest is required"})
		return bundle.Manifest{}, false
	}
	var m bundle.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		r.fail(bundle.Issue{Code: CodeManifestInvalid, Path: PathManifest, Message: "invalid manifest json", Detail: err.Error()})
		return bundle.Manifest{}, false
	}
	return m, true
}

// loadSurface reads an optional surface file, applying the strictness table
// when it is missing. Returns (bytes, present). A missing required surface is
// recorded as an error; warn-if-missing surfaces get a structured warning.
func (r *run) loadSurface(surface Surface, path, missingCode string) ([]byte, bool) {
	b, err := r.in.Read(path)
	if err == nil {
		return b, true
	}
	switch requirementFor(r.in.Kind, surface, r.in.Strict) {
	case Required:
		r.fail(bundle.Issue{Code: missingCode, Path: path, Message: "required surface is missing"})
	case WarnIfMissing:
		r.warn(bundle.Issue{Code: missingWarnCode[surface], Path: path, Message: "surface is missing"})
	}
	return nil, false
}

func (r *run) checkRevocationList() *governance.RevocationList {
	b, ok := r.loadSurface(SurfaceRevocationList, PathRevocationList, CodeRevocationListMissing)
	if !ok {
		return nil
	}
	var list governance.RevocationList
	if err := json.Unmarshal(b, &list); err != nil {
		r.fail(bundle.Issue{Code: CodeRevocationListInvalid, Path: PathRevocationList, Message: "invalid revocation list json", Detail: err.Error()})
		return nil
	}
	if list.SchemaVersion != governance.SchemaRevocationV1 {
		r.fail(bundle.Issue{Code: CodeRevocationListInvalid, Path: PathRevocationList, Message: "unknown schemaVersion", Detail: list.SchemaVersion})
		return nil
	}
	// A present-but-unverifiable list is fatal in both modes.
	if r.in.Anchors.HasRoots() {
		if err := governance.VerifyRevocationList(list, r.in.Anchors); err != nil {
			r.fail(bundle.Issue{Code: CodeRevocationListInvalid, Path: PathRevocationList, Message: "revocation list signature invalid", Detail: err.Error()})
			return nil
		}
	}
	return &list
}

func (r *run) checkPolicy(list *governance.RevocationList) *governance.Policy {
	b, ok := r.loadSurface(SurfaceGovernancePolicy, PathGovernancePolicy, CodePolicyMissing)
	if !ok {
		return nil
	}
	policy, err := governance.ParsePolicy(b)
	if err != nil {
		r.fail(bundle.Issue{Code: CodePolicyInvalid, Path: PathGovernancePolicy, Message: "invalid governance policy", Detail: err.Error()})
		return nil
	}
	if policy.V2 != nil {
		if !r.in.Anchors.HasRoots() {
			// Without roots a v2 policy cannot be validated; strict mode has
			// already failed, non-strict treats the policy as unusable.
			r.warn(bundle.Issue{Code: WarnGovernancePolicyMissing, Path: PathGovernancePolicy, Message: "v2 policy present but no trusted roots supplied"})
			return nil
		}
		if err := governance.VerifyPolicyV2(*policy.V2, list, r.in.Anchors); err != nil {
			r.fail(bundle.Issue{Code: CodePolicyInvalid, Path: PathGovernancePolicy, Message: "governance policy rejected", Detail: err.Error()})
			return nil
		}
	}
	return &policy
}

func (r *run) checkAttestation(manifestHash string, policy *governance.Policy, list *governance.RevocationList) {
	b, ok := r.loadSurface(SurfaceHeadAttestation, PathHeadAttestation, CodeAttestationMissing)
	if !ok {
		return
	}
	var att HeadAttestation
	if err := json.Unmarshal(b, &att); err != nil {
		r.fail(bundle.Issue{Code: CodeAttestationInvalid, Path: PathHeadAttestation, Message: "invalid attestation json", Detail: err.Error()})
		return
	}
	if att.SchemaVersion != SchemaHeadAttestationV1 {
		r.fail(bundle.Issue{Code: CodeAttestationInvalid, Path: PathHeadAttestation, Message: "unknown schemaVersion", Detail: att.SchemaVersion})
		return
	}
	if canonhash.StripPrefix(att.ManifestHash) != manifestHash {
		r.fail(bundle.Issue{Code: CodeAttestationMismatch, Path: PathHeadAttestation, Message: "attestation does not reference this manifest"})
		return
	}
	r.checkSignedArtifact(signedArtifact{
		path:            PathHeadAttestation,
		role:            governance.RoleBundleHeadAttestation,
		subjectType:     att.SubjectType,
		scope:           att.Scope,
		purpose:         att.Purpose,
		signedAt:        att.SignedAt,
		timestampProof:  att.TimestampProof,
		envelope:        att.Signature,
		payload:         att,
		unauthorized:    bundle.Issue{Code: CodeAttestationUnauthorized, Path: PathHeadAttestation, Message: "bundle head attestation signer not authorized"},
		invalidSig:      bundle.Issue{Code: CodeAttestationSignature, Path: PathHeadAttestation, Message: "attestation signature invalid"},
		missingKey:      bundle.Issue{Code: CodeSignerUnresolved, Path: PathHeadAttestation, Message: "signer keyId could not be resolved to a public key"},
		missingEnvelope: bundle.Issue{Code: CodeAttestationInvalid, Path: PathHeadAttestation, Message: "attestation signature is required"},
	}, policy, list)
}

func (r *run) checkReport(manifestHash string, policy *governance.Policy, list *governance.RevocationList) {
	b, ok := r.loadSurface(SurfaceVerificationReport, PathVerificationReport, CodeReportMissing)
	if !ok {
		return
	}
	var report VerificationReport
	if err := json.Unmarshal(b, &report); err != nil {
		r.fail(bundle.Issue{Code: CodeReportInvalid, Path: PathVerificationReport, Message: "invalid verification report json", Detail: err.Error()})
		return
	}
	if report.SchemaVersion != SchemaVerificationReportV1 {
		r.fail(bundle.Issue{Code: CodeReportInvalid, Path: PathVerificationReport, Message: "unknown schemaVersion", Detail: report.SchemaVersion})
		return
	}
	if canonhash.StripPrefix(report.ManifestHash) != manifestHash {
		r.fail(bundle.Issue{Code: CodeReportMismatch, Path: PathVerificationReport, Message: "report does not reference this manifest"})
		return
	}
	r.checkSignedArtifact(signedArtifact{
		path:            PathVerificationReport,
		role:            governance.RoleVerificationReport,
		subjectType:     report.SubjectType,
		scope:           report.Scope,
		purpose:         report.Purpose,
		signedAt:        report.SignedAt,
		timestampProof:  report.TimestampProof,
		envelope:        report.Signature,
		payload:         report,
		unauthorized:    bundle.Issue{Code: CodeReportUnauthorized, Path: PathVerificationReport, Message: "verification report signer not authorized"},
		invalidSig:      bundle.Issue{Code: CodeReportSignature, Path: PathVerificationReport, Message: "verification report signature invalid"},
		missingKey:      bundle.Issue{Code: CodeSignerUnresolved, Path: PathVerificationReport, Message: "signer keyId could not be resolved to a public key"},
		missingEnvelope: bundle.Issue{Code: CodeReportInvalid, Path: PathVerificationReport, Message: "verification report signature is required"},
	}, policy, list)
}

type signedArtifact struct {
	path            string
	role            governance.Role
	subjectType     string
	scope           string
	purpose         string
	signedAt        string
	timestampProof  *governance.TimestampProof
	envelope        *signature.Envelope
	payload         any
	unauthorized    bundle.Issue
	invalidSig      bundle.Issue
	missingKey      bundle.Issue
	missingEnvelope bundle.Issue
}

// checkSignedArtifact applies the shared signer discipline: payload hash with
// signature and timestamp proof excluded, policy authorization, signature
// verification against the resolved key, then the revocation timeline.
// An invalid signature is fatal in both modes.
func (r *run) checkSignedArtifact(a signedArtifact, policy *governance.Policy, list *governance.RevocationList) {
	if a.envelope == nil {
		r.fail(a.missingEnvelope)
		return
	}
	keyID := strings.TrimSpace(a.envelope.SignerKeyID)

	if policy != nil {
		d := governance.AuthorizeSigner(*policy, a.subjectType, a.role, keyID, a.scope, a.purpose, r.in.Lifecycles)
		if !d.Authorized {
			issue := a.unauthorized
			issue.Detail = d.Reason
			r.fail(issue)
			return
		}
	}

	pub, ok := r.in.Anchors.Signers[keyID]
	if !ok {
		r.fail(a.missingKey)
		return
	}
	payloadHash, err := canonhash.HashCanonical(a.payload, "signature", "timestampProof")
	if err != nil {
		issue := a.invalidSig
		issue.Detail = err.Error()
		r.fail(issue)
		return
	}
	verified, err := signature.VerifyEnvelope(*a.envelope, payloadHash, pub)
	if err != nil || !verified {
		issue := a.invalidSig
		if err != nil {
			issue.Detail = err.Error()
		}
		r.fail(issue)
		return
	}

	if list == nil {
		return
	}
	et, err := governance.ResolveEffectiveTime(a.signedAt, payloadHash, a.timestampProof, r.in.Anchors)
	if err != nil {
		issue := a.invalidSig
		issue.Detail = err.Error()
		r.fail(issue)
		return
	}
	if check := governance.CheckRevocation(keyID, et, list); check.Revoked {
		message := "signer key is revoked at the effective signing time"
		if check.Code == CodeSigningTimeUnprovable {
			message = "signing time cannot be proven against the revocation timeline"
		}
		r.fail(bundle.Issue{Code: check.Code, Path: a.path, Message: message})
	}
}

func (r *run) checkPricing(manifestHash string) {
	b, ok := r.loadSurface(SurfacePricingSignatures, PathPricingSignatures, CodePricingMissing)
	if !ok {
		return
	}
	var pricing PricingMatrixSignatures
	if err := json.Unmarshal(b, &pricing); err != nil {
		r.fail(bundle.Issue{Code: CodePricingInvalid, Path: PathPricingSignatures, Message: "invalid pricing signatures json", Detail: err.Error()})
		return
	}
	if pricing.SchemaVersion != SchemaPricingSignaturesV1 {
		r.fail(bundle.Issue{Code: CodePricingInvalid, Path: PathPricingSignatures, Message: "unknown schemaVersion", Detail: pricing.SchemaVersion})
		return
	}
	if canonhash.StripPrefix(pricing.ManifestHash) != manifestHash {
		r.fail(bundle.Issue{Code: CodePricingInvalid, Path: PathPricingSignatures, Message: "pricing signatures do not reference this manifest"})
		return
	}
	if len(pricing.Signatures) == 0 {
		r.fail(bundle.Issue{Code: CodePricingInvalid, Path: PathPricingSignatures, Message: "at least one pricing signature is required"})
		return
	}
	for _, env := range pricing.Signatures {
		pub, ok := r.in.Anchors.PricingSigners[env.SignerKeyID]
		if !ok {
			r.fail(bundle.Issue{Code: CodePricingUntrusted, Path: PathPricingSignatures, Message: "pricing signer is not a trusted anchor", Detail: env.SignerKeyID})
			continue
		}
		verified, err := signature.VerifyEnvelope(env, pricing.PricingMatrixHash, pub)
		if err != nil || !verified {
			r.fail(bundle.Issue{Code: CodePricingSignature, Path: PathPricingSignatures, Message: "pricing signature invalid", Detail: env.SignerKeyID})
		}
	}
}

func sortIssues(issues []bundle.Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Code < issues[j].Code
	})
}
