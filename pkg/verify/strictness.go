package verify

// Requirement is the table-driven outcome for a missing protocol surface.
type Requirement int

const (
	Required Requirement = iota
	WarnIfMissing
	Skip
)

type Kind string

const (
	KindEvidence  Kind = "evidence"
	KindAgreement Kind = "agreement"
)

type Surface string

const (
	SurfaceGovernancePolicy   Surface = "governance_policy"
	SurfaceRevocationList     Surface = "revocation_list"
	SurfaceHeadAttestation    Surface = "head_attestation"
	SurfaceVerificationReport Surface = "verification_report"
	SurfacePricingSignatures  Surface = "pricing_signatures"
)

// Outcome holds the strict and non-strict requirement for one surface.
// Security-invariant checks (paths, duplicates, symlinks, hash mismatches)
// are not in this table: they fail in both modes unconditionally.
type Outcome struct {
	Strict    Requirement
	NonStrict Requirement
}

var strictness = map[Kind]map[Surface]Outcome{
	KindEvidence: {
		SurfaceGovernancePolicy:   {Strict: Required, NonStrict: WarnIfMissing},
		SurfaceRevocationList:     {Strict: Required, NonStrict: WarnIfMissing},
		SurfaceHeadAttestation:    {Strict: Required, NonStrict: WarnIfMissing},
		SurfaceVerificationReport: {Strict: Required, NonStrict: WarnIfMissing},
		SurfacePricingSignatures:  {Strict: Skip, NonStrict: Skip},
	},
	KindAgreement: {
		SurfaceGovernancePolicy:   {Strict: Required, NonStrict: WarnIfMissing},
		SurfaceRevocationList:     {Strict: Required, NonStrict: Skip},
		SurfaceHeadAttestation:    {Strict: Required, NonStrict: WarnIfMissing},
		SurfaceVerificationReport: {Strict: Skip, NonStrict: Skip},
		SurfacePricingSignatures:  {Strict: Required, NonStrict: WarnIfMissing},
	},
}

// requirementFor resolves the table entry for a (kind, surface) pair in the
// requested mode. Unknown kinds fall back to evidence semantics.
func requirementFor(kind Kind, surface Surface, strict bool) Requirement {
	bySurface, ok := strictness[kind]
	if !ok {
		bySurface = strictness[KindEvidence]
	}
	outcome, ok := bySurface[surface]
	if !ok {
		return Skip
	}
	if strict {
		return outcome.Strict
	}
	return outcome.NonStrict
}

const (
	WarnGovernancePolicyMissing   = "WARN_GOVERNANCE_POLICY_MISSING"
	WarnRevocationListMissing     = "WARN_REVOCATION_LIST_MISSING"
	WarnAttestationMissing        = "WARN_ATTESTATION_MISSING"
	WarnVerificationReportMissing = "WARN_VERIFICATION_REPORT_MISSING"
	WarnPricingSignaturesMissing  = "WARN_PRICING_SIGNATURES_MISSING"
)

var missingWarnCode = map[Surface]string{
	SurfaceGovernancePolicy:   WarnGovernancePolicyMissing,
	SurfaceRevocationList:     WarnRevocationListMissing,
	SurfaceHeadAttestation:    WarnAttestationMissing,
	SurfaceVerificationReport: WarnVerificationReportMissing,
	SurfacePricingSignatures:  WarnPricingSignaturesMissing,
}
