package governance

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return pub, priv
}

func signedPolicyV2(t *testing.T, rules map[string]map[string]Rule, list RevocationList, rootPriv ed25519.PrivateKey) PolicyV2 {
	t.Helper()
	listHash, err := HashRevocationList(list)
	if err != nil {
		t.Fatalf("list hash: %v", err)
	}
	p := PolicyV2{
		SchemaVersion:      SchemaPolicyV2,
		Rules:              rules,
		RevocationListHash: listHash,
	}
	hash, err := HashPolicyV2(p)
	if err != nil {
		t.Fatalf("policy hash: %v", err)
	}
	env, err := signature.SignEnvelope(rootPriv, hash, "root-1", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p.PolicyHash = hash
	p.Signature = &env
	return p
}

func signedRevocationList(t *testing.T, revocations []Revocation, rotations []Rotation, rootPriv ed25519.PrivateKey) RevocationList {
	t.Helper()
	l := RevocationList{
		SchemaVersion: SchemaRevocationV1,
		Revocations:   revocations,
		Rotations:     rotations,
	}
	hash, err := HashRevocationList(l)
	if err != nil {
		t.Fatalf("list hash: %v", err)
	}
	env, err := signature.SignEnvelope(rootPriv, hash, "root-1", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	l.Signature = &env
	return l
}

func TestParsePolicyRejectsUnknownSchemaVersion(t *testing.T) {
	_, err := ParsePolicy([]byte(`{"schemaVersion":"governance-policy-v9"}`))
	if !errors.Is(err, ErrUnknownSchemaVersion) {
		t.Fatalf("expected ErrUnknownSchemaVersion, got %v", err)
	}
}

func TestParsePolicyDispatch(t *testing.T) {
	p, err := ParsePolicy([]byte(`{"schemaVersion":"governance-policy-v1","rules":{}}`))
	if err != nil {
		t.Fatalf("parse v1: %v", err)
	}
	if p.V1 == nil || p.V2 != nil {
		t.Fatalf("expected v1 variant")
	}
	_, err = ParsePolicy([]byte(`{"schemaVersion":"governance-policy-v2","rules":{}}`))
	if !errors.Is(err, ErrPolicyUnsigned) {
		t.Fatalf("expected ErrPolicyUnsigned for unsigned v2, got %v", err)
	}
}

func TestAuthorizeSignerKeyNotAllowed(t *testing.T) {
	rules := map[string]map[string]Rule{
		"evidence": {
			string(RoleVerificationReport): {AllowedKeyIDs: []string{"k1"}},
		},
	}
	p := Policy{V2: &PolicyV2{SchemaVersion: SchemaPolicyV2, Rules: rules}}

	d := AuthorizeSigner(p, "evidence", RoleVerificationReport, "k2", "", "", nil)
	if d.Authorized || d.Reason != ReasonKeyNotAllowed {
		t.Fatalf("expected key rejection, got %+v", d)
	}
	d = AuthorizeSigner(p, "evidence", RoleVerificationReport, "k1", "", "", nil)
	if !d.Authorized {
		t.Fatalf("expected k1 authorized, got %+v", d)
	}
}

func TestAuthorizeSignerScopeGovernedPurpose(t *testing.T) {
	rules := map[string]map[string]Rule{
		"evidence": {
			string(RoleBundleHeadAttestation): {
				AllowedKeyIDs:   []string{"k1"},
				AllowedScopes:   []string{"tenant:acme"},
				RequireGoverned: true,
				RequiredPurpose: "attestation",
			},
		},
	}
	p := Policy{V1: &PolicyV1{SchemaVersion: SchemaPolicyV1, Rules: rules}}
	lifecycles := map[string]SignerLifecycle{"k1": {KeyID: "k1", ValidFrom: "2025-01-01T00:00:00Z"}}

	cases := []struct {
		name           string
		scope, purpose string
		lifecycles     map[string]SignerLifecycle
		wantAuthorized bool
		wantReason     string
	}{
		{"authorized", "tenant:acme", "attestation", lifecycles, true, ""},
		{"bad scope", "tenant:other", "attestation", lifecycles, false, ReasonScopeNotAllowed},
		{"not governed", "tenant:acme", "attestation", nil, false, ReasonNotGoverned},
		{"bad purpose", "tenant:acme", "billing", lifecycles, false, ReasonPurposeMismatch},
	}
	for _, tc := range cases {
		d := AuthorizeSigner(p, "evidence", RoleBundleHeadAttestation, "k1", tc.scope, tc.purpose, tc.lifecycles)
		if d.Authorized != tc.wantAuthorized || d.Reason != tc.wantReason {
			t.Fatalf("%s: got %+v", tc.name, d)
		}
	}
}

func TestAuthorizeSignerNoRule(t *testing.T) {
	p := Policy{V1: &PolicyV1{SchemaVersion: SchemaPolicyV1}}
	d := AuthorizeSigner(p, "evidence", RoleVerificationReport, "k1", "", "", nil)
	if d.Authorized || d.Reason != ReasonNoRule {
		t.Fatalf("expected no-rule rejection, got %+v", d)
	}
}

func TestVerifyPolicyV2SignatureAndBinding(t *testing.T) {
	rootPub, rootPriv := testKeypair(t)
	anchors := Anchors{Roots: map[string]ed25519.PublicKey{"root-1": rootPub}}
	list := signedRevocationList(t, nil, nil, rootPriv)
	p := signedPolicyV2(t, map[string]map[string]Rule{}, list, rootPriv)

	if err := VerifyPolicyV2(p, &list, anchors); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}
	if err := VerifyRevocationList(list, anchors); err != nil {
		t.Fatalf("expected valid list, got %v", err)
	}

	// Unknown root.
	if err := VerifyPolicyV2(p, &list, Anchors{Roots: map[string]ed25519.PublicKey{"other": rootPub}}); !errors.Is(err, ErrRootNotTrusted) {
		t.Fatalf("expected ErrRootNotTrusted, got %v", err)
	}

	// Tampered rules break the signature.
	tampered := p
	tampered.Rules = map[string]map[string]Rule{"evidence": {"verification_report": {}}}
	if err := VerifyPolicyV2(tampered, &list, anchors); !errors.Is(err, ErrPolicySignature) {
		t.Fatalf("expected ErrPolicySignature, got %v", err)
	}

	// Binding to a different list fails.
	otherList := signedRevocationList(t, []Revocation{{KeyID: "kx", RevokedAt: "2026-01-01T00:00:00Z"}}, nil, rootPriv)
	if err := VerifyPolicyV2(p, &otherList, anchors); !errors.Is(err, ErrRevocationBinding) {
		t.Fatalf("expected ErrRevocationBinding, got %v", err)
	}
}

func TestCheckRevocationTimeline(t *testing.T) {
	list := &RevocationList{
		SchemaVersion: SchemaRevocationV1,
		Revocations:   []Revocation{{KeyID: "k1", RevokedAt: "2026-06-01T00:00:00Z"}},
		Rotations:     []Rotation{{OldKeyID: "k2", NewKeyID: "k3", RotatedAt: "2026-03-01T00:00:00Z"}},
	}
	at := func(s string, trustworthy bool) EffectiveTime {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return EffectiveTime{Time: ts, Trustworthy: trustworthy}
	}

	// At/after revocation: always revoked.
	if c := CheckRevocation("k1", at("2026-06-01T00:00:00Z", true), list); !c.Revoked || c.Code != CodeSignerRevoked {
		t.Fatalf("expected revoked at cutoff, got %+v", c)
	}
	if c := CheckRevocation("k1", at("2026-07-01T00:00:00Z", false), list); !c.Revoked || c.Code != CodeSignerRevoked {
		t.Fatalf("expected revoked after cutoff, got %+v", c)
	}
	// Before revocation with a proven time: usable.
	if c := CheckRevocation("k1", at("2026-05-01T00:00:00Z", true), list); c.Revoked {
		t.Fatalf("expected usable before cutoff with trustworthy time, got %+v", c)
	}
	// Before revocation with only a claimed time: fail closed.
	if c := CheckRevocation("k1", at("2026-05-01T00:00:00Z", false), list); !c.Revoked || c.Code != CodeSigningTimeUnprovable {
		t.Fatalf("expected SIGNING_TIME_UNPROVABLE, got %+v", c)
	}
	// Rotated-away key treated like a revocation at rotatedAt.
	if c := CheckRevocation("k2", at("2026-04-01T00:00:00Z", true), list); !c.Revoked || c.Code != CodeSignerRevoked {
		t.Fatalf("expected rotated key revoked, got %+v", c)
	}
	// Unlisted key: usable regardless of trustworthiness.
	if c := CheckRevocation("k9", at("2027-01-01T00:00:00Z", false), list); c.Revoked {
		t.Fatalf("expected unlisted key usable, got %+v", c)
	}
}

func TestResolveEffectiveTimeWithProof(t *testing.T) {
	authorityPub, authorityPriv := testKeypair(t)
	anchors := Anchors{TimeAuthorities: map[string]ed25519.PublicKey{"tsa-1": authorityPub}}
	messageHash := canonhash.HashFileBytes([]byte("document"))

	proof := TimestampProof{
		Timestamp:   "2026-02-01T00:00:00Z",
		MessageHash: messageHash,
		SignerKeyID: "tsa-1",
	}
	proofHash, err := canonhash.HashCanonical(proof, "signature")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	env, err := signature.SignEnvelope(authorityPriv, proofHash, "tsa-1", proof.Timestamp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	proof.Signature = env.Signature

	et, err := ResolveEffectiveTime("2026-05-05T00:00:00Z", messageHash, &proof, anchors)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !et.Trustworthy || !et.Time.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected trustworthy proof time, got %+v", et)
	}

	// Wrong message hash: fall back to the claimed time, untrusted.
	et, err = ResolveEffectiveTime("2026-05-05T00:00:00Z", canonhash.HashFileBytes([]byte("other")), &proof, anchors)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if et.Trustworthy {
		t.Fatalf("expected untrustworthy fallback, got %+v", et)
	}

	// Corrupted signature: fall back.
	bad := proof
	raw, _ := base64.StdEncoding.DecodeString(bad.Signature)
	raw[0] ^= 0x01
	bad.Signature = base64.StdEncoding.EncodeToString(raw)
	et, err = ResolveEffectiveTime("2026-05-05T00:00:00Z", messageHash, &bad, anchors)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if et.Trustworthy {
		t.Fatalf("expected untrustworthy fallback for bad proof, got %+v", et)
	}

	// No proof at all.
	et, err = ResolveEffectiveTime("2026-05-05T00:00:00Z", messageHash, nil, anchors)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if et.Trustworthy {
		t.Fatalf("claimed time must never be trustworthy, got %+v", et)
	}
}

func TestPolicyJSONRoundTrip(t *testing.T) {
	rootPub, rootPriv := testKeypair(t)
	list := signedRevocationList(t, nil, nil, rootPriv)
	p := signedPolicyV2(t, map[string]map[string]Rule{
		"evidence": {string(RoleVerificationReport): {AllowedKeyIDs: []string{"k1"}}},
	}, list, rootPriv)

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParsePolicy(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.V2 == nil {
		t.Fatalf("expected v2 variant")
	}
	anchors := Anchors{Roots: map[string]ed25519.PublicKey{"root-1": rootPub}}
	if err := VerifyPolicyV2(*parsed.V2, &list, anchors); err != nil {
		t.Fatalf("round-tripped policy failed verification: %v", err)
	}
}
