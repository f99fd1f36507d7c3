package governance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

var (
	ErrUnknownSchemaVersion = errors.New("unknown schemaVersion")
	ErrPolicyUnsigned       = errors.New("v2 policy requires a signature")
	ErrRootNotTrusted       = errors.New("policy signer is not a trusted governance root")
	ErrPolicySignature      = errors.New("policy signature did not verify")
	ErrRevocationBinding    = errors.New("policy revocationListHash does not match revocation list")
)

// ParsePolicy decodes a policy document, dispatching on schemaVersion.
// Unknown versions are rejected at the boundary, never best-effort parsed.
func ParsePolicy(b []byte) (Policy, error) {
	var probe struct {
		SchemaVersion string `json:"schemaVersion"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return Policy{}, fmt.Errorf("invalid policy json: %w", err)
	}
	switch strings.TrimSpace(probe.SchemaVersion) {
	case SchemaPolicyV1:
		var p PolicyV1
		if err := json.Unmarshal(b, &p); err != nil {
			return Policy{}, fmt.Errorf("invalid policy json: %w", err)
		}
		return Policy{V1: &p}, nil
	case SchemaPolicyV2:
		var p PolicyV2
		if err := json.Unmarshal(b, &p); err != nil {
			return Policy{}, fmt.Errorf("invalid policy json: %w", err)
		}
		if p.Signature == nil {
			return Policy{}, ErrPolicyUnsigned
		}
		return Policy{V2: &p}, nil
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownSchemaVersion, probe.SchemaVersion)
	}
}

func (p Policy) rules() map[string]map[string]Rule {
	switch {
	case p.V2 != nil:
		return p.V2.Rules
	case p.V1 != nil:
		return p.V1.Rules
	default:
		return nil
	}
}

// AuthorizeSigner evaluates the policy rule for (subjectType, role) against a
// signer key, scope and purpose. lifecycles is the resolved signer lifecycle
// table for requireGoverned rules.
func AuthorizeSigner(p Policy, subjectType string, role Role, signerKeyID, scope, purpose string, lifecycles map[string]SignerLifecycle) Decision {
	byRole, ok := p.rules()[subjectType]
	if !ok {
		return Decision{Reason: ReasonNoRule}
	}
	rule, ok := byRole[string(role)]
	if !ok {
		return Decision{Reason: ReasonNoRule}
	}
	// v2 policies always pin the signer set; a rule without one is malformed.
	if p.V2 != nil && len(rule.AllowedKeyIDs) == 0 {
		return Decision{Reason: ReasonV2RequiresKeyIDs}
	}
	if len(rule.AllowedKeyIDs) > 0 && !containsString(rule.AllowedKeyIDs, signerKeyID) {
		return Decision{Reason: ReasonKeyNotAllowed}
	}
	if len(rule.AllowedScopes) > 0 && !containsString(rule.AllowedScopes, scope) {
		return Decision{Reason: ReasonScopeNotAllowed}
	}
	if rule.RequireGoverned {
		if _, ok := lifecycles[signerKeyID]; !ok {
			return Decision{Reason: ReasonNotGoverned}
		}
	}
	if rule.RequiredPurpose != "" && rule.RequiredPurpose != purpose {
		return Decision{Reason: ReasonPurposeMismatch}
	}
	return Decision{Authorized: true}
}

// HashPolicyV2 computes the policy's own hash with the self-referential
// fields excluded.
func HashPolicyV2(p PolicyV2) (string, error) {
	return canonhash.HashCanonical(p, "policyHash", "signature")
}

// VerifyPolicyV2 checks the governance root signature and, when a revocation
// list is supplied, the hash binding between policy and list.
func VerifyPolicyV2(p PolicyV2, list *RevocationList, anchors Anchors) error {
	if p.Signature == nil {
		return ErrPolicyUnsigned
	}
	root, ok := anchors.Roots[p.Signature.SignerKeyID]
	if !ok {
		return ErrRootNotTrusted
	}
	hash, err := HashPolicyV2(p)
	if err != nil {
		return err
	}
	ok, err = signature.VerifyEnvelope(*p.Signature, hash, root)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPolicySignature
	}
	if list != nil {
		listHash, err := HashRevocationList(*list)
		if err != nil {
			return err
		}
		if canonhash.StripPrefix(p.RevocationListHash) != listHash {
			return ErrRevocationBinding
		}
	}
	return nil
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
