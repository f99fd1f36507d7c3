// Package anchors loads out-of-band trust anchors from a YAML file. Anchors
// are never read from the bundle under verification; the caller supplies the
// file path explicitly (CLI flag or environment).
package anchors

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nooterra/nooterra-sub010/pkg/governance"
	"github.com/nooterra/nooterra-sub010/pkg/signature"
)

// File is the on-disk anchor format: keyId -> PEM-encoded ed25519 public key
// per trust class.
type File struct {
	Roots           map[string]string `yaml:"roots"`
	Signers         map[string]string `yaml:"signers"`
	TimeAuthorities map[string]string `yaml:"timeAuthorities"`
	PricingSigners  map[string]string `yaml:"pricingSigners"`
}

// Load reads and parses an anchor file into resolved public keys.
func Load(path string) (governance.Anchors, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return governance.Anchors{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (governance.Anchors, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return governance.Anchors{}, fmt.Errorf("parse anchors: %w", err)
	}

	var out governance.Anchors
	var err error
	if out.Roots, err = parseClass("roots", f.Roots); err != nil {
		return governance.Anchors{}, err
	}
	if out.Signers, err = parseClass("signers", f.Signers); err != nil {
		return governance.Anchors{}, err
	}
	if out.TimeAuthorities, err = parseClass("timeAuthorities", f.TimeAuthorities); err != nil {
		return governance.Anchors{}, err
	}
	if out.PricingSigners, err = parseClass("pricingSigners", f.PricingSigners); err != nil {
		return governance.Anchors{}, err
	}
	return out, nil
}

func parseClass(class string, in map[string]string) (map[string]ed25519.PublicKey, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]ed25519.PublicKey, len(in))
	for keyID, pemText := range in {
		pub, err := signature.ParsePublicKeyPEM(pemText)
		if err != nil {
			return nil, fmt.Errorf("%s key %q: %w", class, keyID, err)
		}
		out[keyID] = pub
	}
	return out, nil
}
