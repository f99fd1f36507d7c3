package signature

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
)

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidKey           = errors.New("invalid key material")
	ErrInvalidEncoding      = errors.New("invalid encoding")
)

// SignDigest signs the raw digest bytes. Malformed key material is a typed
// error; it never produces a silently wrong signature.
func SignDigest(priv ed25519.PrivateKey, digest []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	if len(digest) != 32 {
		return nil, ErrInvalidEncoding
	}
	return ed25519.Sign(priv, digest), nil
}

// VerifyDigest reports whether sig is a valid signature over digest. A
// signature that does not verify is a normal false outcome, not an error;
// errors are reserved for malformed inputs.
func VerifyDigest(pub ed25519.PublicKey, digest, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, ErrInvalidKey
	}
	if len(digest) != 32 {
		return false, ErrInvalidEncoding
	}
	if len(sig) != ed25519.SignatureSize {
		return false, ErrInvalidEncoding
	}
	return ed25519.Verify(pub, digest, sig), nil
}

// SignEnvelope signs the digest identified by hashHex and wraps it in an
// Envelope carrying the signer's key id.
func SignEnvelope(priv ed25519.PrivateKey, hashHex, signerKeyID, signedAt string) (Envelope, error) {
	digest, err := canonhash.DecodeDigest(hashHex)
	if err != nil {
		return Envelope{}, ErrInvalidEncoding
	}
	sig, err := SignDigest(priv, digest)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Algorithm:   AlgorithmEd25519,
		SignerKeyID: strings.TrimSpace(signerKeyID),
		Signature:   base64.StdEncoding.EncodeToString(sig),
		SignedAt:    strings.TrimSpace(signedAt),
	}, nil
}

// VerifyEnvelope checks env against the digest identified by hashHex using the
// already-resolved public key. Resolving SignerKeyID to a key is the caller's
// concern (governance policy or trust anchors).
func VerifyEnvelope(env Envelope, hashHex string, pub ed25519.PublicKey) (bool, error) {
	if strings.ToLower(strings.TrimSpace(env.Algorithm)) != AlgorithmEd25519 {
		return false, ErrUnsupportedAlgorithm
	}
	digest, err := canonhash.DecodeDigest(hashHex)
	if err != nil {
		return false, ErrInvalidEncoding
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Signature))
	if err != nil {
		return false, ErrInvalidEncoding
	}
	return VerifyDigest(pub, digest, sig)
}

// ParsePublicKeyPEM decodes a PEM-encoded ed25519 public key, the trust
// anchor wire form.
func ParsePublicKeyPEM(pemText string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, ErrInvalidKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ErrInvalidKey
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return pub, nil
}

// MarshalPublicKeyPEM encodes an ed25519 public key in PKIX PEM form.
func MarshalPublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrInvalidKey
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", ErrInvalidKey
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
