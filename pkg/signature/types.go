package signature

// Envelope is the wire form of a detached signature over a hash digest. The
// signed message is always the raw 32 digest bytes, never the hex string.
type Envelope struct {
	Algorithm   string `json:"algorithm"`
	SignerKeyID string `json:"signerKeyId"`
	Signature   string `json:"signature"`
	SignedAt    string `json:"signedAt,omitempty"`
}

const AlgorithmEd25519 = "ed25519"
