// Package crypto is the engine's signature capability boundary. The engine
// never chooses signature algorithms; it only needs to verify a supplied
// signature against a supplied public key. Deployments plug in their own
// Verifier; the ed25519 implementation is the self-contained default.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/pkg/errors"
)

// Verifier checks a signature over a payload against a public key.
type Verifier interface {
	Verify(signerKey, payload, signature []byte) bool
}

type ed25519Verifier struct{}

// NewEd25519Verifier returns the default Verifier.
func NewEd25519Verifier() Verifier {
	return ed25519Verifier{}
}

func (ed25519Verifier) Verify(signerKey, payload, signature []byte) bool {
	if len(signerKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signerKey), payload, signature)
}

// KeyPair signs payloads in tests and tooling.
type KeyPair struct {
	Public  []byte
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh signing key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "key generation failed")
	}
	return &KeyPair{Public: pub, private: priv}, nil
}

// Sign signs a payload with the pair's private key.
func (kp *KeyPair) Sign(payload []byte) []byte {
	return ed25519.Sign(kp.private, payload)
}
