package crypto

// FakeVerifier admits or refuses every signature, for tests that exercise
// admission control without real keys.
type FakeVerifier struct {
	Reject bool
}

// Verify implements Verifier.
func (f *FakeVerifier) Verify(signerKey, payload, signature []byte) bool {
	return !f.Reject
}
