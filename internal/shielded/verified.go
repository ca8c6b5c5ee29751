package shielded

import "github.com/consensys/gnark-crypto/ecc/bn254/fr"

// VerifiedTransaction is the artifact produced by a proof service. It binds Hash to Record;
// Proof is opaque to this package and only meaningful to a Verifier.
type VerifiedTransaction struct {
	Hash   fr.Element
	Record TransactionRecord
	Proof  []byte
}

// Verifier re-checks a VerifiedTransaction at consumption time. The check must be derived
// from the artifact's own Hash and Record; failures wrap ErrProofInvalid.
type Verifier interface {
	VerifyTransaction(vt *VerifiedTransaction) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(vt *VerifiedTransaction) error

// VerifyTransaction calls f(vt).
func (f VerifierFunc) VerifyTransaction(vt *VerifiedTransaction) error {
	return f(vt)
}
