package transfer

import (
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/signature/eddsa"
)

// CircuitTransfer proves that Hash commits to (Sender, Recipient, Amount, Nonce) and that
// Sender signed Hash. Everything except the signature is public.
type CircuitTransfer struct {
	// Public
	Hash      frontend.Variable `gnark:",public"`
	Sender    eddsa.PublicKey   `gnark:",public"`
	Recipient eddsa.PublicKey   `gnark:",public"`
	Amount    frontend.Variable `gnark:",public"`
	Nonce     frontend.Variable `gnark:",public"`

	// Private
	Signature eddsa.Signature
}

func (c *CircuitTransfer) Define(api frontend.API) error {
	// (1) Amount is a non-zero 64-bit integer
	api.AssertIsDifferent(c.Amount, 0)
	api.ToBinary(c.Amount, 64)

	// (2) Commitment over the record encoding
	cm, err := CommitRecord(api, c.Sender, c.Recipient, c.Amount, c.Nonce)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.Hash, cm)

	// (3) Sender's signature over the commitment
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	return eddsa.Verify(curve, c.Signature, c.Hash, c.Sender, &hasher)
}

// CommitRecord is the in-circuit record commitment. It hashes the same field order as
// shielded.Commit.
func CommitRecord(api frontend.API, sender, recipient eddsa.PublicKey, amount, nonce frontend.Variable) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(sender.A.X, sender.A.Y)
	h.Write(recipient.A.X, recipient.A.Y)
	h.Write(amount, nonce)
	return h.Sum(), nil
}
