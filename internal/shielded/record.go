// record.go - Transaction records and the commitment protocol.
//
// A TransactionRecord is the canonical description of a value movement out of the pool.
// Its encoding is a fixed-order list of BN254 scalar field elements; the commitment is the
// MiMC hash of that list. The same ordering is reproduced inside the transfer circuit, so
// signatures and hashes are portable between native code and proofs.

package shielded

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// EncodedRecordLen is the number of field elements in a record encoding.
const EncodedRecordLen = 6

// TransactionRecord describes a single exit from the pool. It is never mutated once built.
type TransactionRecord struct {
	Sender    Address    // Signer of the record
	Recipient Address    // Account paid on the base ledger
	Amount    uint64     // Value moved, strictly positive
	Nonce     fr.Element // Must equal the pool's NextNonce when consumed
}

// NewRecord builds a record with an integer nonce.
func NewRecord(sender, recipient Address, amount, nonce uint64) TransactionRecord {
	r := TransactionRecord{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
	}
	r.Nonce.SetUint64(nonce)
	return r
}

// Equal reports whether two records are field-for-field identical.
func (r TransactionRecord) Equal(o TransactionRecord) bool {
	return r.Sender.Equal(o.Sender) &&
		r.Recipient.Equal(o.Recipient) &&
		r.Amount == o.Amount &&
		r.Nonce.Equal(&o.Nonce)
}

// NonceUint64 returns the record nonce as an integer and whether it fits in 64 bits.
func (r TransactionRecord) NonceUint64() (uint64, bool) {
	n := r.Nonce.BigInt(new(big.Int))
	if !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

// Encode returns the canonical field encoding of r:
// sender.X, sender.Y, recipient.X, recipient.Y, amount, nonce.
func Encode(r TransactionRecord) ([]fr.Element, error) {
	if r.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	sender := r.Sender.fields()
	recipient := r.Recipient.fields()
	var amount fr.Element
	amount.SetUint64(r.Amount)
	return []fr.Element{sender[0], sender[1], recipient[0], recipient[1], amount, r.Nonce}, nil
}

// Commit computes the MiMC commitment of a record's encoding.
func Commit(r TransactionRecord) (fr.Element, error) {
	elems, err := Encode(r)
	if err != nil {
		return fr.Element{}, err
	}
	return hashElements(elems...), nil
}

// DepositDigest is the message a depositor signs: MiMC(commitment, amount).
func DepositDigest(hash fr.Element, amount uint64) fr.Element {
	var a fr.Element
	a.SetUint64(amount)
	return hashElements(hash, a)
}

// hashElements computes the MiMC hash of a list of field elements.
func hashElements(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// ElementBytes returns the 32-byte big-endian form of a field element.
func ElementBytes(e fr.Element) []byte {
	b := e.Bytes()
	return b[:]
}

// ParseElement parses a decimal or 0x-prefixed hex string into a field element.
// Values at or above the modulus are rejected.
func ParseElement(s string) (fr.Element, error) {
	var n big.Int
	if _, ok := n.SetString(s, 0); !ok || n.Sign() < 0 || n.Cmp(fr.Modulus()) >= 0 {
		return fr.Element{}, ErrInvalidElement
	}
	var e fr.Element
	e.SetBigInt(&n)
	return e, nil
}
