// keys.go - Account keys and signatures.
//
// Signatures are EdDSA over the BN254 twisted Edwards curve with MiMC as the challenge hash,
// which is what the transfer circuit verifies in-proof.

package shielded

import (
	"crypto/rand"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// KeyPair is an account's signing key.
type KeyPair struct {
	priv *eddsa.PrivateKey
}

// GenerateKeyPair creates a fresh key pair using crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := eddsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate eddsa key")
	}
	return &KeyPair{priv: priv}, nil
}

// KeyPairFromBytes restores a key pair serialized with Bytes.
func KeyPairFromBytes(b []byte) (*KeyPair, error) {
	priv := new(eddsa.PrivateKey)
	if _, err := priv.SetBytes(b); err != nil {
		return nil, errors.Wrap(err, "decode eddsa key")
	}
	return &KeyPair{priv: priv}, nil
}

// ParseKeyPair decodes the base58 form produced by KeyPair.String.
func ParseKeyPair(s string) (*KeyPair, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	return KeyPairFromBytes(raw)
}

// Bytes serializes the private key.
func (k *KeyPair) Bytes() []byte {
	return k.priv.Bytes()
}

// String returns the base58 form of the private key. Treat it as a secret.
func (k *KeyPair) String() string {
	return base58.Encode(k.Bytes())
}

// Address returns the account address of the key pair.
func (k *KeyPair) Address() Address {
	return AddressFromPublicKey(k.priv.PublicKey)
}

// Sign signs a single field element.
func (k *KeyPair) Sign(msg fr.Element) ([]byte, error) {
	return k.priv.Sign(ElementBytes(msg), mimc.NewMiMC())
}

// SignRecord signs the commitment of r. The returned signature is what a proof service
// checks against r.Sender.
func (k *KeyPair) SignRecord(r TransactionRecord) ([]byte, error) {
	cm, err := Commit(r)
	if err != nil {
		return nil, err
	}
	return k.Sign(cm)
}

// SignDeposit authorizes adding amount to the pool under the given commitment.
func (k *KeyPair) SignDeposit(hash fr.Element, amount uint64) ([]byte, error) {
	return k.Sign(DepositDigest(hash, amount))
}

// VerifySignature checks sig over msg under addr.
func VerifySignature(addr Address, msg fr.Element, sig []byte) bool {
	pk := addr.PublicKey()
	ok, err := pk.Verify(sig, ElementBytes(msg), mimc.NewMiMC())
	return err == nil && ok
}

// VerifyRecordSignature checks that r.Sender signed the commitment of r.
func VerifyRecordSignature(r TransactionRecord, sig []byte) error {
	cm, err := Commit(r)
	if err != nil {
		return err
	}
	if !VerifySignature(r.Sender, cm, sig) {
		return ErrProofInvalid
	}
	return nil
}

// VerifyDepositSignature checks a deposit authorization.
func VerifyDepositSignature(sender Address, hash fr.Element, amount uint64, sig []byte) error {
	if !VerifySignature(sender, DepositDigest(hash, amount), sig) {
		return ErrSignatureInvalid
	}
	return nil
}
