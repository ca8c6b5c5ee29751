package shielded

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Address identifies an account by its EdDSA public key on the BN254 twisted Edwards curve.
// Its text form is the base58 encoding of the compressed key.
type Address struct {
	key eddsa.PublicKey
}

// AddressFromPublicKey wraps an EdDSA public key.
func AddressFromPublicKey(pk eddsa.PublicKey) Address {
	return Address{key: pk}
}

// AddressFromBytes decodes a compressed public key.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if _, err := a.key.SetBytes(b); err != nil {
		return Address{}, errors.Wrap(ErrInvalidAddress, err.Error())
	}
	return a, nil
}

// ParseAddress decodes the base58 text form of an address.
func ParseAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "base58: %v", err)
	}
	return AddressFromBytes(raw)
}

// PublicKey returns the underlying EdDSA key.
func (a Address) PublicKey() eddsa.PublicKey {
	return a.key
}

// Bytes returns the compressed public key.
func (a Address) Bytes() []byte {
	return a.key.Bytes()
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return base58.Encode(a.Bytes())
}

// IsZero reports whether a is the unset address.
func (a Address) IsZero() bool {
	return a.key.A.X.IsZero() && a.key.A.Y.IsZero()
}

// Equal reports whether both addresses hold the same key.
func (a Address) Equal(b Address) bool {
	return a.key.A.Equal(&b.key.A)
}

// fields returns the field encoding of the address: the affine coordinates of the key.
func (a Address) fields() [2]fr.Element {
	return [2]fr.Element{a.key.A.X, a.key.A.Y}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
