// transfer.go - Proof service for shielded exits.
//
// A Prover turns a signed TransactionRecord into a VerifiedTransaction carrying a Groth16
// proof of CircuitTransfer. A Verifier re-checks that proof against the artifact's own hash
// and record when the pool consumes it.

package transfer

import (
	"bytes"
	"crypto/sha256"
	"math/big"
	"os"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	nativeeddsa "github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shieldpool/internal/shielded"
)

// Compile builds the constraint system of CircuitTransfer over BN254.
func Compile() (constraint.ConstraintSystem, error) {
	var c CircuitTransfer
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return nil, errors.Wrap(err, "compile transfer circuit")
	}
	return ccs, nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys loads the Groth16 keys for ccs from disk, or generates and saves them
// when either file is missing or unreadable.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "groth16 setup")
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, errors.Wrap(err, "save proving key")
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, errors.Wrap(err, "save verifying key")
	}
	return pk, vk, nil
}

// BuildWitness constructs the full assignment of CircuitTransfer. The signature must be a
// well-formed EdDSA signature.
func BuildWitness(hash fr.Element, rec shielded.TransactionRecord, sig []byte) (*CircuitTransfer, error) {
	w := publicAssignment(hash, rec)
	var s nativeeddsa.Signature
	if _, err := s.SetBytes(sig); err != nil {
		return nil, errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	w.Signature.R.X = s.R.X.BigInt(new(big.Int))
	w.Signature.R.Y = s.R.Y.BigInt(new(big.Int))
	w.Signature.S = new(big.Int).SetBytes(s.S[:])
	return w, nil
}

// publicAssignment fills the public inputs only.
func publicAssignment(hash fr.Element, rec shielded.TransactionRecord) *CircuitTransfer {
	sender, recipient := rec.Sender.PublicKey(), rec.Recipient.PublicKey()
	w := &CircuitTransfer{}
	w.Hash = hash.BigInt(new(big.Int))
	w.Sender.A.X = sender.A.X.BigInt(new(big.Int))
	w.Sender.A.Y = sender.A.Y.BigInt(new(big.Int))
	w.Recipient.A.X = recipient.A.X.BigInt(new(big.Int))
	w.Recipient.A.Y = recipient.A.Y.BigInt(new(big.Int))
	w.Amount = new(big.Int).SetUint64(rec.Amount)
	w.Nonce = rec.Nonce.BigInt(new(big.Int))
	return w
}

// Prover produces VerifiedTransactions. It is safe for concurrent use.
type Prover struct {
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	logger *zap.Logger
}

// NewProver creates a prover for a compiled transfer circuit.
func NewProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, logger *zap.Logger) *Prover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prover{ccs: ccs, pk: pk, logger: logger}
}

// Verify checks that hash commits to rec and that rec.Sender signed it, then proves both
// statements. The returned artifact is what the pool consumes.
func (p *Prover) Verify(hash fr.Element, rec shielded.TransactionRecord, sig []byte) (*shielded.VerifiedTransaction, error) {
	cm, err := shielded.Commit(rec)
	if err != nil {
		return nil, errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	if !cm.Equal(&hash) {
		return nil, errors.Wrap(shielded.ErrProofInvalid, "hash does not commit to record")
	}
	if err := shielded.VerifyRecordSignature(rec, sig); err != nil {
		return nil, errors.Wrap(err, "sender signature")
	}

	assignment, err := BuildWitness(hash, rec, sig)
	if err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "build witness")
	}

	start := time.Now()
	proof, err := groth16.Prove(p.ccs, p.pk, full)
	if err != nil {
		return nil, errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, errors.Wrap(err, "serialize proof")
	}
	p.logger.Debug(
		"transfer proved",
		zap.Stringer("sender", rec.Sender),
		zap.Uint64("amount", rec.Amount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &shielded.VerifiedTransaction{Hash: hash, Record: rec, Proof: proofBuf.Bytes()}, nil
}

// Observer is notified of every proof verification. outcome is "valid", "invalid" or "cached".
type Observer interface {
	ObserveVerification(outcome string, elapsed time.Duration)
}

// Verifier checks transfer proofs against a verifying key. Positive results are cached.
type Verifier struct {
	vk       groth16.VerifyingKey
	cache    *lru.Cache[[32]byte, struct{}]
	observer Observer
}

// NewVerifier creates a verifier. cacheSize <= 0 disables the result cache.
func NewVerifier(vk groth16.VerifyingKey, cacheSize int, observer Observer) (*Verifier, error) {
	v := &Verifier{vk: vk, observer: observer}
	if cacheSize > 0 {
		c, err := lru.New[[32]byte, struct{}](cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "verifier cache")
		}
		v.cache = c
	}
	return v, nil
}

// VerifyTransaction implements shielded.Verifier. The public witness is rebuilt from
// vt.Hash and vt.Record, so a proof only verifies for the record it was produced for.
func (v *Verifier) VerifyTransaction(vt *shielded.VerifiedTransaction) error {
	if vt == nil {
		return errors.Wrap(shielded.ErrProofInvalid, "missing transaction")
	}
	if vt.Record.Amount == 0 {
		return errors.Wrap(shielded.ErrProofInvalid, "zero amount")
	}
	start := time.Now()

	public, err := frontend.NewWitness(publicAssignment(vt.Hash, vt.Record), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	key, err := cacheKey(vt.Proof, public)
	if err != nil {
		return errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	if v.cache != nil {
		if _, ok := v.cache.Get(key); ok {
			v.observe("cached", start)
			return nil
		}
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(vt.Proof)); err != nil {
		v.observe("invalid", start)
		return errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	if err := groth16.Verify(proof, v.vk, public); err != nil {
		v.observe("invalid", start)
		return errors.Wrap(shielded.ErrProofInvalid, err.Error())
	}
	if v.cache != nil {
		v.cache.Add(key, struct{}{})
	}
	v.observe("valid", start)
	return nil
}

func (v *Verifier) observe(outcome string, start time.Time) {
	if v.observer != nil {
		v.observer.ObserveVerification(outcome, time.Since(start))
	}
}

// cacheKey hashes the proof together with the serialized public witness.
func cacheKey(proof []byte, public witness.Witness) ([32]byte, error) {
	pub, err := public.MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write(proof)
	h.Write(pub)
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key, nil
}
