package transfer

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/shielded"
)

type signedRecord struct {
	sender *shielded.KeyPair
	rec    shielded.TransactionRecord
	hash   fr.Element
	sig    []byte
}

func newSignedRecord(t *testing.T, amount, nonce uint64) signedRecord {
	t.Helper()
	alice, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	rec := shielded.NewRecord(alice.Address(), bob.Address(), amount, nonce)
	hash, err := shielded.Commit(rec)
	require.NoError(t, err)
	sig, err := alice.SignRecord(rec)
	require.NoError(t, err)
	return signedRecord{sender: alice, rec: rec, hash: hash, sig: sig}
}

func TestCircuitSolved(t *testing.T) {
	sr := newSignedRecord(t, 1_000_000_000, 1)
	w, err := BuildWitness(sr.hash, sr.rec, sr.sig)
	require.NoError(t, err)
	assert.NoError(t, test.IsSolved(&CircuitTransfer{}, w, ecc.BN254.ScalarField()))
}

func TestCircuitRejectsTampering(t *testing.T) {
	sr := newSignedRecord(t, 500, 3)

	t.Run("amount", func(t *testing.T) {
		w, err := BuildWitness(sr.hash, sr.rec, sr.sig)
		require.NoError(t, err)
		w.Amount = 501
		assert.Error(t, test.IsSolved(&CircuitTransfer{}, w, ecc.BN254.ScalarField()))
	})

	t.Run("nonce", func(t *testing.T) {
		w, err := BuildWitness(sr.hash, sr.rec, sr.sig)
		require.NoError(t, err)
		w.Nonce = 4
		assert.Error(t, test.IsSolved(&CircuitTransfer{}, w, ecc.BN254.ScalarField()))
	})

	t.Run("foreign signer", func(t *testing.T) {
		mallory, err := shielded.GenerateKeyPair()
		require.NoError(t, err)
		forged, err := mallory.SignRecord(sr.rec)
		require.NoError(t, err)
		w, err := BuildWitness(sr.hash, sr.rec, forged)
		require.NoError(t, err)
		assert.Error(t, test.IsSolved(&CircuitTransfer{}, w, ecc.BN254.ScalarField()))
	})

	t.Run("zero amount", func(t *testing.T) {
		w, err := BuildWitness(sr.hash, sr.rec, sr.sig)
		require.NoError(t, err)
		w.Amount = 0
		assert.Error(t, test.IsSolved(&CircuitTransfer{}, w, ecc.BN254.ScalarField()))
	})
}

var (
	setupOnce sync.Once
	setupCCS  constraint.ConstraintSystem
	setupPK   groth16.ProvingKey
	setupVK   groth16.VerifyingKey
	setupErr  error
)

func groth16Keys(t *testing.T) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	if testing.Short() {
		t.Skip("groth16 setup skipped in short mode")
	}
	setupOnce.Do(func() {
		setupCCS, setupErr = Compile()
		if setupErr != nil {
			return
		}
		setupPK, setupVK, setupErr = groth16.Setup(setupCCS)
	})
	require.NoError(t, setupErr)
	return setupCCS, setupPK, setupVK
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObserveVerification(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func TestProveVerifyRoundTrip(t *testing.T) {
	ccs, pk, vk := groth16Keys(t)
	obs := &countingObserver{}
	prover := NewProver(ccs, pk, nil)
	verifier, err := NewVerifier(vk, 16, obs)
	require.NoError(t, err)

	sr := newSignedRecord(t, 42, 1)
	vt, err := prover.Verify(sr.hash, sr.rec, sr.sig)
	require.NoError(t, err)
	assert.True(t, vt.Record.Equal(sr.rec))
	assert.True(t, vt.Hash.Equal(&sr.hash))
	assert.NotEmpty(t, vt.Proof)

	require.NoError(t, verifier.VerifyTransaction(vt))
	require.NoError(t, verifier.VerifyTransaction(vt))
	assert.Equal(t, 1, obs.count("valid"))
	assert.Equal(t, 1, obs.count("cached"))

	// The proof does not transfer to another record.
	other := *vt
	other.Record.Amount = 43
	other.Hash, err = shielded.Commit(other.Record)
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.VerifyTransaction(&other), shielded.ErrProofInvalid)

	garbled := *vt
	garbled.Proof = []byte{1, 2, 3}
	assert.ErrorIs(t, verifier.VerifyTransaction(&garbled), shielded.ErrProofInvalid)
	assert.Equal(t, 2, obs.count("invalid"))
}

func TestProverRejectsBadInputs(t *testing.T) {
	ccs, pk, _ := groth16Keys(t)
	prover := NewProver(ccs, pk, nil)
	sr := newSignedRecord(t, 10, 1)

	var wrong fr.Element
	wrong.SetUint64(7)
	_, err := prover.Verify(wrong, sr.rec, sr.sig)
	assert.ErrorIs(t, err, shielded.ErrProofInvalid)

	mallory, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	forged, err := mallory.SignRecord(sr.rec)
	require.NoError(t, err)
	_, err = prover.Verify(sr.hash, sr.rec, forged)
	assert.ErrorIs(t, err, shielded.ErrProofInvalid)

	zero := sr.rec
	zero.Amount = 0
	_, err = prover.Verify(sr.hash, zero, sr.sig)
	assert.ErrorIs(t, err, shielded.ErrProofInvalid)
}

func TestSetupOrLoadKeysPersists(t *testing.T) {
	ccs, _, _ := groth16Keys(t)
	dir := t.TempDir()
	pkPath, vkPath := filepath.Join(dir, "transfer.pk"), filepath.Join(dir, "transfer.vk")

	_, vk, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)

	loadedPK, loadedVK, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)

	sr := newSignedRecord(t, 99, 5)
	vt, err := NewProver(ccs, loadedPK, nil).Verify(sr.hash, sr.rec, sr.sig)
	require.NoError(t, err)

	for _, key := range []groth16.VerifyingKey{vk, loadedVK} {
		v, err := NewVerifier(key, 0, nil)
		require.NoError(t, err)
		assert.NoError(t, v.VerifyTransaction(vt))
	}
}

func TestProofBoundToItsKeys(t *testing.T) {
	ccs, pk, vk := groth16Keys(t)
	dir := t.TempDir()
	_, otherVK, err := SetupOrLoadKeys(ccs, filepath.Join(dir, "transfer.pk"), filepath.Join(dir, "transfer.vk"))
	require.NoError(t, err)

	sr := newSignedRecord(t, 64, 1)
	vt, err := NewProver(ccs, pk, nil).Verify(sr.hash, sr.rec, sr.sig)
	require.NoError(t, err)

	own, err := NewVerifier(vk, 0, nil)
	require.NoError(t, err)
	require.NoError(t, own.VerifyTransaction(vt))

	// A pool set up with its own keys rejects an artifact proven for another pool,
	// even when the record would satisfy its nonce.
	other, err := NewVerifier(otherVK, 0, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, other.VerifyTransaction(vt), shielded.ErrProofInvalid)
}
