package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/api"
	"shieldpool/internal/baseledger"
	"shieldpool/internal/shielded"
)

// signingProver returns the record signature as the proof.
type signingProver struct{}

func (signingProver) Verify(hash fr.Element, rec shielded.TransactionRecord, sig []byte) (*shielded.VerifiedTransaction, error) {
	if err := shielded.VerifyRecordSignature(rec, sig); err != nil {
		return nil, err
	}
	return &shielded.VerifiedTransaction{Hash: hash, Record: rec, Proof: sig}, nil
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clientConfig = ClientConfig{}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestClientCommands(t *testing.T) {
	custody, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	ledger := baseledger.NewLedger(nil)
	require.NoError(t, ledger.Fund(custody.Address(), uint256.NewInt(10_000)))
	verifier := shielded.VerifierFunc(func(vt *shielded.VerifiedTransaction) error {
		return shielded.VerifyRecordSignature(vt.Record, vt.Proof)
	})
	pool, err := shielded.OpenPool(nil, verifier, ledger.Custody(custody.Address()))
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(pool, api.Options{Prover: signingProver{}}).Handler())
	defer srv.Close()

	dir := t.TempDir()
	alice, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "alice.key")
	require.NoError(t, os.WriteFile(keyFile, []byte(alice.String()+"\n"), 0600))
	txFile := filepath.Join(dir, "exit.json")

	_, err = runCommand(t, "deposit", "--pool-url", srv.URL, "--key-file", keyFile, "--amount", "1000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), pool.PoolBalance())

	out, err := runCommand(t, "prove", "--pool-url", srv.URL, "--key-file", keyFile,
		"--to", bob.Address().String(), "--amount", "300", "--out", txFile)
	require.NoError(t, err)
	assert.Contains(t, out, "nonce 1")

	_, err = runCommand(t, "claim", "--pool-url", srv.URL, "--tx", txFile)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), pool.PoolBalance())
	assert.Equal(t, uint64(300), ledger.Balance(bob.Address()).Uint64())

	_, err = runCommand(t, "withdraw", "--pool-url", srv.URL, "--tx", txFile)
	assert.ErrorIs(t, err, shielded.ErrNonceConsumed)
	assert.Equal(t, uint64(2), pool.NextNonce())
}

func TestWithdrawCommandChecksParameters(t *testing.T) {
	custody, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	ledger := baseledger.NewLedger(nil)
	require.NoError(t, ledger.Fund(custody.Address(), uint256.NewInt(10_000)))
	verifier := shielded.VerifierFunc(func(vt *shielded.VerifiedTransaction) error {
		return shielded.VerifyRecordSignature(vt.Record, vt.Proof)
	})
	pool, err := shielded.OpenPool(nil, verifier, ledger.Custody(custody.Address()))
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(pool, api.Options{Prover: signingProver{}}).Handler())
	defer srv.Close()

	dir := t.TempDir()
	alice, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "alice.key")
	require.NoError(t, os.WriteFile(keyFile, []byte(alice.String()), 0600))
	txFile := filepath.Join(dir, "exit.json")

	_, err = runCommand(t, "deposit", "--pool-url", srv.URL, "--key-file", keyFile, "--amount", "500", "--hash", "0x2a")
	require.NoError(t, err)
	_, err = runCommand(t, "prove", "--pool-url", srv.URL, "--key-file", keyFile,
		"--to", alice.Address().String(), "--amount", "200", "--out", txFile)
	require.NoError(t, err)

	_, err = runCommand(t, "withdraw", "--pool-url", srv.URL, "--tx", txFile, "--amount", "201")
	assert.ErrorIs(t, err, shielded.ErrRecordMismatch)

	_, err = runCommand(t, "withdraw", "--pool-url", srv.URL, "--tx", txFile, "--amount", "200")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), pool.PoolBalance())
}
