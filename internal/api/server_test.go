package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/baseledger"
	"shieldpool/internal/shielded"
)

// signingProver uses the record signature as the proof.
type signingProver struct{}

func (signingProver) Verify(hash fr.Element, rec shielded.TransactionRecord, sig []byte) (*shielded.VerifiedTransaction, error) {
	if err := shielded.VerifyRecordSignature(rec, sig); err != nil {
		return nil, err
	}
	return &shielded.VerifiedTransaction{Hash: hash, Record: rec, Proof: sig}, nil
}

var signatureVerifier = shielded.VerifierFunc(func(vt *shielded.VerifiedTransaction) error {
	cm, err := shielded.Commit(vt.Record)
	if err != nil || !cm.Equal(&vt.Hash) {
		return shielded.ErrProofInvalid
	}
	return shielded.VerifyRecordSignature(vt.Record, vt.Proof)
})

type testEnv struct {
	server    *httptest.Server
	pool      *shielded.Pool
	ledger    *baseledger.Ledger
	alice     *shielded.KeyPair
	bob       *shielded.KeyPair
	custody   shielded.Address
	errorsLog *errorCounter
}

type errorCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *errorCounter) RecordError(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[op+"/"+shielded.ErrorCode(err)]++
}

func (c *errorCounter) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	alice, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	custodyKey, err := shielded.GenerateKeyPair()
	require.NoError(t, err)

	ledger := baseledger.NewLedger(nil)
	require.NoError(t, ledger.Fund(custodyKey.Address(), uint256.NewInt(1_000_000)))
	pool, err := shielded.OpenPool(nil, signatureVerifier, ledger.Custody(custodyKey.Address()))
	require.NoError(t, err)

	counter := &errorCounter{counts: make(map[string]int)}
	if opts.Errors == nil {
		opts.Errors = counter
	}
	if opts.Prover == nil {
		opts.Prover = signingProver{}
	}
	srv := httptest.NewServer(NewServer(pool, opts).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{
		server: srv, pool: pool, ledger: ledger,
		alice: alice, bob: bob, custody: custodyKey.Address(),
		errorsLog: counter,
	}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) depositRequest(t *testing.T, amount uint64) DepositRequest {
	t.Helper()
	var hash fr.Element
	hash.SetUint64(77)
	sig, err := e.alice.SignDeposit(hash, amount)
	require.NoError(t, err)
	return DepositRequest{
		Sender:    e.alice.Address().String(),
		Hash:      hash.String(),
		Amount:    amount,
		Signature: EncodeSignature(sig),
	}
}

func (e *testEnv) proveRequest(t *testing.T, amount, nonce uint64) ProveRequest {
	t.Helper()
	rec := shielded.NewRecord(e.alice.Address(), e.bob.Address(), amount, nonce)
	hash, err := shielded.Commit(rec)
	require.NoError(t, err)
	sig, err := e.alice.SignRecord(rec)
	require.NoError(t, err)
	return ProveRequest{Hash: hash.String(), Record: FromRecord(rec), Signature: EncodeSignature(sig)}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	return er.Code
}

func TestDepositProveClaimFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, body := env.post(t, "/deposit", env.depositRequest(t, 5_000))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var pool PoolResponse
	require.NoError(t, json.Unmarshal(body, &pool))
	assert.Equal(t, uint64(5_000), pool.Balance)

	resp, body = env.post(t, "/prove", env.proveRequest(t, 1_000, 1))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var vt VerifiedTransaction
	require.NoError(t, json.Unmarshal(body, &vt))

	resp, body = env.post(t, "/claim", ClaimRequest{Transaction: vt})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &pool))
	assert.Equal(t, uint64(4_000), pool.Balance)
	assert.Equal(t, uint64(2), pool.NextNonce)
	assert.Equal(t, uint64(1_000), env.ledger.Balance(env.bob.Address()).Uint64())

	resp, body = env.post(t, "/claim", ClaimRequest{Transaction: vt})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "nonce_consumed", errorCode(t, body))
	assert.Equal(t, 1, env.errorsLog.count("claim/nonce_consumed"))
}

func TestWithdrawChecksParameters(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, _ := env.post(t, "/deposit", env.depositRequest(t, 5_000))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := env.post(t, "/prove", env.proveRequest(t, 2_000, 1))
	var vt VerifiedTransaction
	require.NoError(t, json.Unmarshal(body, &vt))

	resp, body = env.post(t, "/withdraw", WithdrawRequest{Transaction: vt, Recipient: env.alice.Address().String(), Amount: 2_000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "record_mismatch", errorCode(t, body))

	resp, body = env.post(t, "/withdraw", WithdrawRequest{Transaction: vt, Recipient: env.bob.Address().String(), Amount: 2_000})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, uint64(3_000), env.pool.PoolBalance())
}

func TestErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, body := env.post(t, "/deposit", env.depositRequest(t, 0))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_amount", errorCode(t, body))

	bad := env.depositRequest(t, 10)
	bad.Amount = 11
	resp, body = env.post(t, "/deposit", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "signature_invalid", errorCode(t, body))

	_, body = env.post(t, "/prove", env.proveRequest(t, 10, 1))
	var vt VerifiedTransaction
	require.NoError(t, json.Unmarshal(body, &vt))
	resp, body = env.post(t, "/claim", ClaimRequest{Transaction: vt})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_pool_balance", errorCode(t, body))

	resp, body = env.post(t, "/deposit", map[string]string{"sender": "x", "bogus": "y"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, body))
}

func TestProveRejectsForgery(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := env.proveRequest(t, 10, 1)
	req.Record.Amount = 11
	resp, body := env.post(t, "/prove", req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "proof_invalid", errorCode(t, body))
}

func TestPoolAndHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, err := http.Get(env.server.URL + "/pool")
	require.NoError(t, err)
	var pool PoolResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pool))
	resp.Body.Close()
	assert.Equal(t, shielded.InitialNonce, pool.NextNonce)
	assert.Nil(t, pool.Pending)

	resp, err = http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	var health SystemHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Healthy, health.OverallStatus)
}

func TestRateLimiter(t *testing.T) {
	l, err := NewClientRateLimiter(60, 2, 16)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.Equal(t, 1, l.Tokens("b"))
}

func TestRateLimiterBoundsClients(t *testing.T) {
	l, err := NewClientRateLimiter(60, 1, 2)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.True(t, l.Allow("c"))
	assert.Equal(t, 2, l.Clients())

	// "a" was evicted and starts over.
	assert.True(t, l.Allow("a"))
	assert.Equal(t, 2, l.Clients())

	_, err = NewClientRateLimiter(60, 1, 0)
	assert.Error(t, err)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter, err := NewClientRateLimiter(1, 1, 16)
	require.NoError(t, err)
	env := newTestEnv(t, Options{Limiter: limiter})
	resp, err := http.Get(env.server.URL + "/pool")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/pool")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register("store", func() (HealthStatus, error) { return Healthy, nil })
	hc.Register("pool", func() (HealthStatus, error) { return Degraded, nil })
	h := hc.CheckHealth()
	assert.Equal(t, Degraded, h.OverallStatus)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "store", h.Components[0].Name)

	hc.Register("ledger", func() (HealthStatus, error) { return "", assert.AnError })
	assert.Equal(t, Unhealthy, hc.CheckHealth().OverallStatus)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(shielded.ErrPayoutPending))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(shielded.ErrPayoutUnsettled))
	assert.Equal(t, http.StatusBadGateway, StatusFor(shielded.ErrBaseLedgerFailure))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}
