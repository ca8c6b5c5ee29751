// Package relay forwards deposits and verified transactions to a pool API on behalf of
// users. Pool rejections come back as the pool's own sentinel errors.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shieldpool/internal/api"
	"shieldpool/internal/shielded"
)

// ErrUnexpectedResponse is returned for replies that carry no known error code.
var ErrUnexpectedResponse = errors.New("unexpected pool response")

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a relay for the pool API at baseURL, e.g. "http://127.0.0.1:8080".
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Pool fetches the current pool state.
func (c *Client) Pool(ctx context.Context) (*api.PoolResponse, error) {
	var out api.PoolResponse
	if err := c.do(ctx, http.MethodGet, "/pool", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deposit forwards a signed deposit.
func (c *Client) Deposit(ctx context.Context, sender shielded.Address, hash fr.Element, amount uint64, sig []byte) (*api.PoolResponse, error) {
	req := api.DepositRequest{
		Sender:    sender.String(),
		Hash:      hash.String(),
		Amount:    amount,
		Signature: api.EncodeSignature(sig),
	}
	var out api.PoolResponse
	if err := c.do(ctx, http.MethodPost, "/deposit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prove asks the pool's proof service for a verified transaction.
func (c *Client) Prove(ctx context.Context, hash fr.Element, rec shielded.TransactionRecord, sig []byte) (*shielded.VerifiedTransaction, error) {
	req := api.ProveRequest{
		Hash:      hash.String(),
		Record:    api.FromRecord(rec),
		Signature: api.EncodeSignature(sig),
	}
	var out api.VerifiedTransaction
	if err := c.do(ctx, http.MethodPost, "/prove", req, &out); err != nil {
		return nil, err
	}
	return out.Decode()
}

// Withdraw forwards a verified transaction with explicit payout parameters.
func (c *Client) Withdraw(ctx context.Context, vt *shielded.VerifiedTransaction, recipient shielded.Address, amount uint64) (*api.PoolResponse, error) {
	req := api.WithdrawRequest{
		Transaction: api.FromVerified(vt),
		Recipient:   recipient.String(),
		Amount:      amount,
	}
	var out api.PoolResponse
	if err := c.do(ctx, http.MethodPost, "/withdraw", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Claim forwards a verified transaction; the pool pays the record's recipient.
func (c *Client) Claim(ctx context.Context, vt *shielded.VerifiedTransaction) (*api.PoolResponse, error) {
	var out api.PoolResponse
	if err := c.do(ctx, http.MethodPost, "/claim", api.ClaimRequest{Transaction: api.FromVerified(vt)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("relaying", zap.String("method", method), zap.String("path", path))
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return errors.Wrapf(ErrUnexpectedResponse, "status %s", resp.Status)
	}
	if sentinel := shielded.ErrorFromCode(er.Code); sentinel != nil {
		return errors.Wrap(sentinel, er.Message)
	}
	return errors.Wrapf(ErrUnexpectedResponse, "status %s: %s: %s", resp.Status, er.Code, er.Message)
}
