package api

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"shieldpool/internal/shielded"
)

// Wire formats. Addresses are base58, field elements decimal strings and byte blobs
// (signatures, proofs) standard base64.

type PendingResponse struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
}

type PoolResponse struct {
	Version   uint64           `json:"version"`
	Balance   uint64           `json:"balance"`
	NextNonce uint64           `json:"next_nonce"`
	Pending   *PendingResponse `json:"pending,omitempty"`
}

type Record struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Nonce     string `json:"nonce"`
}

type VerifiedTransaction struct {
	Hash   string `json:"hash"`
	Record Record `json:"record"`
	Proof  string `json:"proof"`
}

type DepositRequest struct {
	Sender    string `json:"sender"`
	Hash      string `json:"hash"`
	Amount    uint64 `json:"amount"`
	Signature string `json:"signature"`
}

type WithdrawRequest struct {
	Transaction VerifiedTransaction `json:"transaction"`
	Recipient   string              `json:"recipient"`
	Amount      uint64              `json:"amount"`
}

type ClaimRequest struct {
	Transaction VerifiedTransaction `json:"transaction"`
}

type ProveRequest struct {
	Hash      string `json:"hash"`
	Record    Record `json:"record"`
	Signature string `json:"signature"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewPoolResponse(s shielded.State) PoolResponse {
	resp := PoolResponse{Version: s.Version, Balance: s.Balance, NextNonce: s.NextNonce}
	if s.Pending != nil {
		resp.Pending = &PendingResponse{
			Recipient: s.Pending.Recipient.String(),
			Amount:    s.Pending.Amount,
			Nonce:     s.Pending.Nonce,
		}
	}
	return resp
}

func FromRecord(r shielded.TransactionRecord) Record {
	return Record{
		Sender:    r.Sender.String(),
		Recipient: r.Recipient.String(),
		Amount:    r.Amount,
		Nonce:     r.Nonce.String(),
	}
}

func (r Record) Decode() (shielded.TransactionRecord, error) {
	sender, err := shielded.ParseAddress(r.Sender)
	if err != nil {
		return shielded.TransactionRecord{}, errors.Wrap(err, "sender")
	}
	recipient, err := shielded.ParseAddress(r.Recipient)
	if err != nil {
		return shielded.TransactionRecord{}, errors.Wrap(err, "recipient")
	}
	nonce, err := shielded.ParseElement(r.Nonce)
	if err != nil {
		return shielded.TransactionRecord{}, errors.Wrap(err, "nonce")
	}
	return shielded.TransactionRecord{
		Sender:    sender,
		Recipient: recipient,
		Amount:    r.Amount,
		Nonce:     nonce,
	}, nil
}

func FromVerified(vt *shielded.VerifiedTransaction) VerifiedTransaction {
	return VerifiedTransaction{
		Hash:   vt.Hash.String(),
		Record: FromRecord(vt.Record),
		Proof:  base64.StdEncoding.EncodeToString(vt.Proof),
	}
}

func (v VerifiedTransaction) Decode() (*shielded.VerifiedTransaction, error) {
	hash, err := shielded.ParseElement(v.Hash)
	if err != nil {
		return nil, errors.Wrap(err, "hash")
	}
	rec, err := v.Record.Decode()
	if err != nil {
		return nil, err
	}
	proof, err := base64.StdEncoding.DecodeString(v.Proof)
	if err != nil {
		return nil, errors.Wrap(shielded.ErrProofInvalid, "proof encoding")
	}
	return &shielded.VerifiedTransaction{Hash: hash, Record: rec, Proof: proof}, nil
}

// DecodeSignature decodes a base64 signature. Malformed input yields errBad wrapped.
func DecodeSignature(s string, errBad error) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(errBad, "signature encoding")
	}
	return sig, nil
}

func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}
