package shielded

import "github.com/pkg/errors"

// Pool error taxonomy. Every rejected operation leaves the pool state untouched.
var (
	ErrInvalidAmount           = errors.New("invalid amount: must be positive")
	ErrSignatureInvalid        = errors.New("deposit signature invalid")
	ErrProofInvalid            = errors.New("transaction proof invalid")
	ErrOverflow                = errors.New("value exceeds representable maximum")
	ErrInsufficientPoolBalance = errors.New("insufficient pool balance")
	ErrBaseLedgerFailure       = errors.New("base ledger payout failed")

	ErrNonceConsumed   = errors.New("double-spend detected: nonce already consumed")
	ErrNonceMismatch   = errors.New("record nonce does not match pool nonce")
	ErrRecordMismatch  = errors.New("payout parameters do not match verified record")
	ErrPayoutPending   = errors.New("pool halted: payout outcome pending")
	ErrPayoutUnsettled = errors.New("payout delivered but settlement not persisted; pool halted")
	ErrNoPendingPayout = errors.New("no pending payout")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidElement  = errors.New("invalid field element")

	// ErrInsufficientFunds is returned by a BaseLedger when the paying account
	// cannot cover a transfer. It is the only Send failure the pool treats as a
	// definitive rejection.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrSignatureInvalid, "signature_invalid"},
	{ErrProofInvalid, "proof_invalid"},
	{ErrOverflow, "overflow"},
	{ErrInsufficientPoolBalance, "insufficient_pool_balance"},
	{ErrBaseLedgerFailure, "base_ledger_failure"},
	{ErrNonceConsumed, "nonce_consumed"},
	{ErrNonceMismatch, "nonce_mismatch"},
	{ErrRecordMismatch, "record_mismatch"},
	{ErrPayoutPending, "payout_pending"},
	{ErrPayoutUnsettled, "payout_unsettled"},
	{ErrNoPendingPayout, "no_pending_payout"},
	{ErrInvalidAddress, "invalid_address"},
	{ErrInvalidElement, "invalid_element"},
	{ErrInsufficientFunds, "insufficient_funds"},
}

// ErrorCode returns the stable wire code of err, or "internal" if err is not part of the taxonomy.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrorFromCode returns the sentinel for a wire code, or nil if the code is unknown.
func ErrorFromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
