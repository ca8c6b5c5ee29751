// Package shielded implements the bookkeeping and authorization state machine of a shielded value pool.
//
// Overview:
//   - Value enters the pool through Deposit, authorized by an EdDSA signature over (commitment, amount)
//   - Value leaves the pool through Withdraw or Claim, authorized by a VerifiedTransaction
//   - A VerifiedTransaction binds a commitment hash to a TransactionRecord and carries a proof of both
//   - Every exit consumes exactly one nonce; the record must carry the pool's current NextNonce
//
// Security Model:
//   - Records are committed with MiMC over the BN254 scalar field
//   - Accounts are EdDSA public keys on the BN254 twisted Edwards curve
//   - The proof system is injected through the Verifier interface and re-checked at consumption time
//   - Payout parameters are always taken from the verified record, never from the caller alone
//
// Usage:
//   - Build a record with NewRecord, commit it with Commit, sign it with KeyPair.SignRecord
//   - Obtain a VerifiedTransaction from a proof service (see internal/transactions/transfer)
//   - Open a Pool with OpenPool and call Deposit, Withdraw, Claim
package shielded
