package zerocash

import "errors"

// Transaction-level rejections. The offending transaction is dropped; the node carries on.
var (
	ErrInvalidProof         = errors.New("invalid proof")
	ErrMalformedSignals     = errors.New("malformed public signals")
	ErrUnknownCommitment    = errors.New("unknown commitment")
	ErrDoubleSpend          = errors.New("double spend: serial number already revealed")
	ErrDuplicateTransaction = errors.New("transaction already in block")
)

// Block-level rejections.
var (
	ErrInvalidBlockProof         = errors.New("block does not satisfy proof-of-work target")
	ErrUnknownParent             = errors.New("parent block unknown")
	ErrLedgerMismatch            = errors.New("block ledger snapshot does not match replay")
	ErrCoinbaseAfterTransactions = errors.New("coinbase must be added before transactions")
	ErrBadChainLength            = errors.New("chain length does not extend parent")
)

// ErrDeserialization marks malformed wire data.
var ErrDeserialization = errors.New("deserialization error")

// Proof oracle and wallet errors.
var (
	ErrProofGeneration   = errors.New("proof generation failed")
	ErrNoDecoyCommitment = errors.New("no decoy commitment available")
)

// ErrExcessCoinbase is returned when a block mints more than the policy's coinbase amount.
var ErrExcessCoinbase = errors.New("coinbase exceeds policy amount")
