// Package zerocash implements the ledger core of an anonymous-payment blockchain.
//
// Overview:
//   - Coins are (cm, r, sn) triples with cm = SHA256(sn || r); only cm is ever published
//   - A Ledger is the append-only accumulator of minted commitments (cmlist) and revealed
//     serial numbers (snlist), indexed for constant-time membership
//   - A Transaction carries a spend proof and the commitment of the freshly minted coin
//   - A Block batches coinbase mints and transactions on top of a parent snapshot and is sealed
//     with a proof-of-work nonce
//   - SyncTransactions recomputes the pending transaction set after a chain reorganization
//
// Security Model:
//   - Spend proofs are checked through a ProofOracle; the ledger never learns which of the two
//     public commitments is being retired
//   - Serial numbers prevent double-spending: a block never holds the same sn twice
//   - A commitment can only be spent once it appears in the parent block's cmlist or the
//     block's own coinbase
//
// Blocks are owned by a single goroutine while being mined. Once broadcast, every receiver
// works on an independent deserialized copy.
package zerocash
