// policy.go - Chain-wide parameters fixed at genesis.

package zerocash

import (
	"errors"
	"fmt"
	"time"
)

// Policy is the immutable configuration shared by every participant of a chain.
// It is built once, before genesis, and passed by pointer; nothing mutates it afterwards.
type Policy struct {
	PowLeadingZeroes  uint        // Leading zero bits required of a block's PowHash
	CoinbaseAmount    int         // Coins minted to the miner of each block
	ConfirmationDepth uint64      // Blocks behind the tip before a block counts as confirmed
	Oracle            ProofOracle // Spend proof system
}

// Validate checks that the policy is usable.
func (p *Policy) Validate() error {
	if p.Oracle == nil {
		return errors.New("policy: proof oracle is required")
	}
	if p.PowLeadingZeroes > DigestBits {
		return fmt.Errorf("policy: pow target of %d bits exceeds digest size", p.PowLeadingZeroes)
	}
	if p.CoinbaseAmount < 0 {
		return fmt.Errorf("policy: negative coinbase amount %d", p.CoinbaseAmount)
	}
	return nil
}

// MakeGenesis builds the genesis block holding the initial coin allocation.
func (p *Policy) MakeGenesis(cms []Digest) *Block {
	return NewGenesisBlock(cms, time.Now())
}

// HasValidProof checks b against the policy's proof-of-work target.
func (p *Policy) HasValidProof(b *Block) bool {
	return b.HasValidProof(p.PowLeadingZeroes)
}

// ValidateBlock checks a received non-genesis block against its parent: proof-of-work,
// coinbase amount, and a full replay of its transactions.
func (p *Policy) ValidateBlock(parent, b *Block) error {
	if !p.HasValidProof(b) {
		return fmt.Errorf("%w: block %s", ErrInvalidBlockProof, b.ID().Short())
	}
	if n := len(b.coinbase); n > p.CoinbaseAmount {
		return fmt.Errorf("%w: %d > %d", ErrExcessCoinbase, n, p.CoinbaseAmount)
	}
	return ReplayBlock(parent, b, p.Oracle)
}
