package zerocash

import "fmt"

// BlockLookup resolves a block id to a known block.
type BlockLookup func(id Digest) (*Block, bool)

// SyncTransactions computes the transactions that must be re-queued when a miner abandons
// oldTip (typically its candidate block) for newTip.
//
// Both chains are walked back by prevBlockHash, the higher one first until heights match,
// then in lockstep until they meet. The result is every transaction seen on the old side
// that does not appear on the new side, compared by id, oldest block first. Stored blocks
// are never modified.
func SyncTransactions(lookup BlockLookup, oldTip, newTip *Block) ([]*Transaction, error) {
	var oldSide []*Block
	seenNew := make(map[Digest]struct{})

	parent := func(b *Block) (*Block, error) {
		p, ok := lookup(b.prevBlockHash)
		if !ok {
			return nil, fmt.Errorf("%w: %s while walking back from height %d", ErrUnknownParent, b.prevBlockHash.Short(), b.chainLength)
		}
		return p, nil
	}
	takeNew := func(b *Block) {
		for _, id := range b.txOrder {
			seenNew[id] = struct{}{}
		}
	}

	o, n := oldTip, newTip
	var err error
	for n.chainLength > o.chainLength {
		takeNew(n)
		if n, err = parent(n); err != nil {
			return nil, err
		}
	}
	for o.chainLength > n.chainLength {
		oldSide = append(oldSide, o)
		if o, err = parent(o); err != nil {
			return nil, err
		}
	}
	for o.ID() != n.ID() {
		if o.IsGenesis() || n.IsGenesis() {
			return nil, fmt.Errorf("%w: chains share no genesis", ErrUnknownParent)
		}
		oldSide = append(oldSide, o)
		takeNew(n)
		if o, err = parent(o); err != nil {
			return nil, err
		}
		if n, err = parent(n); err != nil {
			return nil, err
		}
	}

	var pending []*Transaction
	queued := make(map[Digest]struct{})
	for i := len(oldSide) - 1; i >= 0; i-- {
		b := oldSide[i]
		for _, id := range b.txOrder {
			if _, ok := seenNew[id]; ok {
				continue
			}
			if _, ok := queued[id]; ok {
				continue
			}
			queued[id] = struct{}{}
			pending = append(pending, b.txs[id])
		}
	}
	return pending, nil
}
