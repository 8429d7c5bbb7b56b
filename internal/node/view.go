package node

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/metrics"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/storage"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// LedgerView is one participant's picture of the chain: every known block, the adopted tip,
// the last confirmed block, and blocks waiting on a missing parent.
//
// A LedgerView is not safe for concurrent use; its owner serializes access.
type LedgerView struct {
	policy  *zerocash.Policy
	genesis *zerocash.Block

	blocks        map[zerocash.Digest]*zerocash.Block
	lastBlock     *zerocash.Block
	lastConfirmed *zerocash.Block

	// pending maps a missing parent hash to the blocks waiting on it, in arrival order.
	pending   map[zerocash.Digest][]*zerocash.Block
	orphanIDs map[zerocash.Digest]struct{}

	store   storage.BlockStore
	log     zerolog.Logger
	metrics *metrics.Participant
}

// NewLedgerView starts a view holding only genesis.
func NewLedgerView(policy *zerocash.Policy, genesis *zerocash.Block, store storage.BlockStore, log zerolog.Logger, m *metrics.Participant) (*LedgerView, error) {
	if !genesis.IsGenesis() {
		return nil, fmt.Errorf("%w: block at height %d", ErrForeignGenesis, genesis.ChainLength())
	}
	v := &LedgerView{
		policy:    policy,
		genesis:   genesis,
		blocks:    map[zerocash.Digest]*zerocash.Block{genesis.ID(): genesis},
		pending:   make(map[zerocash.Digest][]*zerocash.Block),
		orphanIDs: make(map[zerocash.Digest]struct{}),
		store:     store,
		log:       log,
		metrics:   m,
	}
	v.lastBlock = genesis
	v.lastConfirmed = genesis
	if store != nil {
		if err := store.PutBlock(genesis); err != nil {
			return nil, err
		}
		if err := store.SetTip(genesis.ID()); err != nil {
			return nil, err
		}
	}
	v.metrics.ChainHeight(0)
	return v, nil
}

// RestoreLedgerView rebuilds a view from the blocks in store. Every stored block is validated
// again on the way in; blocks that no longer validate are skipped. The stored tip is adopted if
// it was restored, otherwise the longest restored chain wins.
func RestoreLedgerView(policy *zerocash.Policy, genesis *zerocash.Block, store storage.BlockStore, log zerolog.Logger, m *metrics.Participant) (*LedgerView, error) {
	stored, err := store.Blocks()
	if err != nil {
		return nil, err
	}
	v, err := NewLedgerView(policy, genesis, nil, log, m)
	if err != nil {
		return nil, err
	}
	for _, b := range stored {
		if b.IsGenesis() {
			if b.ID() != genesis.ID() {
				return nil, fmt.Errorf("%w: store holds %s, chain starts at %s", ErrForeignGenesis, b.ID().Short(), genesis.ID().Short())
			}
			continue
		}
		parent, ok := v.blocks[b.PrevBlockHash()]
		if !ok {
			log.Warn().Str("block", b.ID().Short()).Msg("stored block has no stored parent, skipping")
			continue
		}
		if err := policy.ValidateBlock(parent, b); err != nil {
			log.Warn().Err(err).Str("block", b.ID().Short()).Msg("stored block no longer validates, skipping")
			continue
		}
		v.blocks[b.ID()] = b
		if b.ChainLength() > v.lastBlock.ChainLength() {
			v.lastBlock = b
		}
	}
	if id, ok, err := store.Tip(); err != nil {
		return nil, err
	} else if ok {
		if tip, known := v.blocks[id]; known && tip.ChainLength() >= v.lastBlock.ChainLength() {
			v.lastBlock = tip
		}
	}
	v.store = store
	if err := store.PutBlock(genesis); err != nil {
		return nil, err
	}
	if err := store.SetTip(v.lastBlock.ID()); err != nil {
		return nil, err
	}
	v.updateConfirmed()
	log.Info().Int("blocks", len(v.blocks)).Uint64("height", v.lastBlock.ChainLength()).Msg("restored chain from store")
	return v, nil
}

func (v *LedgerView) Genesis() *zerocash.Block            { return v.genesis }
func (v *LedgerView) LastBlock() *zerocash.Block          { return v.lastBlock }
func (v *LedgerView) LastConfirmedBlock() *zerocash.Block { return v.lastConfirmed }

// Block returns a known block by id.
func (v *LedgerView) Block(id zerocash.Digest) (*zerocash.Block, bool) {
	b, ok := v.blocks[id]
	return b, ok
}

// Lookup exposes the known blocks to zerocash.SyncTransactions.
func (v *LedgerView) Lookup() zerocash.BlockLookup {
	return v.Block
}

// NumBlocks returns the number of stored blocks, genesis included.
func (v *LedgerView) NumBlocks() int { return len(v.blocks) }

// NumOrphans returns the number of blocks waiting on a missing parent.
func (v *LedgerView) NumOrphans() int { return len(v.orphanIDs) }

// Receive validates b and stores it, possibly adopting it as the new tip. Blocks whose parent
// is unknown are held until the parent arrives; any orphans waiting on b are connected after it.
func (v *LedgerView) Receive(b *zerocash.Block) Receipt {
	id := b.ID()
	if _, ok := v.blocks[id]; ok {
		return Receipt{Outcome: Duplicate}
	}
	if _, ok := v.orphanIDs[id]; ok {
		return Receipt{Outcome: Duplicate}
	}
	if b.IsGenesis() {
		return Receipt{Outcome: Rejected, Err: fmt.Errorf("%w: %s", ErrForeignGenesis, id.Short())}
	}
	if !v.policy.HasValidProof(b) {
		return Receipt{Outcome: Rejected, Err: fmt.Errorf("%w: block %s", zerocash.ErrInvalidBlockProof, id.Short())}
	}

	parent, ok := v.blocks[b.PrevBlockHash()]
	if !ok {
		prev := b.PrevBlockHash()
		_, waiting := v.pending[prev]
		v.pending[prev] = append(v.pending[prev], b)
		v.orphanIDs[id] = struct{}{}
		v.metrics.Orphans(len(v.orphanIDs))
		v.log.Debug().Str("block", id.Short()).Str("parent", prev.Short()).Uint64("height", b.ChainLength()).Msg("holding orphan block")
		return Receipt{
			Outcome:        Orphaned,
			Err:            fmt.Errorf("%w: %s", zerocash.ErrUnknownParent, prev.Short()),
			Missing:        prev,
			RequestMissing: !waiting,
		}
	}

	r := Receipt{Outcome: Accepted}
	if err := v.connect(parent, b, &r); err != nil {
		return Receipt{Outcome: Rejected, Err: err}
	}
	return r
}

func (v *LedgerView) connect(parent, b *zerocash.Block, r *Receipt) error {
	if err := v.policy.ValidateBlock(parent, b); err != nil {
		return err
	}
	id := b.ID()
	v.blocks[id] = b
	if v.store != nil {
		if err := v.store.PutBlock(b); err != nil {
			v.log.Error().Err(err).Str("block", id.Short()).Msg("failed to persist block")
		}
	}
	r.Connected = append(r.Connected, b)

	if b.ChainLength() > v.lastBlock.ChainLength() {
		v.lastBlock = b
		v.updateConfirmed()
		r.TipChanged = true
		if v.store != nil {
			if err := v.store.SetTip(id); err != nil {
				v.log.Error().Err(err).Msg("failed to persist tip")
			}
		}
		v.metrics.ChainHeight(b.ChainLength())
		v.log.Debug().Str("tip", id.Short()).Uint64("height", b.ChainLength()).Msg("adopted new tip")
	}

	waiting := v.pending[id]
	delete(v.pending, id)
	for _, child := range waiting {
		delete(v.orphanIDs, child.ID())
		v.log.Debug().Str("block", child.ID().Short()).Msg("processing unstuck block")
		if err := v.connect(b, child, r); err != nil {
			v.log.Info().Err(err).Str("block", child.ID().Short()).Msg("rejected unstuck block")
		}
	}
	v.metrics.Orphans(len(v.orphanIDs))
	return nil
}

// updateConfirmed moves lastConfirmed to the tip's ancestor ConfirmationDepth blocks back,
// stopping at genesis.
func (v *LedgerView) updateConfirmed() {
	b := v.lastBlock
	for i := uint64(0); i < v.policy.ConfirmationDepth && !b.IsGenesis(); i++ {
		p, ok := v.blocks[b.PrevBlockHash()]
		if !ok {
			break
		}
		b = p
	}
	v.lastConfirmed = b
}
