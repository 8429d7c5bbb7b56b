// Package storage persists accepted blocks so a participant's ledger view can be rebuilt.
package storage

import (
	stderrors "errors"
	"slices"
	"sync"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// ErrNotFound is returned for unknown block ids.
var ErrNotFound = stderrors.New("block not found")

// BlockStore defines the interface for block storage.
type BlockStore interface {
	// PutBlock stores a block under its id. Storing the same block twice is a no-op.
	PutBlock(b *zerocash.Block) error
	// GetBlock returns the block with the given id or ErrNotFound.
	GetBlock(id zerocash.Digest) (*zerocash.Block, error)
	HasBlock(id zerocash.Digest) (bool, error)
	// Blocks returns every stored block ordered by chain length, genesis first.
	Blocks() ([]*zerocash.Block, error)
	// SetTip records the adopted tip.
	SetTip(id zerocash.Digest) error
	// Tip returns the last recorded tip, if any.
	Tip() (zerocash.Digest, bool, error)
	Close() error
}

// MemoryStore keeps blocks in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[zerocash.Digest]*zerocash.Block
	tip    *zerocash.Digest
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[zerocash.Digest]*zerocash.Block)}
}

func (s *MemoryStore) PutBlock(b *zerocash.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.ID()] = b
	return nil
}

func (s *MemoryStore) GetBlock(id zerocash.Digest) (*zerocash.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) HasBlock(id zerocash.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[id]
	return ok, nil
}

func (s *MemoryStore) Blocks() ([]*zerocash.Block, error) {
	s.mu.RLock()
	out := make([]*zerocash.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	s.mu.RUnlock()
	sortByHeight(out)
	return out, nil
}

func (s *MemoryStore) SetTip(id zerocash.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = &id
	return nil
}

func (s *MemoryStore) Tip() (zerocash.Digest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tip == nil {
		return zerocash.Digest{}, false, nil
	}
	return *s.tip, true, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortByHeight(blocks []*zerocash.Block) {
	slices.SortStableFunc(blocks, func(a, b *zerocash.Block) int {
		switch {
		case a.ChainLength() < b.ChainLength():
			return -1
		case a.ChainLength() > b.ChainLength():
			return 1
		default:
			return 0
		}
	})
}
