package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

func testChain(t *testing.T) []*zerocash.Block {
	t.Helper()
	genesis := zerocash.NewGenesisBlock([]zerocash.Digest{zerocash.NewCoin().Cm}, time.UnixMilli(1_700_000_000_000))
	chain := []*zerocash.Block{genesis}
	for i := 0; i < 3; i++ {
		b := zerocash.NewBlock(chain[len(chain)-1], time.UnixMilli(1_700_000_000_000+int64(i+1)*1000))
		require.NoError(t, b.AddCoinbase(zerocash.NewCoin().Cm))
		chain = append(chain, b)
	}
	return chain
}

func exerciseStore(t *testing.T, s BlockStore) {
	chain := testChain(t)

	_, found, err := s.Tip()
	require.NoError(t, err)
	assert.False(t, found)

	// insert out of order; Blocks must still come back by height
	for _, i := range []int{2, 0, 3, 1} {
		require.NoError(t, s.PutBlock(chain[i]))
	}
	require.NoError(t, s.PutBlock(chain[1]))

	ok, err := s.HasBlock(chain[2].ID())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetBlock(chain[3].ID())
	require.NoError(t, err)
	assert.Equal(t, chain[3].ID(), got.ID())
	assert.True(t, got.Ledger().Equal(chain[3].Ledger()))

	_, err = s.GetBlock(zerocash.RandomDigest())
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.Blocks()
	require.NoError(t, err)
	require.Len(t, all, len(chain))
	for i, b := range all {
		assert.Equal(t, chain[i].ID(), b.ID())
	}

	require.NoError(t, s.SetTip(chain[3].ID()))
	tip, found, err := s.Tip()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, chain[3].ID(), tip)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestBoltStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBoltStore(dir)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	reopened, err := OpenBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.Blocks()
	require.NoError(t, err)
	assert.Len(t, all, 4)
	_, found, err := reopened.Tip()
	require.NoError(t, err)
	assert.True(t, found)
}
