package node

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/storage"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/transactions/spend"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/p2p"
)

const testBits = 4

func testPolicy(depth uint64) *zerocash.Policy {
	return &zerocash.Policy{
		PowLeadingZeroes:  testBits,
		CoinbaseAmount:    1,
		ConfirmationDepth: depth,
		Oracle:            spend.NewSimulatedOracle([]byte("node-tests")),
	}
}

func mine(b *zerocash.Block) *zerocash.Block {
	for !b.HasValidProof(testBits) {
		b.IncrementProof()
	}
	return b
}

// child mines a block on parent holding one coinbase mint and txs.
func child(t *testing.T, p *zerocash.Policy, parent *zerocash.Block, txs ...*zerocash.Transaction) *zerocash.Block {
	t.Helper()
	b := zerocash.NewBlock(parent, time.Now())
	require.NoError(t, b.AddCoinbase(zerocash.NewCoin().Cm))
	for _, tx := range txs {
		require.NoError(t, b.Admit(p.Oracle, tx))
	}
	return mine(b)
}

// copyBlock gives each participant its own decoded block, as the network would.
func copyBlock(t *testing.T, b *zerocash.Block) *zerocash.Block {
	t.Helper()
	data, err := b.Serialize()
	require.NoError(t, err)
	c, err := zerocash.DeserializeBlock(data)
	require.NoError(t, err)
	return c
}

func spendTx(t *testing.T, p *zerocash.Policy, coin *zerocash.Coin, decoy zerocash.Digest) *zerocash.Transaction {
	t.Helper()
	proof, err := p.Oracle.Prove(zerocash.NewSpendWitness(coin, decoy, 0))
	require.NoError(t, err)
	return zerocash.NewTransaction(proof, zerocash.NewCoin().Cm)
}

func joinClient(t *testing.T, net *p2p.FakeNet, name string, p *zerocash.Policy, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(name, net.Join(name), p, opts...)
	require.NoError(t, err)
	return c
}

func TestLedgerViewConfirmationDepth(t *testing.T) {
	for _, tc := range []struct {
		depth     uint64
		confirmed []uint64 // confirmed height after each of three blocks
	}{
		{depth: 0, confirmed: []uint64{1, 2, 3}},
		{depth: 2, confirmed: []uint64{0, 0, 1}},
		{depth: 6, confirmed: []uint64{0, 0, 0}},
	} {
		p := testPolicy(tc.depth)
		g := p.MakeGenesis([]zerocash.Digest{zerocash.NewCoin().Cm})
		v, err := NewLedgerView(p, g, nil, zerolog.Nop(), nil)
		require.NoError(t, err)

		tip := g
		for i, want := range tc.confirmed {
			tip = child(t, p, tip)
			r := v.Receive(tip)
			require.Equal(t, Accepted, r.Outcome, r.Err)
			assert.True(t, r.TipChanged)
			assert.Equal(t, tip.ID(), v.LastBlock().ID())
			assert.Equal(t, want, v.LastConfirmedBlock().ChainLength(), "depth %d after block %d", tc.depth, i+1)
		}
	}
}

func TestLedgerViewRejects(t *testing.T) {
	p := testPolicy(0)
	g := p.MakeGenesis([]zerocash.Digest{zerocash.NewCoin().Cm})
	v, err := NewLedgerView(p, g, nil, zerolog.Nop(), nil)
	require.NoError(t, err)

	t.Run("insufficient work", func(t *testing.T) {
		b := zerocash.NewBlock(g, time.Now())
		for b.HasValidProof(testBits) {
			b.IncrementProof()
		}
		r := v.Receive(b)
		assert.Equal(t, Rejected, r.Outcome)
		assert.ErrorIs(t, r.Err, zerocash.ErrInvalidBlockProof)
	})

	t.Run("foreign genesis", func(t *testing.T) {
		other := p.MakeGenesis([]zerocash.Digest{zerocash.NewCoin().Cm})
		r := v.Receive(other)
		assert.Equal(t, Rejected, r.Outcome)
		assert.ErrorIs(t, r.Err, ErrForeignGenesis)
	})

	t.Run("duplicate", func(t *testing.T) {
		b := child(t, p, g)
		require.Equal(t, Accepted, v.Receive(b).Outcome)
		assert.Equal(t, Duplicate, v.Receive(copyBlock(t, b)).Outcome)
		assert.Equal(t, Duplicate, v.Receive(g).Outcome)
	})

	t.Run("double spend across blocks", func(t *testing.T) {
		coin := zerocash.NewCoin()
		p2 := testPolicy(0)
		g2 := p2.MakeGenesis([]zerocash.Digest{coin.Cm, zerocash.NewCoin().Cm})
		v2, err := NewLedgerView(p2, g2, nil, zerolog.Nop(), nil)
		require.NoError(t, err)
		b1 := child(t, p2, g2, spendTx(t, p2, coin, g2.Ledger().CommitmentAt(1)))
		require.Equal(t, Accepted, v2.Receive(b1).Outcome)

		respend := spendTx(t, p2, coin, g2.Ledger().CommitmentAt(1))
		next := zerocash.NewBlock(v2.LastBlock(), time.Now())
		_, err = next.VerifyTransaction(p2.Oracle, respend)
		require.ErrorIs(t, err, zerocash.ErrDoubleSpend)
		assert.Equal(t, 1, v2.LastBlock().Ledger().NumSerialNumbers())
	})
}

func TestLedgerViewOrphans(t *testing.T) {
	p := testPolicy(0)
	g := p.MakeGenesis([]zerocash.Digest{zerocash.NewCoin().Cm})
	b1 := child(t, p, g)
	b2 := child(t, p, b1)
	b2alt := child(t, p, b1)
	b3 := child(t, p, b2)

	v, err := NewLedgerView(p, g, nil, zerolog.Nop(), nil)
	require.NoError(t, err)

	r := v.Receive(b3)
	assert.Equal(t, Orphaned, r.Outcome)
	assert.ErrorIs(t, r.Err, zerocash.ErrUnknownParent)
	assert.True(t, r.RequestMissing)
	assert.Equal(t, b2.ID(), r.Missing)

	r = v.Receive(b2)
	assert.Equal(t, Orphaned, r.Outcome)
	assert.True(t, r.RequestMissing)
	assert.Equal(t, b1.ID(), r.Missing)

	r = v.Receive(b2alt)
	assert.Equal(t, Orphaned, r.Outcome)
	assert.False(t, r.RequestMissing, "b1 was already requested")
	assert.Equal(t, Duplicate, v.Receive(b2alt).Outcome)
	assert.Equal(t, 3, v.NumOrphans())
	assert.Equal(t, g.ID(), v.LastBlock().ID())

	r = v.Receive(b1)
	require.Equal(t, Accepted, r.Outcome, r.Err)
	require.Len(t, r.Connected, 4)
	assert.Equal(t, b1.ID(), r.Connected[0].ID())
	assert.True(t, r.TipChanged)
	assert.Equal(t, b3.ID(), v.LastBlock().ID())
	assert.Equal(t, 0, v.NumOrphans())
	assert.Equal(t, 5, v.NumBlocks())
}

func TestLedgerViewRestore(t *testing.T) {
	p := testPolicy(1)
	g := p.MakeGenesis([]zerocash.Digest{zerocash.NewCoin().Cm})
	store := storage.NewMemoryStore()
	v, err := NewLedgerView(p, g, store, zerolog.Nop(), nil)
	require.NoError(t, err)

	b1 := child(t, p, g)
	b2 := child(t, p, b1)
	require.Equal(t, Accepted, v.Receive(b1).Outcome)
	require.Equal(t, Accepted, v.Receive(b2).Outcome)

	restored, err := RestoreLedgerView(p, g, store, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, b2.ID(), restored.LastBlock().ID())
	assert.Equal(t, b1.ID(), restored.LastConfirmedBlock().ID())
	assert.Equal(t, 3, restored.NumBlocks())

	_, err = RestoreLedgerView(p, p.MakeGenesis(nil), store, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrForeignGenesis)
}

func TestClientBalanceAndPost(t *testing.T) {
	net := p2p.NewFakeNet()
	p := testPolicy(0)
	alice := joinClient(t, net, "alice", p)
	bob := joinClient(t, net, "bob", p)

	assert.Equal(t, 0, alice.ConfirmedBalance())
	assert.ErrorIs(t, alice.PostTransaction("bob", 1), ErrNoGenesis)

	cms := append(alice.CreateInitialCoins(3), bob.CreateInitialCoins(1)...)
	g := p.MakeGenesis(cms)
	require.NoError(t, alice.SetGenesisBlock(g))
	require.NoError(t, bob.SetGenesisBlock(g))
	assert.NotSame(t, alice.LastBlock(), bob.LastBlock())
	assert.Equal(t, g.ID(), alice.LastBlock().ID())

	assert.Equal(t, 3, alice.ConfirmedBalance())
	assert.Equal(t, 1, bob.ConfirmedBalance())

	err := alice.PostTransaction(bob.Address(), 4)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Len(t, alice.Coins(), 3)
	assert.Zero(t, net.Pending())

	require.NoError(t, alice.PostTransaction(bob.Address(), 2))
	assert.Len(t, alice.Coins(), 1)
	assert.Equal(t, 1, alice.ConfirmedBalance())
	assert.Equal(t, 2, net.Pending())

	net.Run(100)
	// Bob spent both coins into fresh ones that are not on chain yet.
	assert.Len(t, bob.Coins(), 3)
	assert.Equal(t, 1, bob.ConfirmedBalance())
}

func TestBalanceIgnoresSpentCoins(t *testing.T) {
	p := testPolicy(0)
	net := p2p.NewFakeNet()
	alice := joinClient(t, net, "alice", p)
	cms := alice.CreateInitialCoins(2)
	g := p.MakeGenesis(cms)
	require.NoError(t, alice.SetGenesisBlock(g))

	// Someone holding a copy of alice's first coin spends it.
	spent := alice.Coins()[0]
	b1 := child(t, p, g, spendTx(t, p, spent, cms[1]))
	r := alice.ReceiveBlock(copyBlock(t, b1))
	require.Equal(t, Accepted, r.Outcome, r.Err)

	assert.Len(t, alice.Coins(), 2)
	assert.Equal(t, 1, alice.ConfirmedBalance())
	require.NoError(t, alice.PostTransaction("alice", 1))
	assert.ErrorIs(t, alice.PostTransaction("alice", 1), ErrInsufficientFunds)
}

func TestReceiveTransactionNeedsDecoy(t *testing.T) {
	p := testPolicy(0)
	net := p2p.NewFakeNet()
	alice := joinClient(t, net, "alice", p)
	coin := zerocash.NewCoin()
	require.NoError(t, alice.SetGenesisBlock(p.MakeGenesis([]zerocash.Digest{coin.Cm})))

	_, err := alice.ReceiveTransaction(coin)
	assert.ErrorIs(t, err, zerocash.ErrNoDecoyCommitment)
}

func TestMissingBlockRequest(t *testing.T) {
	p := testPolicy(0)
	net := p2p.NewFakeNet()
	alice := joinClient(t, net, "alice", p)
	carol := joinClient(t, net, "carol", p)

	g := p.MakeGenesis(alice.CreateInitialCoins(2))
	require.NoError(t, alice.SetGenesisBlock(g))
	require.NoError(t, carol.SetGenesisBlock(g))

	b1 := child(t, p, g)
	b2 := child(t, p, b1)
	require.Equal(t, Accepted, alice.ReceiveBlock(copyBlock(t, b1)).Outcome)
	require.Equal(t, Accepted, alice.ReceiveBlock(copyBlock(t, b2)).Outcome)

	r := carol.ReceiveBlock(copyBlock(t, b2))
	require.Equal(t, Orphaned, r.Outcome)
	assert.Equal(t, g.ID(), carol.LastBlock().ID())
	assert.Equal(t, 1, net.Pending(), "MISSING_BLOCK broadcast to alice")

	net.Run(10)
	assert.Equal(t, b2.ID(), carol.LastBlock().ID())
	_, ok := carol.Block(b1.ID())
	assert.True(t, ok)
}

func TestWalletFile(t *testing.T) {
	p := testPolicy(0)
	path := filepath.Join(t.TempDir(), "alice_wallet.json")

	alice, err := NewClient("alice", p2p.NewFakeNet().Join("alice"), p, WithWalletFile(path))
	require.NoError(t, err)
	cms := alice.CreateInitialCoins(2)

	again, err := NewClient("alice", p2p.NewFakeNet().Join("alice"), p, WithWalletFile(path))
	require.NoError(t, err)
	coins := again.Coins()
	require.Len(t, coins, 2)
	assert.Equal(t, cms[0], coins[0].Cm)
	assert.True(t, coins[1].Valid())
}

func TestMinerSealsBlocks(t *testing.T) {
	p := testPolicy(0)
	net := p2p.NewFakeNet()
	var hooked []zerocash.Digest
	minnie, err := NewMiner("minnie", net.Join("minnie"), p, 50, WithBlockHook(func(b *zerocash.Block) {
		hooked = append(hooked, b.ID())
	}))
	require.NoError(t, err)
	alice := joinClient(t, net, "alice", p)

	assert.ErrorIs(t, minnie.Initialize(), ErrNoGenesis)

	g := p.MakeGenesis(append(minnie.CreateInitialCoins(1), alice.CreateInitialCoins(1)...))
	require.NoError(t, minnie.SetGenesisBlock(g))
	require.NoError(t, alice.SetGenesisBlock(g))
	require.NoError(t, minnie.Initialize())

	net.RunUntil(10000, func() bool {
		tip := alice.LastBlock()
		return tip != nil && tip.ChainLength() >= 3
	})
	minnie.Stop()
	net.Run(10000)

	require.GreaterOrEqual(t, alice.LastBlock().ChainLength(), uint64(3))
	height := minnie.LastBlock().ChainLength()
	assert.Equal(t, alice.LastBlock().ID(), minnie.LastBlock().ID())
	assert.Equal(t, 1+int(height), minnie.ConfirmedBalance())
	assert.Len(t, hooked, int(height))
	assert.Equal(t, height+1, minnie.CurrentBlock().ChainLength())
}

func TestMinerIncludesTransfers(t *testing.T) {
	p := testPolicy(0)
	net := p2p.NewFakeNet()
	alice := joinClient(t, net, "alice", p)
	bob := joinClient(t, net, "bob", p)
	minnie, err := NewMiner("minnie", net.Join("minnie"), p, 50)
	require.NoError(t, err)

	cms := append(alice.CreateInitialCoins(2), minnie.CreateInitialCoins(1)...)
	g := p.MakeGenesis(cms)
	for _, part := range []Participant{alice, bob, minnie} {
		require.NoError(t, part.SetGenesisBlock(g))
	}
	require.NoError(t, minnie.Initialize())
	spent := alice.Coins()[0]
	require.NoError(t, alice.PostTransaction(bob.Address(), 1))

	net.RunUntil(20000, func() bool { return bob.ConfirmedBalance() == 1 })
	minnie.Stop()

	assert.Equal(t, 1, bob.ConfirmedBalance())
	assert.Equal(t, 1, alice.ConfirmedBalance())
	tip := bob.LastConfirmedBlock()
	assert.True(t, tip.Ledger().HasSerialNumber(spent.Sn))

	sns := tip.Ledger().SerialNumbers()
	seen := make(map[zerocash.Digest]bool)
	for _, sn := range sns {
		assert.False(t, seen[sn], "serial number %s revealed twice", sn.Short())
		seen[sn] = true
	}
}

func TestMinerResyncOnLongerFork(t *testing.T) {
	p := testPolicy(0)
	coins := []*zerocash.Coin{zerocash.NewCoin(), zerocash.NewCoin(), zerocash.NewCoin()}
	g := p.MakeGenesis([]zerocash.Digest{coins[0].Cm, coins[1].Cm, coins[2].Cm})

	shared := spendTx(t, p, coins[0], coins[2].Cm)
	onlyA := spendTx(t, p, coins[1], coins[2].Cm)

	// Two miners seal height 1 at the same time; B's branch grows first.
	b1A := child(t, p, g, shared, onlyA)
	b1B := child(t, p, g, shared)
	b2B := child(t, p, b1B)

	net := p2p.NewFakeNet()
	mickey, err := NewMiner("mickey", net.Join("mickey"), p, 10)
	require.NoError(t, err)
	require.NoError(t, mickey.SetGenesisBlock(g))
	require.NoError(t, mickey.Initialize())

	r := mickey.ReceiveBlock(copyBlock(t, b1A))
	require.Equal(t, Accepted, r.Outcome, r.Err)
	assert.Equal(t, b1A.ID(), mickey.CurrentBlock().PrevBlockHash())

	r = mickey.ReceiveBlock(copyBlock(t, b1B))
	require.Equal(t, Accepted, r.Outcome, r.Err)
	assert.False(t, r.TipChanged, "equal length fork must not displace the first block received")
	assert.Equal(t, b1A.ID(), mickey.LastBlock().ID())
	assert.Equal(t, b1A.ID(), mickey.CurrentBlock().PrevBlockHash())

	r = mickey.ReceiveBlock(copyBlock(t, b2B))
	require.Equal(t, Accepted, r.Outcome, r.Err)
	assert.True(t, r.TipChanged)
	assert.Equal(t, b2B.ID(), mickey.LastBlock().ID())

	candidate := mickey.CurrentBlock()
	assert.Equal(t, b2B.ID(), candidate.PrevBlockHash())
	assert.True(t, candidate.HasTransaction(onlyA.ID()), "displaced transaction re-queued")
	assert.False(t, candidate.HasTransaction(shared.ID()), "transaction already on the new chain")
	assert.True(t, candidate.Ledger().HasSerialNumber(coins[1].Sn))

	// Coinbase coins of abandoned candidates are not kept.
	assert.Len(t, mickey.Coins(), 1)
}

func TestMinerRejectsInvalidTransactions(t *testing.T) {
	p := testPolicy(0)
	coin := zerocash.NewCoin()
	g := p.MakeGenesis([]zerocash.Digest{coin.Cm, zerocash.NewCoin().Cm})

	minnie, err := NewMiner("minnie", p2p.NewFakeNet().Join("minnie"), p, 10)
	require.NoError(t, err)
	assert.ErrorIs(t, minnie.AddTransaction(spendTx(t, p, coin, g.Ledger().CommitmentAt(1))), ErrMinerNotInitialized)
	require.NoError(t, minnie.SetGenesisBlock(g))
	require.NoError(t, minnie.StartNewSearch(nil))

	tx := spendTx(t, p, coin, g.Ledger().CommitmentAt(1))
	require.NoError(t, minnie.AddTransaction(tx))
	assert.ErrorIs(t, minnie.AddTransaction(tx), zerocash.ErrDuplicateTransaction)
	assert.ErrorIs(t, minnie.AddTransaction(spendTx(t, p, coin, g.Ledger().CommitmentAt(1))), zerocash.ErrDoubleSpend)

	forged := spendTx(t, p, zerocash.NewCoin(), zerocash.NewCoin().Cm)
	assert.ErrorIs(t, minnie.AddTransaction(forged), zerocash.ErrUnknownCommitment)

	forged.Proof.Proof[0] ^= 1
	assert.ErrorIs(t, minnie.AddTransaction(forged), zerocash.ErrInvalidProof)
}
