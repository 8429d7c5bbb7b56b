package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/archive"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/config"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/node"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/storage"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/transactions/spend"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-level", "error"))
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestSimulationBalances(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PowLeadingZeroes = 4
	cfg.MiningRounds = 16
	cfg.ConfirmationDepth = 0
	policy := cfg.Policy(spend.NewSimulatedOracle([]byte("simulation-tests")))

	var accepted int
	s, err := newSimulation(cfg, policy, zerolog.Nop(), nil, func(*zerocash.Block) { accepted++ })
	require.NoError(t, err)
	s.transfers = defaultTransfers(2000)

	var progressed int
	report, err := s.run(2000, func(n int) { progressed += n })
	require.NoError(t, err)
	assert.Equal(t, 2000, progressed)
	assert.Positive(t, accepted)
	assert.Zero(t, s.net.Pending())

	balances := make(map[string]int)
	for _, p := range report.Participants {
		assert.Positive(t, p.Height, p.Name)
		assert.Equal(t, p.Height, p.Confirmed, p.Name)
		balances[p.Name] = p.Balance
	}
	// 4 initial coins each; Charlie pays 2 to Bob and 2 to Alice, Alice pays 2 to Bob,
	// Bob pays 3 back to Charlie.
	assert.Equal(t, 4, balances["Alice"])
	assert.Equal(t, 5, balances["Bob"])
	assert.Equal(t, 3, balances["Charlie"])
	assert.Greater(t, balances["Minnie"]+balances["Mickey"], 2*cfg.InitialCoins)

	for _, name := range s.order {
		l := s.clients[name].LastBlock().Ledger()
		seen := make(map[zerocash.Digest]bool)
		for _, sn := range l.SerialNumbers() {
			assert.False(t, seen[sn], "%s: serial number %s revealed twice", name, sn.Short())
			seen[sn] = true
		}
	}
}

func TestSimulateCommand(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.json")
	archivePath := filepath.Join(dir, "blocks.jsonl")

	out := execute(t, "simulate",
		"--pow-bits", "4",
		"--rounds", "16",
		"--depth", "1",
		"--steps", "1000",
		"--oracle-secret", "cli-tests",
		"--archive-file", archivePath,
		"--export",
		"--ledger-path", ledgerPath,
	)
	assert.Contains(t, out, "PARTICIPANT")
	for _, name := range append(simulatedClients, simulatedMiners...) {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Confirmed ledger written to "+ledgerPath)

	l, err := zerocash.LoadLedgerFromFile(ledgerPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, l.NumCommitments(), 5*config.DefaultConfig().InitialCoins)

	blocks, err := archive.ReadFile(archivePath)
	require.NoError(t, err)
	require.NotEmpty(t, blocks)
	for _, b := range blocks {
		assert.False(t, b.IsGenesis())
	}
}

func TestGenesisAndLedgerCommands(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	genesisPath := filepath.Join(dir, "genesis.json")
	common := []string{"--data-dir", dataDir, "--pow-bits", "0", "--depth", "0", "--oracle-secret", "ledger-tests"}

	out := execute(t, append([]string{"genesis", "--participants", "alice,bob", "--initial-coins", "2", "-o", genesisPath}, common...)...)
	assert.Contains(t, out, "with 4 coins")

	g, err := loadGenesis(genesisPath)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Ledger().NumCommitments())
	for _, name := range []string{"alice", "bob"} {
		w, err := node.LoadWallet(walletPath(dataDir, name))
		require.NoError(t, err)
		require.Len(t, w.Coins, 2)
		for _, c := range w.Coins {
			assert.True(t, g.Ledger().HasCommitment(c.Cm))
		}
	}

	// Give alice a stored chain one block past genesis.
	store, err := storage.OpenBoltStore(participantDir(dataDir, "alice"))
	require.NoError(t, err)
	policy := &zerocash.Policy{CoinbaseAmount: 1, Oracle: spend.NewSimulatedOracle([]byte("ledger-tests"))}
	v, err := node.NewLedgerView(policy, g, store, zerolog.Nop(), nil)
	require.NoError(t, err)
	b := zerocash.NewBlock(g, time.Now())
	require.NoError(t, b.AddCoinbase(zerocash.NewCoin().Cm))
	require.Equal(t, node.Accepted, v.Receive(b).Outcome)
	require.NoError(t, store.Close())

	ledgerPath := filepath.Join(dir, "ledger.json")
	out = execute(t, append([]string{"ledger", "export", "--name", "alice", "--genesis", genesisPath, "-o", ledgerPath}, common...)...)
	assert.Contains(t, out, "height 1")

	out = execute(t, "ledger", "show", ledgerPath)
	assert.Contains(t, out, "5 commitments, 0 serial numbers")

	archivePath := filepath.Join(dir, "chain.jsonl")
	out = execute(t, append([]string{"ledger", "archive", "--name", "alice", "--genesis", genesisPath, "--file", archivePath}, common...)...)
	assert.Contains(t, out, "archived 2 blocks")
	blocks, err := archive.ReadFile(archivePath)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, b.ID(), blocks[1].ID())
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("alice", version)
	peers := map[string]string{"bob": "localhost:1", "carol": "localhost:2"}
	status := map[string]bool{"bob": true}
	hc.RegisterComponent("peers", func() error { return peerHealth(peers, status) })
	hc.RegisterComponent("store", func() error { return nil })

	health := hc.CheckHealth()
	assert.Equal(t, Degraded, health.OverallStatus)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "peers", health.Components[0].Name)
	assert.Equal(t, Degraded, health.Components[0].Status)
	assert.Equal(t, Healthy, health.Components[1].Status)

	status["carol"] = true
	assert.Equal(t, Healthy, hc.CheckHealth().OverallStatus)

	status["bob"], status["carol"] = false, false
	rec := httptest.NewRecorder()
	hc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body SystemHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, Unhealthy, body.OverallStatus)
	assert.Equal(t, "alice", body.Participant)
}

func TestPeerHealthWithoutPeers(t *testing.T) {
	assert.NoError(t, peerHealth(nil, nil))
}
