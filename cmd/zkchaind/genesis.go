package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/node"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

const walletFilename = "wallet.json"

func participantDir(dataDir, name string) string {
	return filepath.Join(dataDir, name)
}

func walletPath(dataDir, name string) string {
	return filepath.Join(participantDir(dataDir, name), walletFilename)
}

func newGenesisCmd(a *app) *cobra.Command {
	var (
		participants []string
		out          string
	)
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Mint initial coins for each participant and write the genesis block",
		Long: "Creates a wallet under <data-dir>/<name>/ for every participant holding initial_coins\n" +
			"fresh coins, and writes a genesis block whose cmlist holds all of their commitments.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(participants) == 0 {
				return fmt.Errorf("no participants given")
			}
			var cms []zerocash.Digest
			for _, name := range participants {
				name = strings.TrimSpace(name)
				w := node.NewWallet(name)
				for i := 0; i < a.cfg.InitialCoins; i++ {
					coin := zerocash.NewCoin()
					w.Add(coin)
					cms = append(cms, coin.Cm)
				}
				if err := os.MkdirAll(participantDir(a.cfg.DataDir, name), 0o755); err != nil {
					return err
				}
				if err := w.Save(walletPath(a.cfg.DataDir, name)); err != nil {
					return fmt.Errorf("save wallet of %s: %w", name, err)
				}
			}
			g := zerocash.NewGenesisBlock(cms, time.Now())
			if out == "" {
				out = a.cfg.GenesisPath
			}
			if err := saveGenesis(out, g); err != nil {
				return err
			}
			a.log.Audit("genesis_created", map[string]any{"block": g.ID().String(), "participants": participants})
			fmt.Fprintf(cmd.OutOrStdout(), "genesis %s with %d coins written to %s\n", g.ID().Short(), len(cms), out)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&participants, "participants", nil, "participant names, comma separated")
	cmd.Flags().StringVarP(&out, "out", "o", "", "genesis file (default genesis_path)")
	return cmd
}

func saveGenesis(path string, g *zerocash.Block) error {
	data, err := g.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	return nil
}

func loadGenesis(path string) (*zerocash.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	g, err := zerocash.DeserializeBlock(data)
	if err != nil {
		return nil, err
	}
	if !g.IsGenesis() {
		return nil, fmt.Errorf("%s holds block %s at height %d, not a genesis block", path, g.ID().Short(), g.ChainLength())
	}
	return g, nil
}
