package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/archive"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/node"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/storage"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and export a participant's stored chain",
	}
	cmd.PersistentFlags().String("genesis", "", "genesis block file (default genesis_path)")
	cmd.AddCommand(newLedgerExportCmd(a), newLedgerShowCmd(), newLedgerArchiveCmd(a))
	return cmd
}

// restoreView rebuilds the stored chain of participant name. Every block is validated again.
func (a *app) restoreView(cmd *cobra.Command, name string) (*node.LedgerView, func() error, error) {
	genesisPath, _ := cmd.Flags().GetString("genesis")
	if genesisPath == "" {
		genesisPath = a.cfg.GenesisPath
	}
	genesis, err := loadGenesis(genesisPath)
	if err != nil {
		return nil, nil, err
	}
	policy, err := a.policy()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.OpenBoltStore(participantDir(a.cfg.DataDir, name))
	if err != nil {
		return nil, nil, err
	}
	v, err := node.RestoreLedgerView(policy, genesis, store, a.log.Component("ledger"), nil)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return v, store.Close, nil
}

func newLedgerExportCmd(a *app) *cobra.Command {
	var name, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the confirmed cmlist and snlist of a participant to a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, closeStore, err := a.restoreView(cmd, name)
			if err != nil {
				return err
			}
			defer closeStore()
			if out == "" {
				out = a.cfg.LedgerPath
			}
			confirmed := v.LastConfirmedBlock()
			if err := confirmed.Ledger().SaveToFile(out); err != nil {
				return fmt.Errorf("export ledger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger of block %s (height %d, tip %d) written to %s\n",
				confirmed.ID().Short(), confirmed.ChainLength(), v.LastBlock().ChainLength(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "node", "participant whose chain is exported")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default ledger_path)")
	return cmd
}

func newLedgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ledger.json>",
		Short: "Print a ledger exported with 'ledger export' or 'simulate --export'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := zerocash.LoadLedgerFromFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d commitments, %d serial numbers\n", l.NumCommitments(), l.NumSerialNumbers())
			fmt.Fprintln(w, "cmlist:")
			for i, cm := range l.Commitments() {
				fmt.Fprintf(w, "  %4d  %s\n", i, cm)
			}
			fmt.Fprintln(w, "snlist:")
			for i, sn := range l.SerialNumbers() {
				fmt.Fprintf(w, "  %4d  %s\n", i, sn)
			}
			return nil
		},
	}
}

func newLedgerArchiveCmd(a *app) *cobra.Command {
	var name, file string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy a participant's main chain into Postgres or a JSON lines file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out archive.Output
			switch {
			case file != "":
				fo, err := archive.NewFileOutput(file)
				if err != nil {
					return err
				}
				out = fo
			case a.cfg.PostgresDSN != "":
				po, err := archive.NewPostgresOutput(cmd.Context(), a.cfg.PostgresDSN, a.log.Logger)
				if err != nil {
					return err
				}
				out = po
			default:
				return fmt.Errorf("nothing to archive to: set --file or postgres_dsn")
			}
			defer out.Close()

			v, closeStore, err := a.restoreView(cmd, name)
			if err != nil {
				return err
			}
			defer closeStore()

			chain := mainChain(v)
			for _, b := range chain {
				if err := out.WriteBlock(cmd.Context(), b); err != nil {
					return err
				}
			}
			latest, err := out.GetLatestBlock(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d blocks, latest %s at height %d\n",
				len(chain), latest.ID().Short(), latest.ChainLength())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "node", "participant whose chain is archived")
	cmd.Flags().StringVar(&file, "file", "", "write JSON lines here instead of Postgres")
	return cmd
}

// mainChain returns the blocks from genesis to the tip of v.
func mainChain(v *node.LedgerView) []*zerocash.Block {
	var chain []*zerocash.Block
	for b := v.LastBlock(); b != nil; {
		chain = append(chain, b)
		if b.IsGenesis() {
			break
		}
		parent, ok := v.Block(b.PrevBlockHash())
		if !ok {
			break
		}
		b = parent
	}
	slices.Reverse(chain)
	return chain
}
