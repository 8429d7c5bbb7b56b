package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/transactions/spend"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

func newSetupCmd(a *app) *cobra.Command {
	var writeConfig string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the spend circuit and generate or load its Groth16 keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if writeConfig != "" {
				if err := a.cfg.Save(writeConfig); err != nil {
					return err
				}
				a.log.Info().Str("path", writeConfig).Msg("wrote configuration")
			}

			bar := progressbar.NewOptions(-1,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("groth16 setup"),
				progressbar.OptionSpinnerType(14),
				progressbar.OptionClearOnFinish(),
			)
			stop := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				t := time.NewTicker(200 * time.Millisecond)
				defer t.Stop()
				for {
					select {
					case <-stop:
						return
					case <-t.C:
						_ = bar.Add(1)
					}
				}
			}()
			oracle, err := spend.NewGroth16Oracle(a.cfg.KeyDir, a.log.Component("setup"))
			close(stop)
			wg.Wait()
			_ = bar.Finish()
			if err != nil {
				return err
			}

			// Round-trip one spend so broken keys fail here rather than on the first transfer.
			coin, decoy := zerocash.NewCoin(), zerocash.NewCoin()
			start := time.Now()
			proof, err := oracle.Prove(zerocash.NewSpendWitness(coin, decoy.Cm, 0))
			if err != nil {
				return err
			}
			if !oracle.Verify(proof) {
				return fmt.Errorf("%w: freshly generated keys reject their own proof", zerocash.ErrInvalidProof)
			}
			a.log.Info().Dur("prove", time.Since(start)).Msg("sample spend verified")
			fmt.Fprintf(cmd.OutOrStdout(), "groth16 keys ready in %s\n", a.cfg.KeyDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&writeConfig, "write-config", "", "also save the effective configuration to this file")
	return cmd
}
