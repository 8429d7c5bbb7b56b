package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/archive"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/config"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/metrics"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/node"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/p2p"
)

var (
	simulatedClients = []string{"Alice", "Bob", "Charlie"}
	simulatedMiners  = []string{"Minnie", "Mickey"}
)

// transfer is a payment the driver posts once at least afterSteps messages were delivered.
type transfer struct {
	from, to   string
	amount     int
	afterSteps int
}

func defaultTransfers(steps int) []transfer {
	return []transfer{
		{from: "Charlie", to: "Bob", amount: 2},
		{from: "Charlie", to: "Alice", amount: 2},
		{from: "Alice", to: "Bob", amount: 1},
		{from: "Alice", to: "Bob", amount: 1},
		{from: "Bob", to: "Charlie", amount: 3, afterSteps: steps / 2},
	}
}

// simulation runs every participant in one process over a FakeNet.
type simulation struct {
	log       zerolog.Logger
	net       *p2p.FakeNet
	clients   map[string]*node.Client
	miners    []*node.Miner
	order     []string
	roles     map[string]string
	genesis   *zerocash.Block
	transfers []transfer
}

type participantReport struct {
	Name      string
	Role      string
	Height    uint64
	Confirmed uint64
	Tip       zerocash.Digest
	Balance   int
	Coins     int
}

type simulationReport struct {
	Delivered    int
	Participants []participantReport
}

// newSimulation creates the participants, mints cfg.InitialCoins coins for each into one
// genesis block and hands every participant its own copy. observer receives every block Alice
// accepts.
func newSimulation(cfg *config.Config, policy *zerocash.Policy, log zerolog.Logger, col *metrics.Collector, observer func(*zerocash.Block)) (*simulation, error) {
	s := &simulation{
		log:     log.With().Str("component", "simulation").Logger(),
		net:     p2p.NewFakeNet(),
		clients: make(map[string]*node.Client),
		roles:   make(map[string]string),
	}
	opts := []node.Option{node.WithLogger(log), node.WithMetrics(col)}

	for _, name := range simulatedClients {
		clientOpts := opts
		if name == simulatedClients[0] && observer != nil {
			clientOpts = append(append([]node.Option{}, opts...), node.WithBlockHook(observer))
		}
		c, err := node.NewClient(name, s.net.Join(name), policy, clientOpts...)
		if err != nil {
			return nil, err
		}
		s.add(name, config.RoleClient, c)
	}
	for _, name := range simulatedMiners {
		m, err := node.NewMiner(name, s.net.Join(name), policy, cfg.MiningRounds, opts...)
		if err != nil {
			return nil, err
		}
		s.add(name, config.RoleMiner, m.Client)
		s.miners = append(s.miners, m)
	}

	var cms []zerocash.Digest
	for _, name := range s.order {
		cms = append(cms, s.clients[name].CreateInitialCoins(cfg.InitialCoins)...)
	}
	s.genesis = policy.MakeGenesis(cms)
	for _, name := range s.order {
		if err := s.clients[name].SetGenesisBlock(s.genesis); err != nil {
			return nil, fmt.Errorf("genesis for %s: %w", name, err)
		}
	}
	s.log.Info().Str("genesis", s.genesis.ID().Short()).Int("coins", len(cms)).Msg("genesis block created")
	return s, nil
}

func (s *simulation) add(name, role string, c *node.Client) {
	s.clients[name] = c
	s.roles[name] = role
	s.order = append(s.order, name)
}

// run starts the miners, posts the scheduled transfers and delivers up to steps messages.
// progress is told how many messages each chunk delivered. Miners are stopped afterwards and
// the messages still in flight are drained.
func (s *simulation) run(steps int, progress func(int)) (*simulationReport, error) {
	for _, m := range s.miners {
		if err := m.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize %s: %w", m.Name(), err)
		}
	}
	pending := s.transfers
	post := func(delivered int) {
		rest := pending[:0]
		for _, t := range pending {
			if t.afterSteps > delivered {
				rest = append(rest, t)
				continue
			}
			from, to := s.clients[t.from], s.clients[t.to]
			if err := from.PostTransaction(to.Address(), t.amount); err != nil {
				s.log.Warn().Err(err).Str("from", t.from).Str("to", t.to).Int("amount", t.amount).Msg("transfer skipped")
				continue
			}
			s.log.Info().Str("from", t.from).Str("to", t.to).Int("amount", t.amount).Msg("transfer posted")
		}
		pending = rest
	}

	chunk := max(steps/100, 1)
	delivered := 0
	for delivered < steps {
		post(delivered)
		n := s.net.Run(min(chunk, steps-delivered))
		delivered += n
		if progress != nil {
			progress(n)
		}
		if n == 0 {
			break
		}
	}

	for _, m := range s.miners {
		m.Stop()
	}
	drained := s.net.Run(max(steps, 1))
	s.log.Info().Int("delivered", delivered).Int("drained", drained).Int("pending", s.net.Pending()).Msg("simulation finished")
	return s.report(), nil
}

func (s *simulation) report() *simulationReport {
	r := &simulationReport{Delivered: s.net.Delivered()}
	for _, name := range s.order {
		c := s.clients[name]
		tip, confirmed := c.LastBlock(), c.LastConfirmedBlock()
		r.Participants = append(r.Participants, participantReport{
			Name:      name,
			Role:      s.roles[name],
			Height:    tip.ChainLength(),
			Confirmed: confirmed.ChainLength(),
			Tip:       tip.ID(),
			Balance:   c.ConfirmedBalance(),
			Coins:     len(c.Coins()),
		})
	}
	return r
}

func printReport(w io.Writer, r *simulationReport) {
	fmt.Fprintf(w, "Delivered %d messages\n\n", r.Delivered)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTICIPANT\tROLE\tHEIGHT\tCONFIRMED\tTIP\tBALANCE\tCOINS")
	for _, p := range r.Participants {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%d\t%d\n", p.Name, p.Role, p.Height, p.Confirmed, p.Tip.Short(), p.Balance, p.Coins)
	}
	tw.Flush()
}

func newSimulateCmd(a *app) *cobra.Command {
	var (
		archiveFile string
		export      bool
	)
	defaults := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run three clients and two miners in one process and print their balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			policy, err := a.policy()
			if err != nil {
				return err
			}
			col := metrics.NewCollector(prometheus.NewRegistry())

			var hooks []func(*zerocash.Block)
			if archiveFile != "" {
				out, err := archive.NewFileOutput(archiveFile)
				if err != nil {
					return err
				}
				defer out.Close()
				hooks = append(hooks, archive.Hook(ctx, out, a.cfg.Timeout(), a.log.Logger))
			}
			if a.cfg.PostgresDSN != "" {
				out, err := archive.NewPostgresOutput(ctx, a.cfg.PostgresDSN, a.log.Logger)
				if err != nil {
					return err
				}
				defer out.Close()
				hooks = append(hooks, archive.Hook(ctx, out, a.cfg.Timeout(), a.log.Logger))
			}
			var observer func(*zerocash.Block)
			if len(hooks) > 0 {
				observer = func(b *zerocash.Block) {
					for _, h := range hooks {
						h(b)
					}
				}
			}

			s, err := newSimulation(a.cfg, policy, a.log.Logger, col, observer)
			if err != nil {
				return err
			}
			steps := a.cfg.SimulationSteps
			s.transfers = defaultTransfers(steps)

			bar := progressbar.NewOptions64(int64(steps),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("simulating"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
			report, err := s.run(steps, func(n int) { _ = bar.Add(n) })
			_ = bar.Finish()
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)

			if export {
				l, err := s.clients[simulatedClients[0]].ConfirmedLedger()
				if err != nil {
					return err
				}
				if err := l.SaveToFile(a.cfg.LedgerPath); err != nil {
					return fmt.Errorf("export ledger: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nConfirmed ledger written to %s\n", a.cfg.LedgerPath)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Int("steps", defaults.SimulationSteps, "messages to deliver before stopping the miners")
	fs.StringVar(&archiveFile, "archive-file", "", "append every block Alice accepts to this JSON lines file")
	fs.BoolVar(&export, "export", false, "write Alice's confirmed ledger to ledger_path")
	fs.String("ledger-path", defaults.LedgerPath, "where --export writes the ledger")
	bindFlags(a.v, fs, map[string]string{
		"steps":       "simulation_steps",
		"ledger-path": "ledger_path",
	})
	return cmd
}
