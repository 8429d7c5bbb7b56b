package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/archive"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/config"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/metrics"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/node"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/storage"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/p2p"
)

const healthCheckInterval = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	defaults := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one participant that talks to its peers over HTTP",
		Long: "Runs the participant named by --name as a client or miner. Peers are read from the\n" +
			"peers map of the config file (name: host:port). The participant's wallet and block\n" +
			"database live in <data-dir>/<name>/; create them with the genesis command.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	fs := cmd.Flags()
	fs.String("name", defaults.Name, "participant name, also its network id")
	fs.String("role", defaults.Role, "participant role: client or miner")
	fs.String("listen", defaults.Listen, "address of the participant's HTTP endpoint")
	fs.String("metrics-listen", defaults.MetricsListen, "address of the /metrics endpoint; empty serves it on --listen")
	fs.String("genesis", defaults.GenesisPath, "genesis block file")
	fs.Int("rate-limit", defaults.RateLimit, "messages per second accepted from each peer")
	bindFlags(a.v, fs, map[string]string{
		"name":           "name",
		"role":           "role",
		"listen":         "listen",
		"metrics-listen": "metrics_listen",
		"genesis":        "genesis_path",
		"rate-limit":     "rate_limit",
	})
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	log := a.log.Component("serve").With().Str("participant", cfg.Name).Logger()

	policy, err := a.policy()
	if err != nil {
		return err
	}
	genesis, err := loadGenesis(cfg.GenesisPath)
	if err != nil {
		return err
	}
	store, err := storage.OpenBoltStore(participantDir(cfg.DataDir, cfg.Name))
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg)

	n := p2p.NewNode(cfg.Name, cfg.Listen, cfg.Peers,
		p2p.WithLogger(a.log.Component("p2p")),
		p2p.WithTimeout(cfg.Timeout()),
		p2p.WithRateLimit(cfg.RateLimit),
	)

	opts := []node.Option{
		node.WithLogger(a.log.Logger),
		node.WithMetrics(col),
		node.WithStore(store),
		node.WithWalletFile(walletPath(cfg.DataDir, cfg.Name)),
	}
	if cfg.PostgresDSN != "" {
		out, err := archive.NewPostgresOutput(ctx, cfg.PostgresDSN, a.log.Logger)
		if err != nil {
			return err
		}
		defer out.Close()
		opts = append(opts, node.WithBlockHook(archive.Hook(ctx, out, cfg.Timeout(), a.log.Logger)))
	}

	var (
		client *node.Client
		miner  *node.Miner
	)
	if cfg.Role == config.RoleMiner {
		miner, err = node.NewMiner(cfg.Name, n, policy, cfg.MiningRounds, opts...)
		if err != nil {
			return err
		}
		client = miner.Client
	} else {
		client, err = node.NewClient(cfg.Name, n, policy, opts...)
		if err != nil {
			return err
		}
	}
	if err := client.SetGenesisBlock(genesis); err != nil {
		return err
	}
	a.log.Audit("participant_started", map[string]any{
		"name":    cfg.Name,
		"role":    cfg.Role,
		"genesis": genesis.ID().String(),
		"tip":     client.LastBlock().ID().String(),
	})

	health := NewHealthChecker(cfg.Name, version)
	health.RegisterComponent("store", func() error {
		_, _, err := store.Tip()
		return err
	})
	health.RegisterComponent("peers", func() error { return peerHealth(cfg.Peers, n.HealthStatus()) })
	health.RegisterComponent("chain", func() error {
		if client.LastBlock() == nil {
			return node.ErrNoGenesis
		}
		return nil
	})

	n.Handle("/health", health)
	n.Handle("/wallet", walletHandler(client))
	n.Handle("/send", sendHandler(client))
	metricsHandler := metrics.Handler(reg)
	if cfg.MetricsListen == "" {
		n.Handle("/metrics", metricsHandler)
	}

	if miner != nil {
		// The first search step is queued now and runs once the dispatch loop starts.
		if err := miner.Initialize(); err != nil {
			return err
		}
		defer miner.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.ListenAndServe(ctx) })
	g.Go(func() error { return n.Run(ctx) })
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.Handle("/health", health)
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsListen).Msg("metrics server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		t := time.NewTicker(healthCheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				n.HealthCheck()
			}
		}
	})
	log.Info().Str("role", cfg.Role).Str("listen", cfg.Listen).Int("peers", len(cfg.Peers)).
		Uint64("height", client.LastBlock().ChainLength()).Msg("participant running")
	err = g.Wait()
	log.Info().Msg("participant stopped")
	return err
}

// peerHealth is degraded while some peers miss their pongs and unhealthy once all of them do.
func peerHealth(peers map[string]string, status map[string]bool) error {
	if len(peers) == 0 {
		return nil
	}
	var down int
	for id := range peers {
		if !status[id] {
			down++
		}
	}
	switch {
	case down == 0:
		return nil
	case down == len(peers):
		return fmt.Errorf("no peer answered the last ping")
	default:
		return fmt.Errorf("%w: %d of %d peers not answering", errDegraded, down, len(peers))
	}
}

type walletResponse struct {
	Name            string `json:"name"`
	Balance         int    `json:"balance"`
	Coins           int    `json:"coins"`
	Height          uint64 `json:"height"`
	ConfirmedHeight uint64 `json:"confirmed_height"`
	Tip             string `json:"tip"`
}

func walletHandler(c *node.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tip, confirmed := c.LastBlock(), c.LastConfirmedBlock()
		if tip == nil {
			http.Error(w, node.ErrNoGenesis.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(walletResponse{
			Name:            c.Name(),
			Balance:         c.ConfirmedBalance(),
			Coins:           len(c.Coins()),
			Height:          tip.ChainLength(),
			ConfirmedHeight: confirmed.ChainLength(),
			Tip:             tip.ID().String(),
		})
	})
}

type sendRequest struct {
	To     string `json:"to"`
	Amount int    `json:"amount"`
}

func sendHandler(c *node.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		err := c.PostTransaction(req.To, req.Amount)
		switch {
		case errors.Is(err, node.ErrInsufficientFunds):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	})
}
