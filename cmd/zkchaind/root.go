package main

import (
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/config"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/logging"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/transactions/spend"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

const version = "0.1.0"

// app carries what every subcommand needs once flags and config are resolved.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	log        *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: logging.Nop()}
	defaults := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "zkchaind",
		Short:         "Anonymous-payment blockchain with zk-SNARK spends",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.log.Close()
		},
	}

	fs := root.PersistentFlags()
	fs.StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	fs.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-file", defaults.LogFile, "append logs to this file")
	fs.Bool("audit", defaults.EnableAudit, "write warnings and errors to the audit log")
	fs.String("oracle", defaults.Oracle, "proof oracle: simulated or groth16")
	fs.String("oracle-secret", defaults.OracleSecret, "shared key of the simulated oracle")
	fs.String("key-dir", defaults.KeyDir, "directory of the groth16 keys")
	fs.Uint("pow-bits", defaults.PowLeadingZeroes, "leading zero bits required of a block hash")
	fs.Uint64("depth", defaults.ConfirmationDepth, "blocks behind the tip at which a block is confirmed")
	fs.Int("coinbase", defaults.CoinbaseAmount, "coins minted to the miner per block")
	fs.Int("initial-coins", defaults.InitialCoins, "coins each participant holds in the genesis block")
	fs.Int("rounds", defaults.MiningRounds, "hash attempts per mining step")
	fs.String("data-dir", defaults.DataDir, "directory for chain databases and wallets")
	fs.String("postgres-dsn", defaults.PostgresDSN, "archive accepted blocks to this Postgres database")
	bindFlags(a.v, fs, map[string]string{
		"log-level":     "log_level",
		"log-file":      "log_file",
		"audit":         "enable_audit",
		"oracle":        "oracle",
		"oracle-secret": "oracle_secret",
		"key-dir":       "key_dir",
		"pow-bits":      "pow_leading_zeroes",
		"depth":         "confirmation_depth",
		"coinbase":      "coinbase_amount",
		"initial-coins": "initial_coins",
		"rounds":        "mining_rounds",
		"data-dir":      "data_dir",
		"postgres-dsn":  "postgres_dsn",
	})

	root.AddCommand(
		newSetupCmd(a),
		newGenesisCmd(a),
		newSimulateCmd(a),
		newServeCmd(a),
		newLedgerCmd(a),
	)
	return root
}

// bindFlags binds each flag to its config key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	opts := logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: cmd.ErrOrStderr(),
		Gnark:   cfg.Oracle == config.OracleGroth16,
	}
	if cfg.EnableAudit {
		opts.AuditFile = cfg.AuditLogPath
	}
	log, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.log = log
	a.log.Debug().Str("command", cmd.Name()).Str("config", a.configPath).Msg("configuration loaded")
	return nil
}

// oracle builds the proof oracle named by the configuration.
func (a *app) oracle() (zerocash.ProofOracle, error) {
	switch a.cfg.Oracle {
	case config.OracleGroth16:
		return spend.NewGroth16Oracle(a.cfg.KeyDir, a.log.Component("groth16"))
	default:
		key := []byte(a.cfg.OracleSecret)
		if len(key) == 0 {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return nil, err
			}
			a.log.Warn().Msg("oracle_secret not set, proofs will only verify inside this process")
		}
		return spend.NewSimulatedOracle(key), nil
	}
}

// policy builds the chain policy with the configured oracle.
func (a *app) policy() (*zerocash.Policy, error) {
	oracle, err := a.oracle()
	if err != nil {
		return nil, err
	}
	p := a.cfg.Policy(oracle)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
