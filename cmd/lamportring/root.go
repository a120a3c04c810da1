package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"lamportring/internal/config"
)

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "lamportring",
	Short: "Emulate clock-drifted processes exchanging Lamport timestamps over a TCP ring.",
	Long: `lamportring runs N processes connected in a ring, each ticking at its own rate. ` +
		`On every tick a process either consumes one received clock value or performs a ` +
		`random send or internal event, and appends the result to its event log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		opts := &slog.HandlerOptions{Level: level}
		var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if logJSON {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
		logger = slog.New(h)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML experiment config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")
}

// Execute runs the root command and exits through atexit so registered
// cleanups run on every path.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// experimentFlags are shared by run and node.
type experimentFlags struct {
	duration    time.Duration
	nodes       int
	host        string
	basePort    int
	tickRate    int
	seed        uint64
	members     string
	logDir      string
	logFormat   string
	sqlitePath  string
	metricsAddr string
}

func (f *experimentFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.DurationVarP(&f.duration, "duration", "d", 0, "experiment length (default 1m)")
	fs.IntVarP(&f.nodes, "nodes", "n", 0, "ring size when --members is not given (default 3)")
	fs.StringVar(&f.host, "host", "", "host for generated members (default 127.0.0.1)")
	fs.IntVar(&f.basePort, "base-port", 0, "first data port; 0 picks free ports (run only)")
	fs.IntVarP(&f.tickRate, "tick-rate", "r", 0, "pin every node to this many ticks per second; 0 draws 1-6")
	fs.Uint64Var(&f.seed, "seed", 0, "random seed for tick rates and actions; 0 uses the clock")
	fs.StringVar(&f.members, "members", "", `explicit ring, e.g. "n0=127.0.0.1:2056@1,n1=127.0.0.1:3056@2"`)
	fs.StringVar(&f.logDir, "log-dir", "", "directory for CSV logs (default logs)")
	fs.StringVar(&f.logFormat, "log-format", "", "csv or sqlite")
	fs.StringVar(&f.sqlitePath, "sqlite", "", "SQLite database file; empty picks a unique name")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /nodes on this address")
}

// load reads the config file, if any, and applies explicitly set flags.
func (f *experimentFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	fs := cmd.Flags()
	if fs.Changed("duration") {
		cfg.Duration = f.duration
	}
	if fs.Changed("nodes") {
		cfg.Nodes = f.nodes
	}
	if fs.Changed("host") {
		cfg.Host = f.host
	}
	if fs.Changed("base-port") {
		cfg.BasePort = f.basePort
	}
	if fs.Changed("tick-rate") {
		cfg.TickRate = f.tickRate
	}
	if fs.Changed("seed") {
		cfg.Seed = f.seed
	}
	if fs.Changed("members") {
		members, err := config.ParseMembers(f.members)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Members = members
	}
	if fs.Changed("log-dir") {
		cfg.LogDir = f.logDir
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = strings.ToLower(f.logFormat)
	}
	if fs.Changed("sqlite") {
		cfg.SQLitePath = f.sqlitePath
		if !fs.Changed("log-format") {
			cfg.LogFormat = config.FormatSQLite
		}
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
