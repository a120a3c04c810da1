package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"lamportring/internal/barrier"
	"lamportring/internal/cluster"
	"lamportring/internal/config"
	"lamportring/internal/eventlog"
	"lamportring/internal/metrics"
	"lamportring/internal/node"
	"lamportring/internal/policy"
	"lamportring/internal/status"
)

var (
	nodeFlags experimentFlags
	nodeIndex int
	nodeID    string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run one ring member in this process",
	Long: `Run a single member of the ring. Every member must be started with the same ring ` +
		`layout; members wait for each other through gRPC health checks on their admin ` +
		`addresses before dialing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := nodeFlags.load(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Members) == 0 && cfg.BasePort == 0 {
			return errors.New("node needs fixed ports: set --base-port or --members")
		}

		ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runNode(ctx, cmd, cfg)
	},
}

func init() {
	nodeFlags.register(nodeCmd)
	nodeCmd.Flags().IntVarP(&nodeIndex, "index", "i", 0, "ring position of this process")
	nodeCmd.Flags().StringVar(&nodeID, "id", "", "member id of this process, instead of --index")
	rootCmd.AddCommand(nodeCmd)
}

func runNode(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	r, err := cfg.Ring()
	if err != nil {
		return err
	}

	idx := nodeIndex
	if nodeID != "" {
		var ok bool
		if idx, ok = r.IndexOf(nodeID); !ok {
			return fmt.Errorf("member %q is not in the ring", nodeID)
		}
	}
	if idx < 0 || idx >= r.Len() {
		return fmt.Errorf("index %d out of range for a ring of %d", idx, r.Len())
	}
	self := r.Node(idx)

	// Every process draws the same sequence from the shared seed, so rates
	// agree across the ring when a seed is given.
	rng := cfg.Rand()
	rate := cfg.TickRates(r.Len(), rng)[idx]
	chooser, err := policy.NewSeeded(cfg.Weights, rng.Uint64()+uint64(idx))
	if err != nil {
		return err
	}

	peers := r.PeerAdminAddrs(idx)
	if self.AdminAddr == "" {
		return fmt.Errorf("member %s has no admin address", self.ID)
	}

	openSink, err := sinkFactory(cfg)
	if err != nil {
		return err
	}

	opts := []node.Option{
		node.WithLogger(logger),
		node.WithChooser(chooser),
		node.WithBarrier(barrier.NewHealth(self.AdminAddr, peers, logger.With("node", self.ID))),
	}
	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, node.WithMetrics(metrics.New(reg)))
	}

	n, err := node.NewNode(node.Config{
		ID:          self.ID,
		Position:    idx,
		ListenAddr:  self.Addr,
		ConnectAddr: r.Successor(idx).Addr,
		TickRate:    rate,
	}, openSink, opts...)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		router := status.NewRouter(status.NewHandlers([]status.Reporter{n}, reg))
		go func() {
			if err := status.Serve(ctx, cfg.MetricsAddr, router, logger, nil); err != nil {
				logger.Error("status server failed", "err", err)
			}
		}()
	}

	closeNode := sync.OnceValue(func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.CloseTimeout)
		defer cancel()
		return n.Close(closeCtx)
	})
	atexit.Register(func() { closeNode() })

	initCtx, cancel := context.WithTimeout(ctx, cfg.BarrierTimeout)
	err = n.Initialize(initCtx)
	cancel()
	if err != nil {
		return errors.Join(err, closeNode())
	}

	runErr := n.RunExperiment(ctx, cfg.Duration)
	closeErr := closeNode()

	printResults(cmd, []cluster.Result{{
		ID:       n.ID(),
		TickRate: n.TickRate(),
		Clock:    n.Clock(),
		Ticks:    n.Ticks(),
		Err:      runErr,
	}})
	return errors.Join(runErr, closeErr)
}

func sinkFactory(cfg config.Config) (node.SinkFactory, error) {
	if cfg.LogFormat != config.FormatSQLite {
		return func(id eventlog.Identity) (eventlog.Sink, error) {
			return eventlog.OpenCSV(cfg.LogDir, id)
		}, nil
	}

	store, err := eventlog.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	atexit.Register(func() { store.Close() })
	logger.Info("logging to sqlite", "path", store.Path())
	return func(id eventlog.Identity) (eventlog.Sink, error) {
		return store.Sink(id)
	}, nil
}
