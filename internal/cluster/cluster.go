// Package cluster runs a whole ring inside one process: every node gets its
// own goroutines and sockets on localhost, and the nodes meet at a shared
// in-memory barrier instead of sleeping.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"lamportring/internal/barrier"
	"lamportring/internal/config"
	"lamportring/internal/eventlog"
	"lamportring/internal/link"
	"lamportring/internal/metrics"
	"lamportring/internal/node"
	"lamportring/internal/policy"
)

// Result summarizes one node after a run.
type Result struct {
	ID       string `json:"id"`
	TickRate int    `json:"tick_rate"`
	Clock    int64  `json:"clock"`
	Ticks    int64  `json:"ticks"`
	Err      error  `json:"-"`
}

// Cluster owns the nodes of a ring and the event log they share.
type Cluster struct {
	cfg     config.Config
	runID   xid.ID
	logger  *slog.Logger
	metrics *metrics.Metrics

	store *eventlog.SQLiteStore
	nodes []*node.Node
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithLogger sets the logger handed to every node.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

// WithMetrics shares one set of collectors across the nodes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cluster) { c.metrics = m }
}

// New binds every node's listen socket and creates the nodes. Nothing is
// dialed until Run.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cluster{cfg: cfg, runID: xid.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("run", c.runID.String())

	r, err := cfg.Ring()
	if err != nil {
		return nil, err
	}

	openSink, err := c.sinkFactory()
	if err != nil {
		return nil, err
	}

	rng := cfg.Rand()
	rates := cfg.TickRates(r.Len(), rng)

	// Bind first so port 0 members learn their address before their
	// predecessor needs it.
	listeners := make([]*link.Listener, r.Len())
	for i, member := range r.Nodes() {
		l, err := link.Listen(ctx, member.Addr)
		if err != nil {
			closeListeners(listeners)
			c.closeStore()
			return nil, err
		}
		listeners[i] = l
	}

	bar := barrier.NewLocal(r.Len())
	for i, member := range r.Nodes() {
		chooser, err := policy.NewSeeded(cfg.Weights, rng.Uint64())
		if err != nil {
			closeListeners(listeners)
			c.closeStore()
			return nil, err
		}

		nodeOpts := []node.Option{
			node.WithLogger(c.logger),
			node.WithListener(listeners[i]),
			node.WithBarrier(bar),
			node.WithChooser(chooser),
		}
		if c.metrics != nil {
			nodeOpts = append(nodeOpts, node.WithMetrics(c.metrics))
		}

		n, err := node.NewNode(node.Config{
			ID:          member.ID,
			Position:    i,
			ListenAddr:  listeners[i].Addr(),
			ConnectAddr: listeners[(i+1)%r.Len()].Addr(),
			TickRate:    rates[i],
		}, openSink, nodeOpts...)
		if err != nil {
			closeListeners(listeners)
			c.closeStore()
			return nil, err
		}
		c.nodes = append(c.nodes, n)
	}

	return c, nil
}

func (c *Cluster) sinkFactory() (node.SinkFactory, error) {
	switch c.cfg.LogFormat {
	case config.FormatSQLite:
		store, err := eventlog.OpenSQLite(c.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.logger.Info("logging to sqlite", "path", store.Path())
		return func(id eventlog.Identity) (eventlog.Sink, error) {
			return store.Sink(id)
		}, nil
	default:
		dir := c.cfg.LogDir
		c.logger.Info("logging to csv", "dir", dir)
		return func(id eventlog.Identity) (eventlog.Sink, error) {
			return eventlog.OpenCSV(dir, id)
		}, nil
	}
}

func closeListeners(ls []*link.Listener) {
	for _, l := range ls {
		if l != nil {
			l.Close()
		}
	}
}

// RunID identifies this run in logs.
func (c *Cluster) RunID() string {
	return c.runID.String()
}

// Nodes returns the ring members in order.
func (c *Cluster) Nodes() []*node.Node {
	return c.nodes
}

// Store returns the shared SQLite store, or nil for CSV logs.
func (c *Cluster) Store() *eventlog.SQLiteStore {
	return c.store
}

// Run initializes every node, runs the experiment on all of them at once
// and closes them. Results are returned in ring order even on error.
func (c *Cluster) Run(ctx context.Context) ([]Result, error) {
	start := time.Now()
	if err := c.initialize(ctx); err != nil {
		c.closeNodes()
		return c.results(nil), err
	}
	c.logger.Info("ring connected", "nodes", len(c.nodes), "elapsed", time.Since(start).Round(time.Millisecond))

	runErrs := make([]error, len(c.nodes))
	var g errgroup.Group
	for i, n := range c.nodes {
		g.Go(func() error {
			err := n.RunExperiment(ctx, c.cfg.Duration)
			if err != nil {
				err = fmt.Errorf("node %s: %w", n.ID(), err)
			}
			runErrs[i] = err
			return err
		})
	}
	runErr := g.Wait()

	closeErr := c.closeNodes()
	return c.results(runErrs), errors.Join(runErr, closeErr)
}

func (c *Cluster) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BarrierTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range c.nodes {
		g.Go(func() error {
			if err := n.Initialize(gctx); err != nil {
				return fmt.Errorf("node %s: %w", n.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Cluster) closeNodes() error {
	var g errgroup.Group
	for _, n := range c.nodes {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
			defer cancel()
			if err := n.Close(ctx); err != nil {
				return fmt.Errorf("node %s: close: %w", n.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Cluster) results(errs []error) []Result {
	out := make([]Result, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = Result{
			ID:       n.ID(),
			TickRate: n.TickRate(),
			Clock:    n.Clock(),
			Ticks:    n.Ticks(),
		}
		if i < len(errs) {
			out[i].Err = errs[i]
		}
	}
	return out
}

// Close releases the shared store. Logs written to it stay readable through
// Store until then.
func (c *Cluster) Close() error {
	return c.closeStore()
}

func (c *Cluster) closeStore() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}
