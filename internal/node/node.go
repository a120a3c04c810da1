package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"lamportring/internal/barrier"
	"lamportring/internal/clock"
	"lamportring/internal/eventlog"
	"lamportring/internal/inbox"
	"lamportring/internal/link"
	"lamportring/internal/metrics"
	"lamportring/internal/policy"
	"lamportring/internal/wire"
)

var (
	// ErrNotInitialized is returned by RunExperiment before Initialize.
	ErrNotInitialized = errors.New("node: not initialized")
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("node: invalid config")
)

// Config identifies a node and its place in the ring.
type Config struct {
	ID          string
	Position    int
	ListenAddr  string // accepts the predecessor here
	ConnectAddr string // the successor's listen address
	TickRate    int    // ticks per second
}

// SinkFactory creates or truncates the event log for an identity.
type SinkFactory func(eventlog.Identity) (eventlog.Sink, error)

// Node represents a single process of the ring: it owns a Lamport clock, an
// inbox fed by its two receiver tasks, and the tick loop that drains it.
type Node struct {
	cfg      Config
	openSink SinkFactory
	logger   *slog.Logger
	metrics  *metrics.Metrics
	chooser  policy.Chooser
	barrier  barrier.Barrier
	now      func() time.Time

	clock *clock.Lamport
	inbox *inbox.Queue
	sink  eventlog.Sink
	ticks atomic.Int64

	listener *link.Listener
	server   *link.Link
	client   *link.Link

	recvCancel context.CancelFunc
	recvWG     sync.WaitGroup
	recvErr    chan error
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger. The node adds its own "node" attribute.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithMetrics records tick and link activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithChooser replaces the default weighted action policy.
func WithChooser(c policy.Chooser) Option {
	return func(n *Node) { n.chooser = c }
}

// WithBarrier sets the readiness barrier passed between listening and
// dialing. Without one the node dials as soon as it is listening.
func WithBarrier(b barrier.Barrier) Option {
	return func(n *Node) { n.barrier = b }
}

// WithListener supplies an already bound server socket, for callers that
// need the bound address before the ring is wired.
func WithListener(l *link.Listener) Option {
	return func(n *Node) { n.listener = l }
}

// WithWallClock overrides time.Now for log timestamps.
func WithWallClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// NewNode creates a node with clock 0 and an empty inbox.
func NewNode(cfg Config, openSink SinkFactory, opts ...Option) (*Node, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: empty node id", ErrInvalidConfig)
	}
	if cfg.TickRate < 1 {
		return nil, fmt.Errorf("%w: tick rate must be at least 1, got %d", ErrInvalidConfig, cfg.TickRate)
	}
	if cfg.ConnectAddr == "" {
		return nil, fmt.Errorf("%w: empty connect address", ErrInvalidConfig)
	}
	if openSink == nil {
		return nil, fmt.Errorf("%w: nil sink factory", ErrInvalidConfig)
	}

	n := &Node{
		cfg:      cfg,
		openSink: openSink,
		logger:   slog.Default(),
		now:      time.Now,
		clock:    clock.New(),
		inbox:    inbox.New(),
		recvErr:  make(chan error, 2),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("node", cfg.ID)

	if n.chooser == nil {
		seed := uint64(time.Now().UnixNano()) ^ uint64(cfg.Position+1)<<32
		chooser, err := policy.NewSeeded(policy.DefaultWeights, seed)
		if err != nil {
			return nil, err
		}
		n.chooser = chooser
	}

	return n, nil
}

// Initialize opens the event log, listens, passes the readiness barrier,
// dials the successor, accepts the predecessor and starts both receiver
// tasks. Any link failure is returned wrapped in link.ErrConnect and is not
// retried.
func (n *Node) Initialize(ctx context.Context) error {
	sink, err := n.openSink(eventlog.Identity{ProcessID: n.cfg.ID, ClockRate: n.cfg.TickRate})
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	n.sink = sink

	if n.listener == nil {
		l, err := link.Listen(ctx, n.cfg.ListenAddr)
		if err != nil {
			return err
		}
		n.listener = l
	}
	n.logger.Info("listening", "addr", n.listener.Addr(), "tick_rate", n.cfg.TickRate)

	if n.barrier != nil {
		if err := n.barrier.Ready(ctx); err != nil {
			return fmt.Errorf("readiness barrier: %w", err)
		}
		if err := n.barrier.Wait(ctx); err != nil {
			return fmt.Errorf("readiness barrier: %w", err)
		}
	}

	// The predecessor can complete its dial against our backlog before we
	// call Accept, so dialing first cannot deadlock the ring.
	client, err := link.Dial(ctx, n.cfg.ConnectAddr)
	if err != nil {
		return err
	}
	n.client = client
	n.logger.Info("connected to successor", "addr", n.cfg.ConnectAddr)

	server, err := n.listener.Accept(ctx)
	if err != nil {
		return err
	}
	n.server = server
	n.logger.Info("accepted predecessor", "addr", server.RemoteAddr())

	recvCtx, cancel := context.WithCancel(context.Background())
	n.recvCancel = cancel
	n.startReceiver(recvCtx, n.server)
	n.startReceiver(recvCtx, n.client)
	return nil
}

func (n *Node) startReceiver(ctx context.Context, l *link.Link) {
	n.recvWG.Add(1)
	go func() {
		defer n.recvWG.Done()

		err := l.Receive(ctx, func(v int64) {
			n.inbox.Push(v)
			if n.metrics != nil {
				n.metrics.MessagesReceived.WithLabelValues(n.cfg.ID, string(l.Role())).Inc()
			}
		})
		switch {
		case err == nil:
			n.logger.Debug("peer shut down", "link", l.Role())
		case errors.Is(err, context.Canceled):
			n.logger.Warn("receiver cancelled before peer shutdown", "link", l.Role())
		default:
			n.logger.Error("receiver failed", "link", l.Role(), "err", err)
			n.recvErr <- err
		}
	}()
}

// RunExperiment runs the tick loop until duration has elapsed, checking the
// time only at the top of each iteration, then sends the shutdown message on
// both links. A send, log or receiver failure ends the loop early; the
// shutdown messages are still sent.
func (n *Node) RunExperiment(ctx context.Context, duration time.Duration) error {
	if n.server == nil || n.client == nil {
		return ErrNotInitialized
	}

	pacer := rate.NewLimiter(rate.Limit(n.cfg.TickRate), 1)
	// Spend the initial burst so the first tick lands one period in.
	pacer.Allow()

	start := time.Now()
	runErr := n.loop(ctx, pacer, start, duration)

	n.logger.Info("experiment finished",
		"ticks", n.ticks.Load(),
		"clock", n.clock.Value(),
		"elapsed", time.Since(start).Round(time.Millisecond))

	return errors.Join(runErr, n.sendShutdown())
}

func (n *Node) loop(ctx context.Context, pacer *rate.Limiter, start time.Time, duration time.Duration) error {
	for time.Since(start) < duration {
		select {
		case err := <-n.recvErr:
			return fmt.Errorf("receiver: %w", err)
		default:
		}

		if err := pacer.Wait(ctx); err != nil {
			return err
		}

		entry, err := n.tick()
		if err != nil {
			return err
		}
		if err := n.sink.Append(entry); err != nil {
			return fmt.Errorf("failed to log tick: %w", err)
		}
	}
	return nil
}

// tick executes exactly one event and returns its log entry.
func (n *Node) tick() (eventlog.Entry, error) {
	var (
		event    eventlog.EventType
		queueLen int
	)

	if v, remaining, ok := n.inbox.Pop(); ok {
		n.clock.Witness(v)
		event = eventlog.Receive
		queueLen = remaining
	} else {
		action := n.chooser.Choose()
		value := n.clock.Value()
		if action.SendsOnServer() {
			if err := n.send(n.server, value); err != nil {
				return eventlog.Entry{}, err
			}
		}
		if action.SendsOnClient() {
			if err := n.send(n.client, value); err != nil {
				return eventlog.Entry{}, err
			}
		}
		n.clock.Tick()

		event = eventlog.Internal
		if action.IsSend() {
			event = eventlog.Send
		}
		queueLen = n.inbox.Len()
	}

	n.ticks.Add(1)
	entry := eventlog.Entry{
		Clock:     n.clock.Value(),
		WallClock: n.now(),
		Event:     event,
		QueueLen:  queueLen,
	}

	n.logger.Debug("tick", "event", event, "clock", entry.Clock, "queue", queueLen)
	if n.metrics != nil {
		n.metrics.Ticks.WithLabelValues(n.cfg.ID, string(event)).Inc()
		n.metrics.Clock.WithLabelValues(n.cfg.ID).Set(float64(entry.Clock))
		n.metrics.QueueDepth.WithLabelValues(n.cfg.ID).Set(float64(queueLen))
	}
	return entry, nil
}

func (n *Node) send(l *link.Link, value int64) error {
	if err := l.Send(wire.DataMessage(value)); err != nil {
		return err
	}
	if n.metrics != nil {
		n.metrics.MessagesSent.WithLabelValues(n.cfg.ID, string(l.Role())).Inc()
	}
	return nil
}

func (n *Node) sendShutdown() error {
	return errors.Join(n.server.SendShutdown(), n.client.SendShutdown())
}

// Close waits for both receiver tasks to see their peer's shutdown message.
// If ctx ends first the receivers are cancelled by closing their
// connections. Links, barrier and event log are then released.
func (n *Node) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.recvWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		n.logger.Warn("peers did not shut down in time, cancelling receivers", "err", ctx.Err())
		if n.recvCancel != nil {
			n.recvCancel()
		}
		<-done
	}
	if n.recvCancel != nil {
		n.recvCancel()
	}

	var errs []error
	if n.server != nil {
		errs = append(errs, ignoreClosed(n.server.Close()))
	} else if n.listener != nil {
		errs = append(errs, ignoreClosed(n.listener.Close()))
	}
	if n.client != nil {
		errs = append(errs, ignoreClosed(n.client.Close()))
	}
	if n.barrier != nil {
		errs = append(errs, n.barrier.Close())
	}
	if n.sink != nil {
		errs = append(errs, n.sink.Close())
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ID returns the node's process id.
func (n *Node) ID() string {
	return n.cfg.ID
}

// TickRate returns ticks per second.
func (n *Node) TickRate() int {
	return n.cfg.TickRate
}

// Clock returns the current logical clock value.
func (n *Node) Clock() int64 {
	return n.clock.Value()
}

// QueueLen returns the inbox depth.
func (n *Node) QueueLen() int {
	return n.inbox.Len()
}

// Queue returns a copy of the inbox, front first.
func (n *Node) Queue() []int64 {
	return n.inbox.Snapshot()
}

// Ticks returns how many ticks have run.
func (n *Node) Ticks() int64 {
	return n.ticks.Load()
}

// Links returns the server and client links once initialized.
func (n *Node) Links() (server, client *link.Link) {
	return n.server, n.client
}

// Status is a point-in-time view of a node.
type Status struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	TickRate int    `json:"tick_rate"`
	Clock    int64  `json:"clock"`
	QueueLen int    `json:"queue_len"`
	Ticks    int64  `json:"ticks"`
}

// Status returns the node's current status.
func (n *Node) Status() Status {
	return Status{
		ID:       n.cfg.ID,
		Position: n.cfg.Position,
		TickRate: n.cfg.TickRate,
		Clock:    n.Clock(),
		QueueLen: n.QueueLen(),
		Ticks:    n.Ticks(),
	}
}
