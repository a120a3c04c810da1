package barrier

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// ServiceName is the health service name a ready node reports.
	ServiceName = "lamportring.Node"

	defaultPollInterval = 100 * time.Millisecond
	checkTimeout        = time.Second
)

// Health is a cross-process barrier backed by gRPC health checks.
type Health struct {
	addr   string
	peers  []string
	logger *slog.Logger

	PollInterval time.Duration

	lis    net.Listener
	server *grpc.Server
	health *health.Server
}

// NewHealth creates a barrier serving on adminAddr and waiting on peers.
func NewHealth(adminAddr string, peers []string, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	return &Health{
		addr:         adminAddr,
		peers:        append([]string(nil), peers...),
		logger:       logger,
		PollInterval: defaultPollInterval,
	}
}

// Addr returns the bound admin address once Ready has run.
func (h *Health) Addr() string {
	if h.lis == nil {
		return h.addr
	}
	return h.lis.Addr().String()
}

// Ready starts the health server and reports SERVING.
func (h *Health) Ready(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on admin addr %s: %w", h.addr, err)
	}

	h.lis = lis
	h.server = grpc.NewServer()
	h.health = health.NewServer()
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := h.server.Serve(lis); err != nil {
			h.logger.Warn("health server stopped", "addr", h.Addr(), "err", err)
		}
	}()

	h.logger.Info("ready", "admin_addr", h.Addr())
	return nil
}

// Wait polls every peer until all report SERVING.
func (h *Health) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range h.peers {
		g.Go(func() error {
			return h.waitPeer(gctx, peer)
		})
	}
	return g.Wait()
}

func (h *Health) waitPeer(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  h.PollInterval,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   time.Second,
			},
			MinConnectTimeout: checkTimeout,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create health client for %s: %w", addr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			h.logger.Debug("peer ready", "peer", addr)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close marks the node NOT_SERVING and stops the health server.
func (h *Health) Close() error {
	if h.server == nil {
		return nil
	}
	h.health.Shutdown()
	h.server.GracefulStop()
	return nil
}
