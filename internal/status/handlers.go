// Package status serves a read-only HTTP view of running nodes: their clock
// and queue as JSON, plus the Prometheus scrape endpoint.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lamportring/internal/node"
)

// Reporter is anything that can describe a node.
type Reporter interface {
	Status() node.Status
}

// NodesResponse is the body of GET /nodes.
type NodesResponse struct {
	Nodes []node.Status `json:"nodes"`
}

// ErrorResponse is returned with non-2xx codes.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers serves node status.
type Handlers struct {
	reporters []Reporter
	gatherer  prometheus.Gatherer
}

// NewHandlers creates handlers over reporters. A nil gatherer disables
// /metrics.
func NewHandlers(reporters []Reporter, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{reporters: reporters, gatherer: gatherer}
}

// RegisterRoutes mounts the endpoints on rg.
func RegisterRoutes(rg gin.IRouter, h *Handlers) {
	rg.GET("/health", h.HandleHealth)
	rg.GET("/nodes", h.HandleNodes)
	rg.GET("/nodes/:id", h.HandleNode)
	if h.gatherer != nil {
		rg.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "nodes": len(h.reporters)})
}

// HandleNodes handles GET /nodes.
func (h *Handlers) HandleNodes(c *gin.Context) {
	resp := NodesResponse{Nodes: make([]node.Status, 0, len(h.reporters))}
	for _, r := range h.reporters {
		resp.Nodes = append(resp.Nodes, r.Status())
	}
	c.JSON(http.StatusOK, resp)
}

// HandleNode handles GET /nodes/:id.
func (h *Handlers) HandleNode(c *gin.Context) {
	id := c.Param("id")
	for _, r := range h.reporters {
		if s := r.Status(); s.ID == id {
			c.JSON(http.StatusOK, s)
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown node " + id})
}

// NewRouter builds a gin engine with the status routes.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, h)
	return router
}

// Serve listens on addr until ctx ends. The bound address is reported
// through onListen when it is not nil.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, onListen func(net.Addr)) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if onListen != nil {
		onListen(lis.Addr())
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("status server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
