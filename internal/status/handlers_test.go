package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamportring/internal/metrics"
	"lamportring/internal/node"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixed node.Status

func (f fixed) Status() node.Status { return node.Status(f) }

func setupTestRouter(t *testing.T) (*gin.Engine, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHandlers([]Reporter{
		fixed{ID: "n0", Position: 0, TickRate: 2, Clock: 17, QueueLen: 1, Ticks: 12},
		fixed{ID: "n1", Position: 1, TickRate: 5, Clock: 30, Ticks: 30},
	}, reg)
	return NewRouter(h), m
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleNodes(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := get(t, router, "/nodes")
	require.Equal(t, http.StatusOK, w.Code)

	var resp NodesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Nodes, 2)
	assert.Equal(t, "n0", resp.Nodes[0].ID)
	assert.Equal(t, int64(17), resp.Nodes[0].Clock)
	assert.Equal(t, 1, resp.Nodes[0].QueueLen)
	assert.Equal(t, 5, resp.Nodes[1].TickRate)
}

func TestHandleNode(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := get(t, router, "/nodes/n1")
	require.Equal(t, http.StatusOK, w.Code)
	var s node.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, int64(30), s.Clock)

	w = get(t, router, "/nodes/n9")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown node n9")
}

func TestHandleMetrics(t *testing.T) {
	router, m := setupTestRouter(t)
	m.Clock.WithLabelValues("n0").Set(17)

	w := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lamport_logical_clock{node="n0"} 17`)
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	router := NewRouter(NewHandlers(nil, nil))
	assert.Equal(t, http.StatusNotFound, get(t, router, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	router, _ := setupTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	addrs := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", router, slog.New(slog.NewTextHandler(io.Discard, nil)),
			func(a net.Addr) { addrs <- a })
	}()

	addr := <-addrs
	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `"status":"ok"`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
