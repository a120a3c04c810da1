package it

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamportring/internal/cluster"
	"lamportring/internal/config"
	"lamportring/internal/eventlog"
	"lamportring/internal/verify"
)

func inProcessConfig(t *testing.T, rates []int, d time.Duration) config.Config {
	cfg := config.Default()
	cfg.Duration = d
	cfg.LogDir = t.TempDir()
	cfg.BarrierTimeout = 10 * time.Second
	cfg.CloseTimeout = 5 * time.Second
	for i, rate := range rates {
		cfg.Members = append(cfg.Members, config.Member{
			ID:       string(rune('a' + i)),
			Addr:     "127.0.0.1:0",
			TickRate: rate,
		})
	}
	return cfg
}

func runInProcess(t *testing.T, cfg config.Config) (*cluster.Cluster, []cluster.Result) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+30*time.Second)
	defer cancel()

	c, err := cluster.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	results, err := c.Run(ctx)
	require.NoError(t, err)
	return c, results
}

// Three nodes at 1 Hz for 10 s log ten rows each, with a strictly
// increasing clock.
func TestRing_ThreeNodesOneHertz(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := inProcessConfig(t, []int{1, 1, 1}, 10*time.Second)
	runInProcess(t, cfg)

	logs, err := verify.LoadCSVDir(cfg.LogDir)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.InDelta(t, 10, len(l.Entries), 1, "%s", l.Identity)
		for i := 1; i < len(l.Entries); i++ {
			assert.Greater(t, l.Entries[i].Clock, l.Entries[i-1].Clock)
		}
	}
	assert.NoError(t, verify.CheckAll(logs, cfg.Duration).Err())
}

// Rates 1, 2 and 3 Hz give row counts in proportion to the rate.
func TestRing_MixedRates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := inProcessConfig(t, []int{1, 2, 3}, 10*time.Second)
	runInProcess(t, cfg)

	logs, err := verify.LoadCSVDir(cfg.LogDir)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	summary := verify.CheckAll(logs, 0)
	require.NoError(t, summary.Err())
	for _, r := range summary.Reports {
		rate := r.Identity.ClockRate
		assert.InDelta(t, 10*rate, r.Rows, float64(rate), "%s", r.Identity)
	}
}

// Every link carries exactly one shutdown message each way and every
// receiver ends because it saw its peer's.
func TestRing_ShutdownHandshake(t *testing.T) {
	cfg := inProcessConfig(t, []int{5, 7, 3, 9}, time.Second)
	c, results := runInProcess(t, cfg)
	require.Len(t, results, 4)

	for _, n := range c.Nodes() {
		server, client := n.Links()
		require.NotNil(t, server)
		require.NotNil(t, client)
		assert.Equal(t, 1, server.ShutdownsSent(), n.ID())
		assert.Equal(t, 1, client.ShutdownsSent(), n.ID())
		assert.True(t, server.PeerShutdown(), n.ID())
		assert.True(t, client.PeerShutdown(), n.ID())
	}
}

func TestRing_SQLiteLogs(t *testing.T) {
	cfg := inProcessConfig(t, []int{4, 4}, time.Second)
	cfg.LogFormat = config.FormatSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ring.sqlite3")
	c, _ := runInProcess(t, cfg)

	ids, err := c.Store().Identities()
	require.NoError(t, err)
	assert.ElementsMatch(t, []eventlog.Identity{
		{ProcessID: "a", ClockRate: 4},
		{ProcessID: "b", ClockRate: 4},
	}, ids)

	logs, err := verify.LoadSQLite(c.Store())
	require.NoError(t, err)
	assert.NoError(t, verify.CheckAll(logs, cfg.Duration).Err())
}

// One OS process per node, synchronized through gRPC health checks.
func TestProcesses_ThreeNodeRing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	binaryPath := os.Getenv("LAMPORTRING_BIN")
	if binaryPath == "" {
		binaryPath = "./lamportring"
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skip("Binary not found, skipping integration test. Build with: go build -o lamportring ./cmd/lamportring")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cl, err := NewCluster(binaryPath, t.TempDir())
	require.NoError(t, err)
	defer cl.Stop()

	cfgPath, err := cl.WriteConfig(46056, []int{2, 3, 4}, 3*time.Second)
	require.NoError(t, err)

	require.NoError(t, cl.StartRing(ctx, cfgPath, 3))
	require.NotNil(t, cl.GetNode("n0"))
	require.NoError(t, cl.Wait(time.Minute))

	logs, err := verify.LoadCSVDir(cl.LogDir())
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.NoError(t, verify.CheckAll(logs, 3*time.Second).Err())
}
