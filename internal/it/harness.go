package it

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"lamportring/internal/config"
)

// Cluster represents a ring of lamportring node processes
type Cluster struct {
	nodes      []*Node
	dir        string
	binaryPath string
	mu         sync.Mutex
}

// Node represents a single node process in the ring
type Node struct {
	ID      string
	Index   int
	cmd     *exec.Cmd
	logFile *os.File
	done    chan error
}

// NewCluster creates a harness writing configs and logs under dir
func NewCluster(binaryPath, dir string) (*Cluster, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Cluster{
		nodes:      make([]*Node, 0),
		dir:        dir,
		binaryPath: binaryPath,
	}, nil
}

// LogDir is where the nodes write their event logs
func (c *Cluster) LogDir() string {
	return filepath.Join(c.dir, "events")
}

// WriteConfig writes a ring config with one member per rate on consecutive
// port pairs starting at basePort
func (c *Cluster) WriteConfig(basePort int, rates []int, duration time.Duration) (string, error) {
	cfg := config.Default()
	cfg.Duration = duration
	cfg.LogDir = c.LogDir()
	cfg.BarrierTimeout = 20 * time.Second
	cfg.CloseTimeout = 5 * time.Second
	for i, rate := range rates {
		port := basePort + 2*i
		cfg.Members = append(cfg.Members, config.Member{
			ID:        fmt.Sprintf("n%d", i),
			Addr:      fmt.Sprintf("127.0.0.1:%d", port),
			AdminAddr: fmt.Sprintf("127.0.0.1:%d", port+1),
			TickRate:  rate,
		})
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(c.dir, "ring.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// StartNode starts the member at index using the config at cfgPath
func (c *Cluster) StartNode(ctx context.Context, cfgPath string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodeID := fmt.Sprintf("n%d", index)
	logPath := filepath.Join(c.dir, fmt.Sprintf("%s.log", nodeID))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binaryPath,
		"node",
		"--config", cfgPath,
		"--index", fmt.Sprintf("%d", index),
		"--log-level", "debug",
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}

	node := &Node{
		ID:      nodeID,
		Index:   index,
		cmd:     cmd,
		logFile: logFile,
		done:    make(chan error, 1),
	}
	go func() { node.done <- cmd.Wait() }()

	c.nodes = append(c.nodes, node)
	return nil
}

// StartRing starts every member of the config. Order does not matter: the
// nodes wait for each other on their admin addresses.
func (c *Cluster) StartRing(ctx context.Context, cfgPath string, n int) error {
	if c.binaryPath == "" {
		c.binaryPath = "./lamportring"
	}
	if _, err := os.Stat(c.binaryPath); os.IsNotExist(err) {
		return fmt.Errorf("binary not found at %s, build it first with 'go build -o lamportring ./cmd/lamportring'", c.binaryPath)
	}

	for i := n - 1; i >= 0; i-- {
		if err := c.StartNode(ctx, cfgPath, i); err != nil {
			c.Stop()
			return err
		}
	}
	return nil
}

// Wait blocks until every node exits or timeout passes
func (c *Cluster) Wait(timeout time.Duration) error {
	c.mu.Lock()
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()

	deadline := time.After(timeout)
	var errs []error
	for _, node := range nodes {
		select {
		case err := <-node.done:
			node.done <- err
			if err != nil {
				errs = append(errs, fmt.Errorf("node %s: %w", node.ID, err))
			}
		case <-deadline:
			return fmt.Errorf("timeout waiting for node %s to exit", node.ID)
		}
	}
	return errors.Join(errs...)
}

// Stop kills all nodes
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, node := range c.nodes {
		node.Stop()
	}
	c.nodes = nil
}

// Stop kills a single node
func (n *Node) Stop() {
	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		<-n.done
		n.done <- nil
	}
	if n.logFile != nil {
		n.logFile.Close()
	}
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}
