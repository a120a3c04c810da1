package config

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lamportring/internal/policy"
	"lamportring/internal/ring"
)

// Log formats.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// Member is one ring position as written in config.
type Member struct {
	ID        string `yaml:"id"`
	Addr      string `yaml:"addr"`
	AdminAddr string `yaml:"admin_addr,omitempty"`
	TickRate  int    `yaml:"tick_rate,omitempty"` // 0 = use the experiment setting
}

// Config holds the experiment configuration.
type Config struct {
	Duration time.Duration `yaml:"duration"`

	// Members lists the ring explicitly. When empty, Nodes members are laid
	// out on Host starting at BasePort, PortStep apart.
	Members  []Member `yaml:"members,omitempty"`
	Nodes    int      `yaml:"nodes"`
	Host     string   `yaml:"host"`
	BasePort int      `yaml:"base_port"`
	PortStep int      `yaml:"port_step"`

	// TickRate pins every node to the same rate in Hz. When 0, each node
	// draws a rate uniformly from [MinTickRate, MaxTickRate].
	TickRate    int    `yaml:"tick_rate"`
	MinTickRate int    `yaml:"min_tick_rate"`
	MaxTickRate int    `yaml:"max_tick_rate"`
	Seed        uint64 `yaml:"seed"` // 0 = seed from the wall clock

	Weights policy.Weights `yaml:"weights"`

	LogDir     string `yaml:"log_dir"`
	LogFormat  string `yaml:"log_format"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	BarrierTimeout time.Duration `yaml:"barrier_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
}

// Default returns the reference experiment: three nodes on localhost ports
// 2056, 3056 and 4056, random rates between 1 and 6 Hz, one minute long.
func Default() Config {
	return Config{
		Duration:       60 * time.Second,
		Nodes:          3,
		Host:           "127.0.0.1",
		BasePort:       2056,
		PortStep:       1000,
		MinTickRate:    1,
		MaxTickRate:    6,
		Weights:        policy.DefaultWeights,
		LogDir:         "logs",
		LogFormat:      FormatCSV,
		BarrierTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	}
	if len(c.Members) == 0 {
		if c.Nodes < 1 {
			return fmt.Errorf("nodes must be at least 1, got %d", c.Nodes)
		}
		if c.BasePort < 0 || c.BasePort+(c.Nodes-1)*c.PortStep+1 > 65535 {
			return fmt.Errorf("ports out of range: base %d, step %d, nodes %d", c.BasePort, c.PortStep, c.Nodes)
		}
		if c.BasePort != 0 && c.PortStep < 2 {
			return fmt.Errorf("port_step must be at least 2 to leave room for admin ports, got %d", c.PortStep)
		}
	}
	for _, m := range c.Members {
		if m.TickRate < 0 {
			return fmt.Errorf("member %s: tick_rate must not be negative", m.ID)
		}
	}
	if c.TickRate < 0 {
		return fmt.Errorf("tick_rate must not be negative, got %d", c.TickRate)
	}
	if c.TickRate == 0 && (c.MinTickRate < 1 || c.MaxTickRate < c.MinTickRate) {
		return fmt.Errorf("invalid tick rate range [%d, %d]", c.MinTickRate, c.MaxTickRate)
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	switch c.LogFormat {
	case FormatCSV, FormatSQLite:
	default:
		return fmt.Errorf("unknown log_format %q (want %s or %s)", c.LogFormat, FormatCSV, FormatSQLite)
	}
	return nil
}

// Ring builds the ring topology.
func (c *Config) Ring() (*ring.Ring, error) {
	if len(c.Members) == 0 {
		return ring.New(ring.Localhost(c.Nodes, c.Host, c.BasePort, c.PortStep))
	}

	nodes := make([]ring.Node, 0, len(c.Members))
	for _, m := range c.Members {
		nodes = append(nodes, ring.Node{ID: m.ID, Addr: m.Addr, AdminAddr: m.AdminAddr})
	}
	return ring.New(nodes)
}

// TickRates returns one rate per ring position: the member override if set,
// else the pinned experiment rate, else a random draw.
func (c *Config) TickRates(n int, rng *rand.Rand) []int {
	rates := make([]int, n)
	for i := range rates {
		switch {
		case i < len(c.Members) && c.Members[i].TickRate > 0:
			rates[i] = c.Members[i].TickRate
		case c.TickRate > 0:
			rates[i] = c.TickRate
		default:
			rates[i] = RandomTickRate(rng, c.MinTickRate, c.MaxTickRate)
		}
	}
	return rates
}

// RandomTickRate draws uniformly from [lo, hi].
func RandomTickRate(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo+1)
}

// Rand returns the experiment's random source.
func (c *Config) Rand() *rand.Rand {
	seed := c.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// ParseMembers parses a comma-separated list of members in the format:
// "id1=addr1,id2=addr2,id3=addr3"
// An optional "@rate" suffix pins a member's tick rate: "n0=127.0.0.1:2056@3".
func ParseMembers(s string) ([]Member, error) {
	if s == "" {
		return []Member{}, nil
	}

	parts := strings.Split(s, ",")
	members := make([]Member, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid member format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		var rate int
		if at := strings.LastIndex(addr, "@"); at >= 0 {
			r, err := strconv.Atoi(strings.TrimSpace(addr[at+1:]))
			if err != nil || r < 1 {
				return nil, fmt.Errorf("invalid tick rate in member %s", part)
			}
			rate = r
			addr = strings.TrimSpace(addr[:at])
		}

		if id == "" || addr == "" {
			return nil, fmt.Errorf("member ID and address cannot be empty: %s", part)
		}

		members = append(members, Member{
			ID:       id,
			Addr:     addr,
			TickRate: rate,
		})
	}

	return members, nil
}
