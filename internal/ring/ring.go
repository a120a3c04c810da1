package ring

import (
	"fmt"
	"net"
	"strconv"
)

// Node represents a ring member.
type Node struct {
	ID        string
	Addr      string // data link listen address
	AdminAddr string // readiness/health endpoint, optional
}

// Ring is an ordered, immutable list of members.
type Ring struct {
	nodes []Node
}

// New builds a ring in the given order. IDs and addresses must be unique,
// except for port 0 addresses which are bound later.
func New(nodes []Node) (*Ring, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("ring must have at least one node")
	}

	ids := make(map[string]bool, len(nodes))
	addrs := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.ID == "" || n.Addr == "" {
			return nil, fmt.Errorf("ring node %d: id and addr are required", i)
		}
		if ids[n.ID] {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		if addrs[n.Addr] && !ephemeral(n.Addr) {
			return nil, fmt.Errorf("duplicate node addr %q", n.Addr)
		}
		ids[n.ID] = true
		addrs[n.Addr] = true
	}

	return &Ring{nodes: append([]Node(nil), nodes...)}, nil
}

// Len returns the number of members.
func (r *Ring) Len() int {
	return len(r.nodes)
}

// Node returns the member at position i (mod Len).
func (r *Ring) Node(i int) Node {
	return r.nodes[r.wrap(i)]
}

// Successor returns the node that position i connects to.
func (r *Ring) Successor(i int) Node {
	return r.Node(i + 1)
}

// IndexOf returns the position of the node with the given ID.
func (r *Ring) IndexOf(id string) (int, bool) {
	for i, n := range r.nodes {
		if n.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Nodes returns a copy of the members in ring order.
func (r *Ring) Nodes() []Node {
	return append([]Node(nil), r.nodes...)
}

// PeerAdminAddrs returns the admin addresses of every member other than
// position i that has one.
func (r *Ring) PeerAdminAddrs(i int) []string {
	self := r.wrap(i)
	addrs := make([]string, 0, len(r.nodes))
	for j, n := range r.nodes {
		if j != self && n.AdminAddr != "" {
			addrs = append(addrs, n.AdminAddr)
		}
	}
	return addrs
}

func ephemeral(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port == "0"
}

func (r *Ring) wrap(i int) int {
	n := len(r.nodes)
	return ((i % n) + n) % n
}

// Localhost lays out n nodes on host with ports basePort, basePort+step, ...
// Admin addresses use the data port plus one. A basePort of 0 gives every
// node ephemeral ports.
func Localhost(n int, host string, basePort, step int) []Node {
	nodes := make([]Node, 0, n)
	for i := 0; i < n; i++ {
		port, admin := 0, 0
		if basePort != 0 {
			port = basePort + i*step
			admin = port + 1
		}
		nodes = append(nodes, Node{
			ID:        fmt.Sprintf("n%d", i),
			Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
			AdminAddr: net.JoinHostPort(host, strconv.Itoa(admin)),
		})
	}
	return nodes
}
