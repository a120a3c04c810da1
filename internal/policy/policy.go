package policy

import (
	"fmt"
	"math/rand/v2"
)

// Action is the outcome of a policy draw.
type Action int

const (
	// Internal performs no network action.
	Internal Action = iota
	// ServerOnly sends on the server link.
	ServerOnly
	// ClientOnly sends on the client link.
	ClientOnly
	// Both sends on both links.
	Both
)

func (a Action) String() string {
	switch a {
	case Internal:
		return "internal"
	case ServerOnly:
		return "server-only"
	case ClientOnly:
		return "client-only"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// SendsOnServer reports whether the action writes to the server link.
func (a Action) SendsOnServer() bool {
	return a == ServerOnly || a == Both
}

// SendsOnClient reports whether the action writes to the client link.
func (a Action) SendsOnClient() bool {
	return a == ClientOnly || a == Both
}

// IsSend reports whether the action sends anything.
func (a Action) IsSend() bool {
	return a != Internal
}

// Weights are the relative odds of each action.
type Weights struct {
	ServerOnly int `yaml:"server_only"`
	ClientOnly int `yaml:"client_only"`
	Both       int `yaml:"both"`
	Internal   int `yaml:"internal"`
}

// DefaultWeights gives 10% to each send action and 70% to internal events.
var DefaultWeights = Weights{ServerOnly: 1, ClientOnly: 1, Both: 1, Internal: 7}

// Total returns the sum of all weights.
func (w Weights) Total() int {
	return w.ServerOnly + w.ClientOnly + w.Both + w.Internal
}

// Validate rejects negative weights and an all-zero table.
func (w Weights) Validate() error {
	if w.ServerOnly < 0 || w.ClientOnly < 0 || w.Both < 0 || w.Internal < 0 {
		return fmt.Errorf("policy weights must be non-negative: %+v", w)
	}
	if w.Total() == 0 {
		return fmt.Errorf("policy weights must not all be zero")
	}
	return nil
}

// Pick maps r in [0, Total()) onto an action. Ranges are laid out in the
// order ServerOnly, ClientOnly, Both, Internal.
func (w Weights) Pick(r int) Action {
	if r < w.ServerOnly {
		return ServerOnly
	}
	r -= w.ServerOnly
	if r < w.ClientOnly {
		return ClientOnly
	}
	r -= w.ClientOnly
	if r < w.Both {
		return Both
	}
	return Internal
}

// Chooser draws the action for one tick.
type Chooser interface {
	Choose() Action
}

// Weighted draws actions from a weight table with its own random source.
// Not safe for concurrent use; a node's tick loop owns it.
type Weighted struct {
	weights Weights
	total   int
	rng     *rand.Rand
}

// NewWeighted creates a weighted chooser.
func NewWeighted(w Weights, rng *rand.Rand) (*Weighted, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Weighted{weights: w, total: w.Total(), rng: rng}, nil
}

// NewSeeded creates a weighted chooser with a deterministic source.
func NewSeeded(w Weights, seed uint64) (*Weighted, error) {
	return NewWeighted(w, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Choose draws one action.
func (p *Weighted) Choose() Action {
	return p.weights.Pick(p.rng.IntN(p.total))
}
