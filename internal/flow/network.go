package flow

import "fmt"

// Endpoint is the start-of-step thermodynamic state of a network node.
type Endpoint struct {
	Pressure    float64
	Temperature float64
}

// Transfer is one path's flow for a step, resolved to a direction.
type Transfer struct {
	Path *Path
	From int // chamber index or Atmosphere
	To   int
	Rate float64 // kg/s, >= 0
	Temp float64 // upstream temperature
}

// Network is the set of flow paths over a fixed chamber indexing. Paths
// carry the only mutable status (relief hysteresis); everything else is
// configuration.
type Network struct {
	paths []*Path
}

func NewNetwork(paths []*Path) (*Network, error) {
	for _, p := range paths {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}
	return &Network{paths: paths}, nil
}

func (n *Network) Paths() []*Path { return n.paths }

// Transfers evaluates every path against the supplied endpoint states.
// All paths see the same frozen pressures: within a simulation step the
// coupling is explicit, a documented approximation that keeps sub-steps
// independent and reproducible.
func (n *Network) Transfers(at func(idx int) Endpoint) []Transfer {
	out := make([]Transfer, 0, len(n.paths))
	for _, p := range n.paths {
		a := at(p.A)
		b := at(p.B)
		rate := p.Rate(a.Pressure, a.Temperature, b.Pressure, b.Temperature)
		if rate == 0 {
			continue
		}
		tr := Transfer{Path: p}
		if rate > 0 {
			tr.From, tr.To, tr.Rate, tr.Temp = p.A, p.B, rate, a.Temperature
		} else {
			tr.From, tr.To, tr.Rate, tr.Temp = p.B, p.A, -rate, b.Temperature
		}
		out = append(out, tr)
	}
	return out
}

// ReliefStates snapshots the hysteresis flags for rollback.
func (n *Network) ReliefStates() []bool {
	s := make([]bool, len(n.paths))
	for i, p := range n.paths {
		s[i] = p.open
	}
	return s
}

func (n *Network) RestoreReliefStates(s []bool) error {
	if len(s) != len(n.paths) {
		return fmt.Errorf("relief state length %d, want %d", len(s), len(n.paths))
	}
	for i, p := range n.paths {
		p.setOpen(s[i])
	}
	return nil
}

// Coeffs enumerates the flow coefficients keyed by path name, for
// diagnostics and closed-network checks.
func (n *Network) Coeffs() map[string]float64 {
	m := make(map[string]float64, len(n.paths))
	for _, p := range n.paths {
		m[p.Name] = p.Coeff
	}
	return m
}
