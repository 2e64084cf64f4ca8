// Package flow computes compressible mass flow through the valve and
// orifice network connecting cylinder chambers, the receiver and
// atmosphere.
package flow

import (
	"fmt"
	"math"

	"github.com/san-kum/airsusp/internal/gas"
)

type Kind int

const (
	Throttle Kind = iota // plain orifice, flows both ways
	Check                // passes A->B only, when pA > pB
	Relief               // opens above a trigger differential, hysteretic
)

func (k Kind) String() string {
	switch k {
	case Check:
		return "check"
	case Relief:
		return "relief"
	default:
		return "throttle"
	}
}

// Atmosphere is the pseudo-endpoint index for paths venting to or
// drawing from ambient.
const Atmosphere = -1

// Path connects two endpoints (chamber indices, or Atmosphere). Coeff is
// the effective flow coefficient Cd*A in m^2. The only mutable state is
// the relief valve's open flag, recomputed from the pressure
// differential with distinct open/close thresholds to avoid chatter.
type Path struct {
	Name  string
	Kind  Kind
	A, B  int
	Coeff float64
	// Relief thresholds (Pa differential). OpenAbove > CloseBelow.
	OpenAbove  float64
	CloseBelow float64

	open bool
}

func (p *Path) Open() bool { return p.open }

// restore is used by rollback; the relief state is part of the step.
func (p *Path) setOpen(v bool) { p.open = v }

// critical pressure ratio for air: (2/(γ+1))^(γ/(γ−1)) ≈ 0.5283
var criticalRatio = math.Pow(2/(gas.Gamma+1), gas.Gamma/(gas.Gamma-1))

// orificeRate is the isentropic orifice mass flow for upstream
// stagnation conditions, choked or subsonic by the pressure ratio.
func orificeRate(coeff, pUp, pDown, tUp float64) float64 {
	if pUp <= pDown || coeff <= 0 {
		return 0
	}
	ratio := pDown / pUp
	if ratio <= criticalRatio {
		exp := (gas.Gamma + 1) / (2 * (gas.Gamma - 1))
		return coeff * pUp * math.Sqrt(gas.Gamma/(gas.R*tUp)) *
			math.Pow(2/(gas.Gamma+1), exp)
	}
	term := math.Pow(ratio, 2/gas.Gamma) - math.Pow(ratio, (gas.Gamma+1)/gas.Gamma)
	if term <= 0 {
		return 0
	}
	return coeff * pUp * math.Sqrt(2*gas.Gamma/(gas.R*tUp*(gas.Gamma-1))*term)
}

// Rate returns the signed mass flow rate (kg/s, positive A->B) for the
// endpoint pressures and temperatures. Relief open/closed status is
// updated here from the differential.
func (p *Path) Rate(pA, tA, pB, tB float64) float64 {
	switch p.Kind {
	case Check:
		return orificeRate(p.Coeff, pA, pB, tA)
	case Relief:
		dp := pA - pB
		if p.open {
			if dp < p.CloseBelow {
				p.open = false
			}
		} else if dp > p.OpenAbove {
			p.open = true
		}
		if !p.open {
			return 0
		}
		return orificeRate(p.Coeff, pA, pB, tA)
	default:
		if pA >= pB {
			return orificeRate(p.Coeff, pA, pB, tA)
		}
		return -orificeRate(p.Coeff, pB, pA, tB)
	}
}

func (p *Path) validate() error {
	if p.Coeff < 0 {
		return fmt.Errorf("path %s: negative flow coefficient", p.Name)
	}
	if p.Kind == Relief && p.Coeff > 0 && p.OpenAbove <= p.CloseBelow {
		return fmt.Errorf("path %s: relief open threshold must exceed close threshold", p.Name)
	}
	return nil
}
