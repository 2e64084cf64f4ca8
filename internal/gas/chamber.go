// Package gas models the working-gas state of cylinder chambers and the
// receiver: ideal-gas pressure/temperature/mass bookkeeping under an
// isothermal or adiabatic evolution rule.
package gas

import (
	"fmt"
	"math"
)

// Dry air.
const (
	R     = 287.05 // specific gas constant, J/(kg·K)
	Gamma = 1.4
	Cv    = R / (Gamma - 1)
)

type Mode int

const (
	Isothermal Mode = iota
	Adiabatic
)

func (m Mode) String() string {
	if m == Adiabatic {
		return "adiabatic"
	}
	return "isothermal"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "isothermal":
		return Isothermal, nil
	case "adiabatic":
		return Adiabatic, nil
	}
	return 0, fmt.Errorf("unknown thermal mode %q", s)
}

// ThermoError is a non-recoverable chamber update: the resulting state
// would violate the positivity invariants.
type ThermoError struct {
	Label   string
	Message string
	Value   float64
}

func (e *ThermoError) Error() string {
	return fmt.Sprintf("chamber %s: %s (%g)", e.Label, e.Message, e.Value)
}

// Chamber is one gas volume. Mode is configuration, not state: it only
// changes through SwitchMode.
type Chamber struct {
	Label       string
	Pressure    float64 // Pa
	Temperature float64 // K
	Mass        float64 // kg
	Volume      float64 // m^3
	DeadVolume  float64 // m^3, floor
	Mode        Mode
}

// NewChamber charges a chamber at the given pressure and temperature;
// mass derives from the ideal-gas relation.
func NewChamber(label string, volume, deadVolume, pressure, temperature float64, mode Mode) (*Chamber, error) {
	if volume < deadVolume || volume <= 0 {
		return nil, fmt.Errorf("chamber %s: volume %g below dead floor %g", label, volume, deadVolume)
	}
	if pressure <= 0 || temperature <= 0 {
		return nil, fmt.Errorf("chamber %s: non-positive charge state", label)
	}
	return &Chamber{
		Label:       label,
		Pressure:    pressure,
		Temperature: temperature,
		Mass:        pressure * volume / (R * temperature),
		Volume:      volume,
		DeadVolume:  deadVolume,
		Mode:        mode,
	}, nil
}

func (c *Chamber) Clone() *Chamber {
	d := *c
	return &d
}

// Step applies one sub-step: a volume change dV, an inflow massIn at
// source temperature tIn, and an outflow massOut at chamber temperature.
// An outflow exceeding the available mass is capped (starvation) and the
// capped amount is returned; starvation is a condition, not an error.
func (c *Chamber) Step(dV, massIn, tIn, massOut float64) (starved float64, err error) {
	v2 := c.Volume + dV
	if v2 < c.DeadVolume {
		return 0, &ThermoError{c.Label, "volume below dead floor", v2}
	}

	// Never drain a chamber completely; the remainder keeps the ideal-gas
	// state well defined for the next sub-step.
	maxOut := c.Mass * (1 - 1e-9)
	if massOut > maxOut {
		starved = massOut - maxOut
		massOut = maxOut
	}

	mRem := c.Mass - massOut
	m2 := mRem + massIn

	var t2 float64
	switch c.Mode {
	case Isothermal:
		t2 = c.Temperature
	case Adiabatic:
		// Polytropic response to the volume change, then mixing with the
		// incoming mass at its source temperature. Outflow leaves at the
		// chamber temperature and does not shift it.
		tv := c.Temperature * math.Pow(c.Volume/v2, Gamma-1)
		t2 = (mRem*tv + massIn*tIn) / m2
	}

	p2 := m2 * R * t2 / v2

	if p2 <= 0 || math.IsNaN(p2) || math.IsInf(p2, 0) {
		return starved, &ThermoError{c.Label, "non-positive pressure", p2}
	}
	if t2 <= 0 || math.IsNaN(t2) || math.IsInf(t2, 0) {
		return starved, &ThermoError{c.Label, "non-positive temperature", t2}
	}

	c.Volume = v2
	c.Mass = m2
	c.Temperature = t2
	c.Pressure = p2
	return starved, nil
}

// SwitchMode changes the thermal mode without a state discontinuity:
// pressure, volume and temperature are preserved and mass re-derives
// from the ideal-gas relation, so only the subsequent response changes.
func (c *Chamber) SwitchMode(mode Mode) {
	if mode == c.Mode {
		return
	}
	c.Mass = c.Pressure * c.Volume / (R * c.Temperature)
	c.Mode = mode
}

// SetVolume rescales the chamber to a new volume without gas exchange.
// Mass and temperature are kept (an instantaneous re-labelling of the
// boundary does no work on the gas), pressure re-derives from the
// ideal-gas relation. Internal energy m·cv·T is conserved exactly.
func (c *Chamber) SetVolume(v float64) error {
	if v <= 0 || v < c.DeadVolume {
		return &ThermoError{c.Label, "invalid volume", v}
	}
	c.Volume = v
	c.Pressure = c.Mass * R * c.Temperature / v
	return nil
}

func (c *Chamber) Valid() bool {
	for _, v := range []float64{c.Pressure, c.Temperature, c.Mass, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.Pressure > 0 && c.Temperature > 0 && c.Mass > 0 && c.Volume >= c.DeadVolume
}
