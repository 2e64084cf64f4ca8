// Package diag defines the fault taxonomy of the engine and collects
// structured diagnostic entries for attachment to snapshots.
package diag

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

type Kind int

const (
	Geometry      Kind = iota // kinematics unsolvable at a corner
	Thermodynamic             // non-positive pressure/temperature, volume floor
	Numeric                   // NaN/Inf in chassis or gas state
	Configuration             // invalid parameters rejected at the boundary
	Clamp                     // piston clamped into its working range
	Starvation                // outflow capped at available chamber mass
)

func (k Kind) String() string {
	switch k {
	case Geometry:
		return "geometry"
	case Thermodynamic:
		return "thermodynamic"
	case Numeric:
		return "numeric"
	case Configuration:
		return "configuration"
	case Clamp:
		return "clamp"
	case Starvation:
		return "starvation"
	}
	return "unknown"
}

// Fatal reports whether a fault kind rejects the step outright. Clamp
// and starvation are degradations: reported, not fatal.
func (k Kind) Fatal() bool {
	switch k {
	case Thermodynamic, Numeric:
		return true
	}
	return false
}

// Fault is one structured diagnostic entry. Corner is -1 when the fault
// is not corner-specific.
type Fault struct {
	Kind      Kind    `json:"kind"`
	Corner    int     `json:"corner"`
	Step      uint64  `json:"step"`
	Time      float64 `json:"time"`
	Magnitude float64 `json:"magnitude"`
	Message   string  `json:"message"`
}

func (f Fault) String() string {
	return fmt.Sprintf("[%s] step %d t=%.4f: %s (%.4g)", f.Kind, f.Step, f.Time, f.Message, f.Magnitude)
}

// Collector accumulates faults between snapshots. Owned by the worker,
// not safe for concurrent use; drained entries transfer to the snapshot.
type Collector struct {
	faults []Fault
}

func (c *Collector) Add(f Fault) {
	c.faults = append(c.faults, f)
}

func (c *Collector) Pending() int { return len(c.faults) }

// Drain returns the accumulated faults and resets the collector. The
// returned slice is independently owned.
func (c *Collector) Drain() []Fault {
	if len(c.faults) == 0 {
		return nil
	}
	out := make([]Fault, len(c.faults))
	copy(out, c.faults)
	c.faults = c.faults[:0]
	return out
}

// NewLogger builds the engine logger. Levels follow severity: fatal
// fault kinds log as errors, degradations as warnings.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Log emits a fault through the structured logger with typed fields.
func Log(lg zerolog.Logger, f Fault) {
	ev := lg.Warn()
	if f.Kind.Fatal() {
		ev = lg.Error()
	}
	ev.Str("fault", f.Kind.String()).
		Uint64("step", f.Step).
		Float64("t", f.Time).
		Int("corner", f.Corner).
		Float64("magnitude", f.Magnitude).
		Msg(f.Message)
}
