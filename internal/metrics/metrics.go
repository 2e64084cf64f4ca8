// Package metrics computes run statistics from published snapshots.
package metrics

import (
	"math"

	"github.com/san-kum/airsusp/internal/engine"
)

// Metric observes snapshots on the worker goroutine and reduces them to
// a single value at the end of a run.
type Metric interface {
	Name() string
	OnSnapshot(*engine.Snapshot)
	Value() float64
	Reset()
}

// MassDrift tracks the largest relative deviation of total gas mass
// from its first observation. Zero for a closed system.
type MassDrift struct {
	initial float64
	worst   float64
	seen    bool
}

func NewMassDrift() *MassDrift { return &MassDrift{} }

func (m *MassDrift) Name() string { return "mass_drift" }

func (m *MassDrift) OnSnapshot(s *engine.Snapshot) {
	total := s.TotalGasMass()
	if !m.seen {
		m.initial = total
		m.seen = true
		return
	}
	if m.initial == 0 {
		return
	}
	drift := math.Abs(total-m.initial) / m.initial
	if drift > m.worst {
		m.worst = drift
	}
}

func (m *MassDrift) Value() float64 { return m.worst }
func (m *MassDrift) Reset()         { *m = MassDrift{} }

// Comfort is the RMS heave acceleration, the usual ride quality figure.
type Comfort struct {
	sumSq   float64
	samples int
}

func NewComfort() *Comfort { return &Comfort{} }

func (c *Comfort) Name() string { return "rms_heave_accel" }

func (c *Comfort) OnSnapshot(s *engine.Snapshot) {
	c.sumSq += s.Accel[0] * s.Accel[0]
	c.samples++
}

func (c *Comfort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return math.Sqrt(c.sumSq / float64(c.samples))
}

func (c *Comfort) Reset() { *c = Comfort{} }

// PeakAttitude is the largest absolute roll or pitch excursion (rad).
type PeakAttitude struct {
	peak float64
}

func NewPeakAttitude() *PeakAttitude { return &PeakAttitude{} }

func (p *PeakAttitude) Name() string { return "peak_attitude" }

func (p *PeakAttitude) OnSnapshot(s *engine.Snapshot) {
	roll := math.Abs(s.Chassis[1])
	pitch := math.Abs(s.Chassis[2])
	if roll > p.peak {
		p.peak = roll
	}
	if pitch > p.peak {
		p.peak = pitch
	}
}

func (p *PeakAttitude) Value() float64 { return p.peak }
func (p *PeakAttitude) Reset()         { *p = PeakAttitude{} }

// FaultCount totals the structured diagnostics attached to snapshots.
type FaultCount struct {
	n int
}

func NewFaultCount() *FaultCount { return &FaultCount{} }

func (f *FaultCount) Name() string { return "faults" }

func (f *FaultCount) OnSnapshot(s *engine.Snapshot) { f.n += len(s.Faults) }

func (f *FaultCount) Value() float64 { return float64(f.n) }
func (f *FaultCount) Reset()         { *f = FaultCount{} }
