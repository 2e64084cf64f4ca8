// Package road generates per-wheel vertical excitation as a pure
// function of simulation time. Profiles are immutable once built; a run
// restarts one by sampling from t=0 again. Rear wheels see the front
// excitation delayed by wheelbase/speed.
package road

import (
	"fmt"
	"math"

	"github.com/san-kum/airsusp/internal/dynamo"
)

// Sample is one wheel's instantaneous excitation.
type Sample struct {
	Disp float64 // m
	Vel  float64 // m/s
}

// Profile maps simulation time to the four wheel samples, ordered
// FL, FR, RL, RR. Sampling must be O(1); table-driven profiles
// precompute and interpolate.
type Profile interface {
	Name() string
	At(t float64) [4]Sample
}

// track evaluates a single-wheel function with the rear-axle delay and
// an optional sign flip for the right side (slalom-style excitation).
type track struct {
	name     string
	f        func(t float64) Sample
	delay    float64 // rear axle delay, s
	mirrored bool    // right side sees the negated profile
}

func (p *track) Name() string { return p.name }

func (p *track) At(t float64) [4]Sample {
	front := p.f(t)
	rear := p.f(t - p.delay)
	out := [4]Sample{front, front, rear, rear}
	if p.mirrored {
		out[1] = Sample{-front.Disp, -front.Vel}
		out[3] = Sample{-rear.Disp, -rear.Vel}
	}
	return out
}

// Flat is the zero profile.
func Flat() Profile {
	return &track{name: "flat", f: func(float64) Sample { return Sample{} }}
}

// Sine is a steady sinusoid. Sampling goes through the precomputed trig
// table to keep the per-step cost flat.
func Sine(amp, freq, delay float64, mirrored bool) Profile {
	omega := 2 * math.Pi * freq
	name := "sine"
	if mirrored {
		name = "slalom"
	}
	return &track{
		name:     name,
		delay:    delay,
		mirrored: mirrored,
		f: func(t float64) Sample {
			if t < 0 {
				return Sample{}
			}
			sin, cos := dynamo.FastSinCos(omega * t)
			return Sample{Disp: amp * sin, Vel: amp * omega * cos}
		},
	}
}

// Bump is a single raised-cosine pulse of the given duration starting at
// start: amp/2·(1−cos(2π·u)) over u ∈ [0,1].
func Bump(amp, start, duration, delay float64) Profile {
	return &track{
		name:  "bump",
		delay: delay,
		f: func(t float64) Sample {
			u := (t - start) / duration
			if u < 0 || u > 1 {
				return Sample{}
			}
			sin, cos := dynamo.FastSinCos(2 * math.Pi * u)
			return Sample{
				Disp: amp / 2 * (1 - cos),
				Vel:  amp * math.Pi / duration * sin,
			}
		},
	}
}

// Sweep is a linear chirp from f0 to f1 over the sweep length, for
// frequency-response runs.
func Sweep(amp, f0, f1, length, delay float64) Profile {
	return &track{
		name:  "sweep",
		delay: delay,
		f: func(t float64) Sample {
			if t < 0 || t > length {
				return Sample{}
			}
			k := (f1 - f0) / length
			phase := 2 * math.Pi * (f0*t + k*t*t/2)
			inst := 2 * math.Pi * (f0 + k*t)
			sin, cos := dynamo.FastSinCos(phase)
			return Sample{Disp: amp * sin, Vel: amp * inst * cos}
		},
	}
}

// Table interpolates precomputed displacement samples at a fixed
// spacing. Velocities are precomputed central differences so sampling
// stays O(1).
type Table struct {
	name  string
	dt    float64
	disp  []float64
	vel   []float64
	delay float64
}

func NewTable(name string, sampleDt float64, disp []float64, delay float64) (*Table, error) {
	if sampleDt <= 0 {
		return nil, fmt.Errorf("road table: sample spacing must be positive")
	}
	if len(disp) < 2 {
		return nil, fmt.Errorf("road table: need at least 2 samples")
	}
	vel := make([]float64, len(disp))
	for i := range disp {
		switch i {
		case 0:
			vel[i] = (disp[1] - disp[0]) / sampleDt
		case len(disp) - 1:
			vel[i] = (disp[i] - disp[i-1]) / sampleDt
		default:
			vel[i] = (disp[i+1] - disp[i-1]) / (2 * sampleDt)
		}
	}
	return &Table{name: name, dt: sampleDt, disp: disp, vel: vel, delay: delay}, nil
}

func (p *Table) Name() string { return p.name }

func (p *Table) sample(t float64) Sample {
	if t <= 0 {
		return Sample{Disp: p.disp[0], Vel: 0}
	}
	idx := t / p.dt
	i := int(idx)
	if i >= len(p.disp)-1 {
		last := len(p.disp) - 1
		return Sample{Disp: p.disp[last], Vel: 0}
	}
	frac := idx - float64(i)
	return Sample{
		Disp: p.disp[i]*(1-frac) + p.disp[i+1]*frac,
		Vel:  p.vel[i]*(1-frac) + p.vel[i+1]*frac,
	}
}

func (p *Table) At(t float64) [4]Sample {
	front := p.sample(t)
	rear := p.sample(t - p.delay)
	return [4]Sample{front, front, rear, rear}
}
