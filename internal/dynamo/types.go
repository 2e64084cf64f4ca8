// Package dynamo holds the shared numeric core: the flat state vector,
// the System and Integrator interfaces, and the precomputed trig table.
package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// System yields time derivatives of a flat state vector.
type System interface {
	Derive(x State, t float64) State
	Dim() int
}

type Integrator interface {
	Step(sys System, x State, t float64, dt float64) State
}

type StepError struct {
	Step    uint64
	Time    float64
	Message string
}

func (e StepError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}
