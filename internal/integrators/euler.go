package integrators

import "github.com/san-kum/airsusp/internal/dynamo"

// SemiImplicitEuler integrates velocities first, then positions with the
// updated velocities. Assumes a second-order layout [q0..qn-1, v0..vn-1]
// with derivatives [v, a]. More stable than forward Euler on stiff
// oscillatory systems like a pneumatic spring.
type SemiImplicitEuler struct{}

func NewSemiImplicitEuler() *SemiImplicitEuler {
	return &SemiImplicitEuler{}
}

func (e *SemiImplicitEuler) Step(sys dynamo.System, x dynamo.State, t, dt float64) dynamo.State {
	n := len(x)
	half := n / 2
	dx := sys.Derive(x, t)

	result := make(dynamo.State, n)
	for i := half; i < n; i++ {
		result[i] = x[i] + dt*dx[i]
	}
	for i := 0; i < half; i++ {
		result[i] = x[i] + dt*result[half+i]
	}
	return result
}
