// Package kinematics resolves the lever/cylinder geometry of one
// suspension corner: wheel vertical deflection -> lever angle -> rod
// joint -> piston position -> chamber volumes.
package kinematics

import (
	"fmt"
	"math"
)

// Geometry holds the fixed mounting dimensions of one corner. The lever
// pivots at the origin; the wheel attaches at radius LeverLength, the
// connecting rod at radius ArmRadius. The cylinder axis is vertical at
// x = MountOffset, head end at y = MountHeight, piston travel measured
// upward from the head end.
type Geometry struct {
	LeverLength float64 // pivot to wheel attachment (m)
	ArmRadius   float64 // pivot to rod joint (m)
	RodLength   float64 // rod joint to piston (m)
	MountOffset float64 // pivot to cylinder axis, horizontal (m)
	MountHeight float64 // pivot to cylinder head end, vertical (m)
	Bore        float64 // cylinder bore diameter (m)
	RodDiameter float64 // piston rod diameter (m)
	Stroke      float64 // piston travel (m)
	DeadZone    float64 // end-stop gap at each end (m)
}

func (g Geometry) HeadArea() float64 {
	return math.Pi / 4 * g.Bore * g.Bore
}

func (g Geometry) RodArea() float64 {
	return g.HeadArea() - math.Pi/4*g.RodDiameter*g.RodDiameter
}

// WheelKinematics is the per-corner solve result. Volumes respect the
// dead-zone floor; RodErrMm reports the rod-length reconstruction error
// after any clamping, never hidden.
type WheelKinematics struct {
	LeverAngle float64 // rad
	Piston     float64 // m from head end
	HeadVolume float64 // m^3
	RodVolume  float64 // m^3
	RodErrMm   float64 // |reconstructed - nominal| in mm
	Clamped    bool
	ClampMm    float64 // clamp magnitude in mm, 0 if not clamped
}

// InterferenceError reports an unsolvable configuration with the
// offending magnitude. Never produced for reachable geometry.
type InterferenceError struct {
	Reason    string
	Magnitude float64 // meters beyond the feasible range
}

func (e *InterferenceError) Error() string {
	return fmt.Sprintf("geometry violation: %s (exceeds by %.4f m)", e.Reason, e.Magnitude)
}

// Solve computes the corner kinematics for a wheel deflection relative
// to the chassis corner. Clamping of the piston into its working range
// is reported in the result, not silent.
func Solve(g Geometry, deflection float64) (WheelKinematics, error) {
	var k WheelKinematics

	sinA := deflection / g.LeverLength
	if sinA > 1 || sinA < -1 {
		return k, &InterferenceError{
			Reason:    "wheel deflection exceeds lever reach",
			Magnitude: math.Abs(deflection) - g.LeverLength,
		}
	}
	k.LeverAngle = math.Asin(sinA)

	cosA := math.Cos(k.LeverAngle)
	jx := g.ArmRadius * cosA
	jy := g.ArmRadius * sinA

	perp := math.Abs(jx - g.MountOffset)
	if perp > g.RodLength {
		return k, &InterferenceError{
			Reason:    "rod joint lies beyond rod reach of the cylinder axis",
			Magnitude: perp - g.RodLength,
		}
	}

	// Right-triangle relation along the cylinder axis; of the two roots
	// keep the one inside the physical stroke (the lower intersection
	// for this mounting arrangement).
	axial := math.Sqrt(g.RodLength*g.RodLength - perp*perp)
	s := jy - axial - g.MountHeight
	if alt := jy + axial - g.MountHeight; s < 0 || s > g.Stroke {
		if alt >= 0 && alt <= g.Stroke {
			s = alt
		}
	}

	lo := g.DeadZone
	hi := g.Stroke - g.DeadZone
	if s < lo {
		k.Clamped = true
		k.ClampMm = (lo - s) * 1000
		s = lo
	} else if s > hi {
		k.Clamped = true
		k.ClampMm = (s - hi) * 1000
		s = hi
	}
	k.Piston = s

	k.HeadVolume = g.HeadArea() * s
	k.RodVolume = g.RodArea() * (g.Stroke - s)

	// Reconstruct the joint-to-piston distance; after clamping this no
	// longer matches the nominal rod length and the error is reported.
	py := g.MountHeight + s
	actual := math.Hypot(perp, jy-py)
	k.RodErrMm = math.Abs(actual-g.RodLength) * 1000

	return k, nil
}
