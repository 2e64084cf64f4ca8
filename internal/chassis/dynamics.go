// Package chassis holds the 3-DOF rigid-body model: heave, roll and
// pitch of the sprung mass under the four cylinder forces.
//
// Sign convention (right-handed, stated once and used everywhere):
// x forward, y left, z up. Roll is rotation about +x (positive lifts the
// left side), pitch about +y (positive drops the nose). A force Fz at
// corner (x, y) contributes y·Fz to the roll moment and −x·Fz to the
// pitch moment, so a front/rear imbalance pitches with the opposite sign
// to the roll produced by an equal left/right imbalance.
package chassis

import (
	"fmt"

	"github.com/san-kum/airsusp/internal/dynamo"
)

// State vector layout.
const (
	IdxHeave = iota
	IdxRoll
	IdxPitch
	IdxHeaveRate
	IdxRollRate
	IdxPitchRate
	StateDim
)

// Corner order: FL, FR, RL, RR.
const (
	FL = iota
	FR
	RL
	RR
)

var cornerNames = [4]string{"FL", "FR", "RL", "RR"}

func CornerName(i int) string { return cornerNames[i] }

// CornerPressures is the per-corner chamber pair, frozen for the
// duration of one integration step (explicit coupling with the gas
// state).
type CornerPressures struct {
	Head float64
	Rod  float64
}

// Disturbance is an optional external load on the body.
type Disturbance struct {
	Force       float64 // N, +z
	RollMoment  float64 // N·m about +x
	PitchMoment float64 // N·m about +y
}

// Rig is the sprung body plus the force-path constants of the four
// corners. It implements dynamo.System over the 6-dim chassis state;
// pressures are set once per step via SetPressures.
type Rig struct {
	Mass         float64 // kg
	RollInertia  float64 // kg·m^2 about x
	PitchInertia float64 // kg·m^2 about y
	Wheelbase    float64 // m
	Track        float64 // m
	LeverRatio   float64 // cylinder axial force -> vertical corner force
	HeadArea     float64 // m^2
	RodArea      float64 // m^2
	Ambient      float64 // Pa, atmospheric reference
	Gravity      float64 // m/s^2

	// small structural damping, keeps the undriven body from ringing
	HeaveDamping float64
	RollDamping  float64
	PitchDamping float64

	Disturbance Disturbance

	pressures [4]CornerPressures
}

func (r *Rig) Dim() int { return StateDim }

func (r *Rig) SetPressures(p [4]CornerPressures) { r.pressures = p }

// CornerPosition returns the (x, y) of a corner in body axes.
func (r *Rig) CornerPosition(i int) (x, y float64) {
	x = r.Wheelbase / 2
	if i == RL || i == RR {
		x = -x
	}
	y = r.Track / 2
	if i == FR || i == RR {
		y = -y
	}
	return
}

// CornerHeight is the vertical position of a corner for the given
// chassis state, small-angle.
func CornerHeight(x dynamo.State, cx, cy float64) float64 {
	return x[IdxHeave] + cy*x[IdxRoll] - cx*x[IdxPitch]
}

// cornerForce is the vertical force one cylinder applies to the body.
func (r *Rig) cornerForce(p CornerPressures) float64 {
	axial := (p.Head-r.Ambient)*r.HeadArea - (p.Rod-r.Ambient)*r.RodArea
	return axial * r.LeverRatio
}

// Moments sums the four corner forces into net roll and pitch moments,
// per the package sign convention.
func (r *Rig) Moments() (roll, pitch float64) {
	for i := 0; i < 4; i++ {
		cx, cy := r.CornerPosition(i)
		fz := r.cornerForce(r.pressures[i])
		roll += cy * fz
		pitch += -cx * fz
	}
	return
}

func (r *Rig) Derive(x dynamo.State, t float64) dynamo.State {
	var fz float64
	for i := 0; i < 4; i++ {
		fz += r.cornerForce(r.pressures[i])
	}
	rollM, pitchM := r.Moments()

	fz += r.Disturbance.Force - r.Mass*r.Gravity - r.HeaveDamping*x[IdxHeaveRate]
	rollM += r.Disturbance.RollMoment - r.RollDamping*x[IdxRollRate]
	pitchM += r.Disturbance.PitchMoment - r.PitchDamping*x[IdxPitchRate]

	return dynamo.State{
		x[IdxHeaveRate],
		x[IdxRollRate],
		x[IdxPitchRate],
		fz / r.Mass,
		rollM / r.RollInertia,
		pitchM / r.PitchInertia,
	}
}

func (r *Rig) Validate() error {
	if r.Mass <= 0 || r.RollInertia <= 0 || r.PitchInertia <= 0 {
		return fmt.Errorf("rig: mass and inertias must be positive")
	}
	if r.Wheelbase <= 0 || r.Track <= 0 {
		return fmt.Errorf("rig: wheelbase and track must be positive")
	}
	if r.HeadArea <= 0 || r.RodArea <= 0 || r.RodArea >= r.HeadArea {
		return fmt.Errorf("rig: need 0 < rod area < head area")
	}
	if r.LeverRatio <= 0 {
		return fmt.Errorf("rig: lever ratio must be positive")
	}
	return nil
}
