package engine

import (
	"github.com/san-kum/airsusp/internal/chassis"
	"github.com/san-kum/airsusp/internal/diag"
	"github.com/san-kum/airsusp/internal/kinematics"
	"github.com/san-kum/airsusp/internal/road"
)

// SnapshotVersion tags the snapshot layout for consumers.
const SnapshotVersion = 1

type ChamberSnap struct {
	Label       string
	Pressure    float64
	Temperature float64
	Mass        float64
	Volume      float64
	Mode        string
}

type CornerSnap struct {
	Name       string
	Kinematics kinematics.WheelKinematics
	// Road is the start-of-step excitation this step consumed; Time on
	// the snapshot is the end-of-step instant, one dt later.
	Road         road.Sample
	HeadPressure float64
	RodPressure  float64
}

// Snapshot is an immutable, fully-owned copy of the simulation state at
// a step boundary. It shares no memory with the live state and is never
// mutated after publication.
type Snapshot struct {
	Version int
	Step    uint64
	Time    float64
	Phase   Phase

	// chassis state in the layout of internal/chassis
	Chassis [chassis.StateDim]float64
	// accelerations at the step boundary: heave, roll, pitch
	Accel [3]float64

	Corners  [4]CornerSnap
	Chambers [NumChambers]ChamberSnap

	Faults []diag.Fault
}

// TotalGasMass sums the gas mass over all chambers.
func (s *Snapshot) TotalGasMass() float64 {
	var m float64
	for i := range s.Chambers {
		m += s.Chambers[i].Mass
	}
	return m
}

func (e *Engine) buildSnapshot(roadS [4]road.Sample) *Snapshot {
	snap := &Snapshot{
		Version: SnapshotVersion,
		Step:    e.step,
		Time:    e.t,
		Phase:   e.Phase(),
	}
	copy(snap.Chassis[:], e.x)

	dx := e.rig.Derive(e.x, e.t)
	snap.Accel[0] = dx[chassis.IdxHeaveRate]
	snap.Accel[1] = dx[chassis.IdxRollRate]
	snap.Accel[2] = dx[chassis.IdxPitchRate]

	for i := 0; i < 4; i++ {
		snap.Corners[i] = CornerSnap{
			Name:         chassis.CornerName(i),
			Kinematics:   e.lastKin[i],
			Road:         roadS[i],
			HeadPressure: e.chambers[HeadFL+i].Pressure,
			RodPressure:  e.chambers[RodFL+i].Pressure,
		}
	}
	for i, c := range e.chambers {
		snap.Chambers[i] = ChamberSnap{
			Label:       c.Label,
			Pressure:    c.Pressure,
			Temperature: c.Temperature,
			Mass:        c.Mass,
			Volume:      c.Volume,
			Mode:        c.Mode.String(),
		}
	}
	snap.Faults = e.collector.Drain()
	return snap
}
