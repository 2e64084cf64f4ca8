package engine

import (
	"errors"
	"fmt"

	"github.com/san-kum/airsusp/internal/chassis"
	"github.com/san-kum/airsusp/internal/diag"
	"github.com/san-kum/airsusp/internal/dynamo"
	"github.com/san-kum/airsusp/internal/flow"
	"github.com/san-kum/airsusp/internal/gas"
	"github.com/san-kum/airsusp/internal/kinematics"
	"github.com/san-kum/airsusp/internal/road"
)

// minimum mass fraction left behind when capping an outflow
const starvationFloor = 1e-3

// checkpoint is the pre-step state needed for an exact rollback.
type checkpoint struct {
	x        dynamo.State
	chambers [NumChambers]gas.Chamber
	relief   []bool
	lastKin  [4]kinematics.WheelKinematics
	geomRun  [4]int
}

func (e *Engine) capture() checkpoint {
	cp := checkpoint{
		x:       e.x.Clone(),
		relief:  e.net.ReliefStates(),
		lastKin: e.lastKin,
		geomRun: e.geomRun,
	}
	for i, c := range e.chambers {
		cp.chambers[i] = *c
	}
	return cp
}

func (e *Engine) restore(cp checkpoint) {
	copy(e.x, cp.x)
	for i := range e.chambers {
		*e.chambers[i] = cp.chambers[i]
	}
	_ = e.net.RestoreReliefStates(cp.relief)
	e.lastKin = cp.lastKin
	e.geomRun = cp.geomRun
}

// doStep advances the simulation by one fixed step. A step that faults
// is rolled back and retried with finer gas sub-stepping; exhausted
// retries stop the simulation. A committed step ends with a published
// snapshot.
func (e *Engine) doStep() error {
	roadS := e.profile.At(e.t)
	cp := e.capture()

	nSub := e.cfg.Sim.SubSteps
	var stepErr error
	for attempt := 0; ; attempt++ {
		stepErr = e.tryStep(roadS, nSub)
		if stepErr == nil {
			break
		}
		e.restore(cp)

		var fatal *fatalError
		if errors.As(stepErr, &fatal) {
			return stepErr
		}
		if attempt >= e.cfg.Sim.MaxRetries {
			return dynamo.StepError{
				Step: e.step, Time: e.t,
				Message: fmt.Sprintf("retries exhausted: %v", stepErr),
			}
		}
		e.log.Warn().Err(stepErr).Int("sub_steps", nSub*2).Msg("step rolled back, retrying")
		nSub *= 2
	}

	e.t += e.cfg.Sim.Dt
	e.step++

	snap := e.buildSnapshot(roadS)
	e.latch.Publish(snap)
	for _, o := range e.observers {
		o.OnSnapshot(snap)
	}
	return nil
}

// fatalError aborts without retrying: sustained geometry violation.
type fatalError struct{ msg string }

func (e *fatalError) Error() string { return e.msg }

// tryStep runs the step pipeline: road -> kinematics -> flow + gas
// sub-steps -> rigid body. On error the caller rolls back; partial
// mutation is fine here.
func (e *Engine) tryStep(roadS [4]road.Sample, nSub int) error {
	// 1. corner kinematics from road excitation and chassis attitude
	var dV [NumChambers]float64
	for i := 0; i < 4; i++ {
		cx, cy := e.rig.CornerPosition(i)
		defl := roadS[i].Disp - chassis.CornerHeight(e.x, cx, cy)

		kin, err := kinematics.Solve(e.geom, defl)
		if err != nil {
			var ie *kinematics.InterferenceError
			mag := 0.0
			if errors.As(err, &ie) {
				mag = ie.Magnitude
			}
			e.fault(diag.Fault{
				Kind: diag.Geometry, Corner: i, Step: e.step, Time: e.t,
				Magnitude: mag, Message: err.Error(),
			})
			e.geomRun[i]++
			if e.geomRun[i] > e.cfg.Sim.MaxGeometryFaults {
				return &fatalError{fmt.Sprintf(
					"corner %s unsolvable for %d consecutive steps",
					chassis.CornerName(i), e.geomRun[i])}
			}
			// hold the last valid corner configuration
			continue
		}
		if kin.Clamped {
			e.fault(diag.Fault{
				Kind: diag.Clamp, Corner: i, Step: e.step, Time: e.t,
				Magnitude: kin.ClampMm, Message: "piston clamped at stroke limit",
			})
		}
		e.geomRun[i] = 0
		e.lastKin[i] = kin
		dV[HeadFL+i] = kin.HeadVolume - e.chambers[HeadFL+i].Volume
		dV[RodFL+i] = kin.RodVolume - e.chambers[RodFL+i].Volume
	}

	// 2. flow rates from start-of-step pressures; held for the whole
	// step so sub-steps stay independent and reproducible
	transfers := e.net.Transfers(e.endpoint)
	subDt := e.cfg.Sim.Dt / float64(nSub)

	for s := 0; s < nSub; s++ {
		if err := e.applyTransfers(transfers, dV, subDt, float64(nSub)); err != nil {
			return err
		}
	}

	// 3. rigid body with the end-of-step chamber pressures frozen
	// across the integrator stages
	var p [4]chassis.CornerPressures
	for i := 0; i < 4; i++ {
		p[i] = chassis.CornerPressures{
			Head: e.chambers[HeadFL+i].Pressure,
			Rod:  e.chambers[RodFL+i].Pressure,
		}
	}
	e.rig.SetPressures(p)

	xNew := e.integ.Step(e.rig, e.x, e.t, e.cfg.Sim.Dt)
	if !xNew.IsValid() {
		e.fault(diag.Fault{
			Kind: diag.Numeric, Corner: -1, Step: e.step, Time: e.t,
			Message: "non-finite chassis state",
		})
		return fmt.Errorf("numeric fault in chassis state")
	}
	copy(e.x, xNew)
	return nil
}

func (e *Engine) endpoint(idx int) flow.Endpoint {
	if idx == flow.Atmosphere {
		return flow.Endpoint{
			Pressure:    e.cfg.Gas.AmbientPressure,
			Temperature: e.cfg.Gas.AmbientTemp,
		}
	}
	c := e.chambers[idx]
	return flow.Endpoint{Pressure: c.Pressure, Temperature: c.Temperature}
}

// applyTransfers applies one gas sub-step: per-chamber volume share plus
// the valve mass transfers, with outflows capped at the available mass
// so a starved chamber never goes negative (the destinations receive
// the capped amounts, conserving mass).
func (e *Engine) applyTransfers(transfers []flow.Transfer, dV [NumChambers]float64, subDt, nSub float64) error {
	var requested [NumChambers]float64
	for _, tr := range transfers {
		if tr.From >= 0 {
			requested[tr.From] += tr.Rate * subDt
		}
	}

	var scale [NumChambers]float64
	for i := range scale {
		scale[i] = 1
		avail := e.chambers[i].Mass * (1 - starvationFloor)
		if requested[i] > avail {
			scale[i] = avail / requested[i]
			e.fault(diag.Fault{
				Kind: diag.Starvation, Corner: -1, Step: e.step, Time: e.t,
				Magnitude: requested[i] - avail,
				Message:   "outflow capped at available mass: " + e.chambers[i].Label,
			})
		}
	}

	var in, inHeat, out [NumChambers]float64
	for _, tr := range transfers {
		m := tr.Rate * subDt
		if tr.From >= 0 {
			m *= scale[tr.From]
			out[tr.From] += m
		}
		if tr.To >= 0 {
			in[tr.To] += m
			inHeat[tr.To] += m * tr.Temp
		}
	}

	for i, c := range e.chambers {
		tIn := 0.0
		if in[i] > 0 {
			tIn = inHeat[i] / in[i]
		}
		if _, err := c.Step(dV[i]/nSub, in[i], tIn, out[i]); err != nil {
			var te *gas.ThermoError
			if errors.As(err, &te) {
				e.fault(diag.Fault{
					Kind: diag.Thermodynamic, Corner: -1, Step: e.step, Time: e.t,
					Magnitude: te.Value, Message: te.Error(),
				})
			}
			return err
		}
	}
	return nil
}

func (e *Engine) fault(f diag.Fault) {
	e.collector.Add(f)
	diag.Log(e.log, f)
}
