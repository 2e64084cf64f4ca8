// Package engine owns the co-simulation loop: it holds exclusive
// mutable access to the chassis state, all gas chambers and the valve
// network, advances them on a fixed step in a single worker goroutine,
// and publishes immutable snapshots through a latest-only relay.
// Consumer-side updates (configuration, mode switches, control) are
// applied only at step boundaries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/san-kum/airsusp/internal/chassis"
	"github.com/san-kum/airsusp/internal/config"
	"github.com/san-kum/airsusp/internal/diag"
	"github.com/san-kum/airsusp/internal/dynamo"
	"github.com/san-kum/airsusp/internal/flow"
	"github.com/san-kum/airsusp/internal/gas"
	"github.com/san-kum/airsusp/internal/integrators"
	"github.com/san-kum/airsusp/internal/kinematics"
	"github.com/san-kum/airsusp/internal/relay"
	"github.com/san-kum/airsusp/internal/road"
)

// Chamber indexing: four head chambers, four rod chambers, receiver.
const (
	HeadFL = iota
	HeadFR
	HeadRL
	HeadRR
	RodFL
	RodFR
	RodRL
	RodRR
	Receiver
	NumChambers
)

// ChamberLabel returns the canonical label for a chamber index.
func ChamberLabel(i int) string {
	switch {
	case i >= HeadFL && i <= HeadRR:
		return "head_" + chassis.CornerName(i-HeadFL)
	case i >= RodFL && i <= RodRR:
		return "rod_" + chassis.CornerName(i-RodFL)
	}
	return "receiver"
}

func chamberIndex(label string) int {
	for i := 0; i < NumChambers; i++ {
		if ChamberLabel(i) == label {
			return i
		}
	}
	return -1
}

type Phase int32

const (
	Idle Phase = iota
	Running
	Paused
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

var ErrStopped = errors.New("engine stopped")

type command struct {
	kind  cmdKind
	cfg   *config.Config
	mode  gas.Mode
	label string // thermal-mode target chamber, "" = all
	recv  gas.ReceiverConfig
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdStop
	cmdReset
	cmdConfig
	cmdThermalMode
	cmdReceiverMode
)

// Observer is called on the worker goroutine after each published
// snapshot. Observers must not block.
type Observer interface {
	OnSnapshot(*Snapshot)
}

type Engine struct {
	cfg  *config.Config
	geom kinematics.Geometry
	rig  *chassis.Rig

	chambers [NumChambers]*gas.Chamber
	net      *flow.Network
	profile  road.Profile
	integ    dynamo.Integrator

	x       dynamo.State
	t       float64
	step    uint64
	lastKin [4]kinematics.WheelKinematics
	geomRun [4]int

	latch     *relay.Latch[Snapshot]
	collector diag.Collector
	observers []Observer
	log       zerolog.Logger

	phase atomic.Int32
	cmds  chan command
	done  chan struct{}
}

func New(cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration rejected: %w", err)
	}
	e := &Engine{
		cfg:   cfg,
		latch: relay.New[Snapshot](),
		log:   log,
		cmds:  make(chan command, 16),
		done:  make(chan struct{}),
	}
	if err := e.init(); err != nil {
		return nil, err
	}
	return e, nil
}

// init builds the simulation state from the current configuration. Also
// the reset-to-initial-conditions path.
func (e *Engine) init() error {
	cfg := e.cfg
	e.geom = cfg.KinematicsGeometry()
	e.rig = cfg.Rig()

	kin0, err := kinematics.Solve(e.geom, 0)
	if err != nil {
		return fmt.Errorf("rest geometry unsolvable: %w", err)
	}

	defaultMode, _ := gas.ParseMode(cfg.Gas.Mode)
	chamberMode := func(idx int) gas.Mode {
		if s, ok := cfg.Gas.ModeOverrides[ChamberLabel(idx)]; ok {
			m, _ := gas.ParseMode(s)
			return m
		}
		return defaultMode
	}
	rc, err := cfg.ReceiverConfig()
	if err != nil {
		return err
	}

	headDead := e.geom.HeadArea() * e.geom.DeadZone
	rodDead := e.geom.RodArea() * e.geom.DeadZone
	for i := 0; i < 4; i++ {
		head, err := gas.NewChamber(ChamberLabel(HeadFL+i), kin0.HeadVolume, headDead,
			cfg.Gas.ChargePressure, cfg.Gas.AmbientTemp, chamberMode(HeadFL+i))
		if err != nil {
			return err
		}
		rod, err := gas.NewChamber(ChamberLabel(RodFL+i), kin0.RodVolume, rodDead,
			cfg.Gas.AmbientPressure, cfg.Gas.AmbientTemp, chamberMode(RodFL+i))
		if err != nil {
			return err
		}
		e.chambers[HeadFL+i] = head
		e.chambers[RodFL+i] = rod
		e.lastKin[i] = kin0
		e.geomRun[i] = 0
	}
	recv, err := gas.NewChamber(ChamberLabel(Receiver), rc.Volume(), 1e-5,
		cfg.Gas.ReceiverPressure, cfg.Gas.AmbientTemp, chamberMode(Receiver))
	if err != nil {
		return err
	}
	e.chambers[Receiver] = recv

	e.net, err = buildCircuit(cfg.Valves)
	if err != nil {
		return err
	}
	e.profile, err = buildProfile(cfg)
	if err != nil {
		return err
	}
	e.integ = buildIntegrator(cfg.Sim.Integrator)

	e.x = make(dynamo.State, chassis.StateDim)
	e.t = 0
	e.step = 0
	return nil
}

func buildIntegrator(name string) dynamo.Integrator {
	if name == "semi_euler" {
		return integrators.NewSemiImplicitEuler()
	}
	return integrators.NewRK4()
}

func buildProfile(cfg *config.Config) (road.Profile, error) {
	r := cfg.Road
	delay := cfg.RearDelay()
	switch r.Name {
	case "flat":
		return road.Flat(), nil
	case "sine":
		return road.Sine(r.Amplitude, r.Frequency, delay, false), nil
	case "slalom":
		return road.Sine(r.Amplitude, r.Frequency, delay, true), nil
	case "bump":
		return road.Bump(r.Amplitude, r.BumpStart, r.BumpLen, delay), nil
	case "sweep":
		return road.Sweep(r.Amplitude, r.Frequency, r.SweepTo, r.SweepLen, delay), nil
	case "table":
		return road.NewTable("table", r.SampleDt, r.Samples, delay)
	}
	return nil, fmt.Errorf("unknown road profile %q", r.Name)
}

func buildCircuit(v config.Valves) (*flow.Network, error) {
	var paths []*flow.Path
	for i := 0; i < 4; i++ {
		name := chassis.CornerName(i)
		paths = append(paths,
			&flow.Path{Name: "supply_" + name, Kind: flow.Throttle,
				A: Receiver, B: HeadFL + i, Coeff: v.SupplyCoeff},
			&flow.Path{Name: "cross_" + name, Kind: flow.Throttle,
				A: HeadFL + i, B: RodFL + i, Coeff: v.CrossCoeff},
			&flow.Path{Name: "exhaust_" + name, Kind: flow.Check,
				A: RodFL + i, B: flow.Atmosphere, Coeff: v.ExhaustCoeff},
		)
	}
	paths = append(paths,
		&flow.Path{Name: "relief", Kind: flow.Relief,
			A: Receiver, B: flow.Atmosphere, Coeff: v.ReliefCoeff,
			OpenAbove: v.ReliefOpen, CloseBelow: v.ReliefClose},
		&flow.Path{Name: "intake", Kind: flow.Check,
			A: flow.Atmosphere, B: Receiver, Coeff: v.IntakeCoeff},
	)
	return flow.NewNetwork(paths)
}

func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) Latch() *relay.Latch[Snapshot] { return e.latch }

// AddObserver registers a snapshot observer. Must be called before Run.
func (e *Engine) AddObserver(o Observer) { e.observers = append(e.observers, o) }

// Time and StepIndex report the worker's progress; only meaningful from
// the worker goroutine or after Done.
func (e *Engine) Time() float64     { return e.t }
func (e *Engine) StepIndex() uint64 { return e.step }

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) send(c command) error {
	select {
	case e.cmds <- c:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Control surface. All operations take effect at the next step boundary.
func (e *Engine) Pause() error  { return e.send(command{kind: cmdPause}) }
func (e *Engine) Resume() error { return e.send(command{kind: cmdResume}) }
func (e *Engine) Reset() error  { return e.send(command{kind: cmdReset}) }

func (e *Engine) Stop() error {
	err := e.send(command{kind: cmdStop})
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// ApplyConfig stages a full configuration update; it is validated and,
// if rejected, the previous configuration stays in force.
func (e *Engine) ApplyConfig(cfg *config.Config) error {
	return e.send(command{kind: cmdConfig, cfg: cfg})
}

// SwitchThermalMode re-derives chamber masses from P·V/(R·T) at the
// boundary so the switch causes no state discontinuity. It applies to
// every chamber; SwitchChamberThermalMode targets a single one.
func (e *Engine) SwitchThermalMode(mode gas.Mode) error {
	return e.send(command{kind: cmdThermalMode, mode: mode})
}

// SwitchChamberThermalMode switches one chamber, addressed by its
// canonical label (head_FL, rod_RR, receiver, ...).
func (e *Engine) SwitchChamberThermalMode(label string, mode gas.Mode) error {
	return e.send(command{kind: cmdThermalMode, label: label, mode: mode})
}

// SwitchReceiverMode resizes the receiver with the energy-conserving
// rescale.
func (e *Engine) SwitchReceiverMode(rc gas.ReceiverConfig) error {
	return e.send(command{kind: cmdReceiverMode, recv: rc})
}

// Run drives the simulation until stopped, the context is cancelled, or
// the configured duration elapses. It owns all simulation state for its
// lifetime; no other goroutine may touch it.
func (e *Engine) Run(ctx context.Context) error {
	if !e.phase.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("engine already started (phase %s)", e.Phase())
	}
	defer e.finalize()

	var ticker *time.Ticker
	if e.cfg.Sim.RateHz > 0 {
		ticker = time.NewTicker(time.Duration(float64(time.Second) / e.cfg.Sim.RateHz))
		defer ticker.Stop()
	}

	for {
		if stop := e.drainCommands(); stop {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.Phase() == Paused {
			// nothing to compute; block until the next command
			select {
			case c := <-e.cmds:
				if stop := e.applyCommand(c); stop {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := e.doStep(); err != nil {
			e.log.Error().Err(err).Uint64("step", e.step).Msg("simulation stopped on fault")
			return err
		}

		if d := e.cfg.Sim.Duration; d > 0 && e.t >= d {
			return nil
		}
		if ticker != nil {
			<-ticker.C
		}
	}
}

// Start launches Run on its own goroutine.
func (e *Engine) Start(ctx context.Context) {
	go func() { _ = e.Run(ctx) }()
}

func (e *Engine) drainCommands() (stop bool) {
	for {
		select {
		case c := <-e.cmds:
			if e.applyCommand(c) {
				return true
			}
		default:
			return false
		}
	}
}

func (e *Engine) applyCommand(c command) (stop bool) {
	switch c.kind {
	case cmdPause:
		if e.Phase() == Running {
			e.phase.Store(int32(Paused))
			e.log.Info().Float64("t", e.t).Msg("paused")
		}
	case cmdResume:
		if e.Phase() == Paused {
			e.phase.Store(int32(Running))
			e.log.Info().Float64("t", e.t).Msg("resumed")
		}
	case cmdStop:
		return true
	case cmdReset:
		if err := e.init(); err != nil {
			// current configuration built this state once already
			e.log.Error().Err(err).Msg("reset failed")
			return true
		}
		e.log.Info().Msg("reset to initial conditions")
	case cmdConfig:
		e.stageConfig(c.cfg)
	case cmdThermalMode:
		if c.label == "" {
			for _, ch := range e.chambers {
				ch.SwitchMode(c.mode)
			}
			e.cfg.Gas.Mode = c.mode.String()
			e.cfg.Gas.ModeOverrides = nil
			e.log.Info().Str("mode", c.mode.String()).Msg("thermal mode switched")
			return false
		}
		idx := chamberIndex(c.label)
		if idx < 0 {
			e.configFault(fmt.Errorf("unknown chamber %q", c.label))
			return false
		}
		e.chambers[idx].SwitchMode(c.mode)
		if e.cfg.Gas.ModeOverrides == nil {
			e.cfg.Gas.ModeOverrides = make(map[string]string)
		}
		e.cfg.Gas.ModeOverrides[c.label] = c.mode.String()
		e.log.Info().Str("chamber", c.label).Str("mode", c.mode.String()).Msg("thermal mode switched")
	case cmdReceiverMode:
		if err := c.recv.ApplyTo(e.chambers[Receiver]); err != nil {
			e.configFault(err)
			return false
		}
		e.cfg.Receiver = config.Receiver{
			Mode:         c.recv.Mode.String(),
			Diameter:     c.recv.Diameter,
			Length:       c.recv.Length,
			VolumeLiters: c.recv.VolumeLiters,
		}
		e.log.Info().Str("mode", c.recv.Mode.String()).
			Float64("volume", e.chambers[Receiver].Volume).Msg("receiver mode switched")
	}
	return false
}

// stageConfig validates and applies a consumer configuration update at
// the step boundary. Gas and chassis state carry over; only the
// parameters change.
func (e *Engine) stageConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if err := cfg.Validate(); err != nil {
		e.configFault(err)
		return
	}
	net, err := buildCircuit(cfg.Valves)
	if err != nil {
		e.configFault(err)
		return
	}
	profile, err := buildProfile(cfg)
	if err != nil {
		e.configFault(err)
		return
	}
	e.cfg = cfg
	e.geom = cfg.KinematicsGeometry()
	e.rig = cfg.Rig()
	e.net = net
	e.profile = profile
	e.integ = buildIntegrator(cfg.Sim.Integrator)
	e.log.Info().Msg("configuration applied")
}

func (e *Engine) configFault(err error) {
	f := diag.Fault{
		Kind: diag.Configuration, Corner: -1,
		Step: e.step, Time: e.t, Message: err.Error(),
	}
	e.collector.Add(f)
	diag.Log(e.log, f)
}

// finalize flushes a terminal snapshot carrying any remaining
// diagnostics and marks the engine stopped.
func (e *Engine) finalize() {
	e.phase.Store(int32(Stopped))
	snap := e.buildSnapshot(e.profile.At(e.t))
	e.latch.Publish(snap)
	for _, o := range e.observers {
		o.OnSnapshot(snap)
	}
	close(e.done)
	e.log.Info().Uint64("steps", e.step).Float64("t", e.t).Msg("stopped")
}
