package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/airsusp/internal/chassis"
	"github.com/san-kum/airsusp/internal/gas"
	"github.com/san-kum/airsusp/internal/kinematics"
)

const (
	DefaultDt        = 0.001
	DefaultDuration  = 10.0
	DefaultSubSteps  = 4
	DefaultAmbientP  = 101325.0
	DefaultAmbientT  = 293.15
	DefaultChargeP   = 6.0e5
	DefaultReceiverP = 8.0e5
)

type Config struct {
	Sim      Sim      `yaml:"sim"`
	Geometry Geometry `yaml:"geometry"`
	Chassis  Chassis  `yaml:"chassis"`
	Receiver Receiver `yaml:"receiver"`
	Valves   Valves   `yaml:"valves"`
	Gas      Gas      `yaml:"gas"`
	Road     Road     `yaml:"road"`
}

type Sim struct {
	Dt                float64 `yaml:"dt"`
	Duration          float64 `yaml:"duration"` // 0 = run until stopped
	SubSteps          int     `yaml:"sub_steps"`
	MaxRetries        int     `yaml:"max_retries"`
	MaxGeometryFaults int     `yaml:"max_geometry_faults"`
	Integrator        string  `yaml:"integrator"` // rk4 | semi_euler
	RateHz            float64 `yaml:"rate_hz"`    // 0 = free run
}

type Geometry struct {
	LeverLength float64 `yaml:"lever_length"`
	ArmRadius   float64 `yaml:"arm_radius"`
	RodLength   float64 `yaml:"rod_length"`
	MountOffset float64 `yaml:"mount_offset"`
	MountHeight float64 `yaml:"mount_height"`
	Bore        float64 `yaml:"bore"`
	RodDiameter float64 `yaml:"rod_diameter"`
	Stroke      float64 `yaml:"stroke"`
	DeadZone    float64 `yaml:"dead_zone"`
}

type Chassis struct {
	Mass         float64 `yaml:"mass"`
	RollInertia  float64 `yaml:"roll_inertia"`
	PitchInertia float64 `yaml:"pitch_inertia"`
	Wheelbase    float64 `yaml:"wheelbase"`
	Track        float64 `yaml:"track"`
	LeverRatio   float64 `yaml:"lever_ratio"`
	HeaveDamping float64 `yaml:"heave_damping"`
	RollDamping  float64 `yaml:"roll_damping"`
	PitchDamping float64 `yaml:"pitch_damping"`
}

type Receiver struct {
	Mode         string  `yaml:"mode"` // manual | geometric
	Diameter     float64 `yaml:"diameter"`
	Length       float64 `yaml:"length"`
	VolumeLiters float64 `yaml:"volume_liters"`
}

type Valves struct {
	SupplyCoeff  float64 `yaml:"supply_coeff"`  // receiver <-> head
	CrossCoeff   float64 `yaml:"cross_coeff"`   // head <-> rod
	ExhaustCoeff float64 `yaml:"exhaust_coeff"` // rod -> atmosphere
	IntakeCoeff  float64 `yaml:"intake_coeff"`  // atmosphere -> receiver
	ReliefCoeff  float64 `yaml:"relief_coeff"`  // receiver -> atmosphere
	ReliefOpen   float64 `yaml:"relief_open"`   // Pa differential
	ReliefClose  float64 `yaml:"relief_close"`
}

type Gas struct {
	Mode string `yaml:"mode"` // isothermal | adiabatic, default for every chamber
	// ModeOverrides assigns individual chambers a different thermal mode,
	// keyed by chamber label (head_FL, rod_RR, receiver, ...).
	ModeOverrides    map[string]string `yaml:"mode_overrides,omitempty"`
	ChargePressure   float64           `yaml:"charge_pressure"`
	ReceiverPressure float64           `yaml:"receiver_pressure"`
	AmbientPressure  float64           `yaml:"ambient_pressure"`
	AmbientTemp      float64           `yaml:"ambient_temp"`
}

type Road struct {
	Name      string    `yaml:"profile"` // flat | sine | slalom | bump | sweep | table
	Amplitude float64   `yaml:"amplitude"`
	Frequency float64   `yaml:"frequency"`
	Speed     float64   `yaml:"speed"` // m/s, sets the rear-axle delay
	BumpStart float64   `yaml:"bump_start"`
	BumpLen   float64   `yaml:"bump_length"`
	SweepTo   float64   `yaml:"sweep_to"`
	SweepLen  float64   `yaml:"sweep_length"`
	SampleDt  float64   `yaml:"sample_dt"`
	Samples   []float64 `yaml:"samples,flow"`
}

func DefaultConfig() *Config {
	return &Config{
		Sim: Sim{
			Dt:                DefaultDt,
			Duration:          DefaultDuration,
			SubSteps:          DefaultSubSteps,
			MaxRetries:        3,
			MaxGeometryFaults: 50,
			Integrator:        "rk4",
		},
		Geometry: Geometry{
			LeverLength: 0.35,
			ArmRadius:   0.18,
			RodLength:   0.25,
			MountOffset: 0.15,
			MountHeight: -0.31,
			Bore:        0.10,
			RodDiameter: 0.036,
			Stroke:      0.16,
			DeadZone:    0.008,
		},
		Chassis: Chassis{
			Mass:         1600,
			RollInertia:  600,
			PitchInertia: 2200,
			Wheelbase:    2.7,
			Track:        1.55,
			LeverRatio:   1.0,
			HeaveDamping: 1200,
			RollDamping:  400,
			PitchDamping: 900,
		},
		Receiver: Receiver{
			Mode:         "manual",
			VolumeLiters: 25,
			Diameter:     0.3,
			Length:       0.8,
		},
		Valves: Valves{
			SupplyCoeff:  4e-7,
			CrossCoeff:   2e-7,
			ExhaustCoeff: 1e-7,
			IntakeCoeff:  3e-7,
			ReliefCoeff:  5e-7,
			ReliefOpen:   7.5e5,
			ReliefClose:  6.5e5,
		},
		Gas: Gas{
			Mode:             "adiabatic",
			ChargePressure:   DefaultChargeP,
			ReceiverPressure: DefaultReceiverP,
			AmbientPressure:  DefaultAmbientP,
			AmbientTemp:      DefaultAmbientT,
		},
		Road: Road{
			Name:      "sine",
			Amplitude: 0.03,
			Frequency: 1.2,
			Speed:     15,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// KinematicsGeometry maps the geometry section onto the solver's struct.
func (c *Config) KinematicsGeometry() kinematics.Geometry {
	g := c.Geometry
	return kinematics.Geometry{
		LeverLength: g.LeverLength,
		ArmRadius:   g.ArmRadius,
		RodLength:   g.RodLength,
		MountOffset: g.MountOffset,
		MountHeight: g.MountHeight,
		Bore:        g.Bore,
		RodDiameter: g.RodDiameter,
		Stroke:      g.Stroke,
		DeadZone:    g.DeadZone,
	}
}

// Rig builds the rigid-body model from the chassis and geometry
// sections.
func (c *Config) Rig() *chassis.Rig {
	kg := c.KinematicsGeometry()
	return &chassis.Rig{
		Mass:         c.Chassis.Mass,
		RollInertia:  c.Chassis.RollInertia,
		PitchInertia: c.Chassis.PitchInertia,
		Wheelbase:    c.Chassis.Wheelbase,
		Track:        c.Chassis.Track,
		LeverRatio:   c.Chassis.LeverRatio,
		HeadArea:     kg.HeadArea(),
		RodArea:      kg.RodArea(),
		Ambient:      c.Gas.AmbientPressure,
		Gravity:      9.81,
		HeaveDamping: c.Chassis.HeaveDamping,
		RollDamping:  c.Chassis.RollDamping,
		PitchDamping: c.Chassis.PitchDamping,
	}
}

// ReceiverConfig maps the receiver section onto the gas-side type.
func (c *Config) ReceiverConfig() (gas.ReceiverConfig, error) {
	mode, err := gas.ParseVolumeMode(c.Receiver.Mode)
	if err != nil {
		return gas.ReceiverConfig{}, err
	}
	rc := gas.ReceiverConfig{
		Mode:         mode,
		Diameter:     c.Receiver.Diameter,
		Length:       c.Receiver.Length,
		VolumeLiters: c.Receiver.VolumeLiters,
	}
	return rc, rc.Validate()
}

// Validate rejects invalid configuration at the boundary: the caller
// keeps its previous configuration when this fails.
func (c *Config) Validate() error {
	if c.Sim.Dt <= 0 {
		return fmt.Errorf("sim: dt must be positive, got %g", c.Sim.Dt)
	}
	if c.Sim.Duration < 0 {
		return fmt.Errorf("sim: duration must be non-negative")
	}
	if c.Sim.SubSteps < 1 {
		return fmt.Errorf("sim: sub_steps must be at least 1")
	}
	if c.Sim.MaxRetries < 0 || c.Sim.MaxGeometryFaults < 1 {
		return fmt.Errorf("sim: invalid retry limits")
	}
	switch c.Sim.Integrator {
	case "rk4", "semi_euler":
	default:
		return fmt.Errorf("sim: unknown integrator %q", c.Sim.Integrator)
	}

	g := c.Geometry
	if g.LeverLength <= 0 || g.ArmRadius <= 0 || g.RodLength <= 0 {
		return fmt.Errorf("geometry: lever, arm and rod lengths must be positive")
	}
	if g.ArmRadius >= g.LeverLength {
		return fmt.Errorf("geometry: arm radius must be inside the lever length")
	}
	if g.Bore <= 0 || g.RodDiameter <= 0 || g.RodDiameter >= g.Bore {
		return fmt.Errorf("geometry: need 0 < rod diameter < bore")
	}
	if g.Stroke <= 0 || g.DeadZone < 0 || g.DeadZone*2 >= g.Stroke {
		return fmt.Errorf("geometry: dead zones must leave piston travel")
	}
	if _, err := kinematics.Solve(c.KinematicsGeometry(), 0); err != nil {
		return fmt.Errorf("geometry: rest position unsolvable: %w", err)
	}

	if err := c.Rig().Validate(); err != nil {
		return err
	}

	if _, err := c.ReceiverConfig(); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}

	v := c.Valves
	for name, coeff := range map[string]float64{
		"supply": v.SupplyCoeff, "cross": v.CrossCoeff,
		"exhaust": v.ExhaustCoeff, "intake": v.IntakeCoeff, "relief": v.ReliefCoeff,
	} {
		if coeff < 0 {
			return fmt.Errorf("valves: %s coefficient must be non-negative", name)
		}
	}
	if v.ReliefCoeff > 0 && v.ReliefOpen <= v.ReliefClose {
		return fmt.Errorf("valves: relief open threshold must exceed close threshold")
	}

	if _, err := gas.ParseMode(c.Gas.Mode); err != nil {
		return err
	}
	for label, m := range c.Gas.ModeOverrides {
		if !validChamberLabel(label) {
			return fmt.Errorf("gas: unknown chamber %q in mode overrides", label)
		}
		if _, err := gas.ParseMode(m); err != nil {
			return fmt.Errorf("gas: mode override for %s: %w", label, err)
		}
	}
	if c.Gas.ChargePressure <= 0 || c.Gas.ReceiverPressure <= 0 ||
		c.Gas.AmbientPressure <= 0 || c.Gas.AmbientTemp <= 0 {
		return fmt.Errorf("gas: pressures and temperature must be positive")
	}

	r := c.Road
	switch r.Name {
	case "flat":
	case "sine", "slalom", "sweep":
		if r.Amplitude <= 0 || r.Frequency <= 0 {
			return fmt.Errorf("road: %s needs positive amplitude and frequency", r.Name)
		}
	case "bump":
		if r.Amplitude <= 0 || r.BumpLen <= 0 {
			return fmt.Errorf("road: bump needs positive amplitude and length")
		}
	case "table":
		if r.SampleDt <= 0 || len(r.Samples) < 2 {
			return fmt.Errorf("road: table needs sample_dt and at least 2 samples")
		}
	default:
		return fmt.Errorf("road: unknown profile %q", r.Name)
	}
	if r.Name != "flat" && r.Speed < 0 {
		return fmt.Errorf("road: speed must be non-negative")
	}

	return nil
}

func validChamberLabel(label string) bool {
	if label == "receiver" {
		return true
	}
	for i := 0; i < 4; i++ {
		n := chassis.CornerName(i)
		if label == "head_"+n || label == "rod_"+n {
			return true
		}
	}
	return false
}

// RearDelay is the rear-axle excitation delay in seconds.
func (c *Config) RearDelay() float64 {
	if c.Road.Speed <= 0 {
		return 0
	}
	return c.Chassis.Wheelbase / c.Road.Speed
}
