package gas

import (
	"fmt"
	"math"
)

type VolumeMode int

const (
	VolumeManual VolumeMode = iota
	VolumeGeometric
)

func (m VolumeMode) String() string {
	if m == VolumeGeometric {
		return "geometric"
	}
	return "manual"
}

func ParseVolumeMode(s string) (VolumeMode, error) {
	switch s {
	case "manual":
		return VolumeManual, nil
	case "geometric":
		return VolumeGeometric, nil
	}
	return 0, fmt.Errorf("unknown receiver volume mode %q", s)
}

// ReceiverConfig sizes the shared receiver. Exactly one entry mode is
// authoritative: manual liters, or diameter x length.
type ReceiverConfig struct {
	Mode         VolumeMode
	Diameter     float64 // m, geometric mode
	Length       float64 // m, geometric mode
	VolumeLiters float64 // manual mode
}

func (rc ReceiverConfig) Volume() float64 {
	switch rc.Mode {
	case VolumeGeometric:
		r := rc.Diameter / 2
		return math.Pi * r * r * rc.Length
	default:
		return rc.VolumeLiters / 1000
	}
}

func (rc ReceiverConfig) Validate() error {
	switch rc.Mode {
	case VolumeGeometric:
		if rc.Diameter <= 0 || rc.Length <= 0 {
			return fmt.Errorf("receiver geometric mode needs positive diameter and length")
		}
	case VolumeManual:
		if rc.VolumeLiters <= 0 {
			return fmt.Errorf("receiver manual mode needs positive volume")
		}
	default:
		return fmt.Errorf("unknown receiver volume mode %d", rc.Mode)
	}
	return nil
}

// ApplyTo resizes the receiver chamber to this configuration's volume
// using the energy-conserving rescale.
func (rc ReceiverConfig) ApplyTo(c *Chamber) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	return c.SetVolume(rc.Volume())
}
