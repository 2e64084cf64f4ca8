package config

import "sort"

// Presets are named scenarios: a road excitation plus matching valve
// tuning over the default rig.
var Presets = map[string]func() *Config{
	"smooth": func() *Config {
		cfg := DefaultConfig()
		cfg.Road = Road{Name: "sine", Amplitude: 0.015, Frequency: 0.8, Speed: 20}
		return cfg
	},
	"pothole": func() *Config {
		cfg := DefaultConfig()
		cfg.Road = Road{Name: "bump", Amplitude: 0.06, BumpStart: 2.0, BumpLen: 0.25, Speed: 12}
		cfg.Valves.CrossCoeff = 4e-7 // firmer cross-port damping for the impact
		return cfg
	},
	"slalom": func() *Config {
		cfg := DefaultConfig()
		cfg.Road = Road{Name: "slalom", Amplitude: 0.04, Frequency: 0.5, Speed: 18}
		return cfg
	},
	"sweep": func() *Config {
		cfg := DefaultConfig()
		cfg.Sim.Duration = 30
		cfg.Road = Road{Name: "sweep", Amplitude: 0.02, Frequency: 0.3, SweepTo: 5.0, SweepLen: 30, Speed: 15}
		return cfg
	},
}

func GetPreset(name string) *Config {
	f, ok := Presets[name]
	if !ok {
		return nil
	}
	return f()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
