package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the static definition of the agent fleet.  The built-in
// defaults describe the five agent-driven bench instruments (the LED is
// toggled directly and has no agent); an optional agents.yaml can adjust
// titles, intervals and default arguments without rebuilding.
type Manifest struct {
	agents map[string]AgentSpec
	order  []string
}

// manifestOverride is the YAML shape of a per-agent override.  Only set
// fields replace the built-in values.
type manifestOverride struct {
	Title       string   `yaml:"title"`
	DataFile    string   `yaml:"data_file"`
	Interval    string   `yaml:"interval"`
	DefaultArgs []string `yaml:"default_args"`
	Hardware    *bool    `yaml:"hardware"`
}

type manifestFile struct {
	Agents map[string]manifestOverride `yaml:"agents"`
}

// defaultManifest returns the built-in fleet.  Names, pins, data file names
// and cadences follow the original bench projects.
func defaultManifest() *Manifest {
	specs := []AgentSpec{
		{
			Name:       "pushbutton",
			Title:      "Push Button Counter",
			DataFile:   "pushButtonData.js",
			Pattern:    "pilab agent pushbutton",
			Interval:   500 * time.Millisecond,
			Hardware:   true,
			ParamFlags: map[string]string{"debounce": "-b"},
		},
		{
			Name:       "servo",
			Title:      "Servo Positioner",
			DataFile:   "servoData.js",
			Pattern:    "pilab agent servo",
			Interval:   time.Second,
			Hardware:   true,
			ParamFlags: map[string]string{"angle": "-a"},
			BoolFlags:  map[string]string{"continuous": "-c"},
		},
		{
			Name:     "fncgen",
			Title:    "Function Generator",
			DataFile: "fncgenData.js",
			Pattern:  "pilab agent fncgen",
			Interval: time.Second,
			Hardware: true,
			DefaultArgs: []string{
				"-w", "sin", "-f", "20", "-a", "1.6",
			},
			ParamFlags: map[string]string{
				"waveform":  "-w",
				"frequency": "-f",
				"amplitude": "-a",
				"dutyCycle": "-d",
			},
		},
		{
			Name:     "oscilloscope",
			Title:    "Oscilloscope Sampler",
			DataFile: "adcData.js",
			Pattern:  "pilab agent oscilloscope",
			Interval: 500 * time.Millisecond,
			Hardware: true,
			DefaultArgs: []string{
				"-r", "1000", "-n", "200",
			},
			ParamFlags: map[string]string{
				"rate": "-r",
				"size": "-n",
			},
		},
		{
			Name:       "altimeter",
			Title:      "Altimeter",
			DataFile:   "altimeterData.js",
			Pattern:    "pilab agent altimeter",
			Interval:   5 * time.Second,
			Hardware:   true,
			ParamFlags: map[string]string{"interval": "-p"},
		},
	}

	m := &Manifest{agents: make(map[string]AgentSpec, len(specs))}
	for _, s := range specs {
		m.agents[s.Name] = s
		m.order = append(m.order, s.Name)
	}
	return m
}

// LoadManifest returns the built-in fleet, merged with overrides from the
// given YAML file when it exists.  A missing file is not an error; a
// malformed one is.
func LoadManifest(path string) (*Manifest, error) {
	m := defaultManifest()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	for name, ov := range mf.Agents {
		spec, ok := m.agents[name]
		if !ok {
			return nil, fmt.Errorf("manifest names unknown agent %q", name)
		}
		if ov.Title != "" {
			spec.Title = ov.Title
		}
		if ov.DataFile != "" {
			spec.DataFile = ov.DataFile
		}
		if ov.Interval != "" {
			d, err := time.ParseDuration(ov.Interval)
			if err != nil {
				return nil, fmt.Errorf("agent %s: invalid interval: %w", name, err)
			}
			spec.Interval = d
		}
		if ov.DefaultArgs != nil {
			spec.DefaultArgs = ov.DefaultArgs
		}
		if ov.Hardware != nil {
			spec.Hardware = *ov.Hardware
		}
		m.agents[name] = spec
	}
	return m, nil
}

// Get returns the spec for a named agent.
func (m *Manifest) Get(name string) (AgentSpec, bool) {
	s, ok := m.agents[name]
	return s, ok
}

// All returns the fleet in stable display order.
func (m *Manifest) All() []AgentSpec {
	out := make([]AgentSpec, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.agents[name])
	}
	return out
}
