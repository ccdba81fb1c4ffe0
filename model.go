package main

import (
	"net/url"
	"sort"
	"time"
)

// stampLayout is the timestamp format written into every dynamic data
// document.  It matches the format the original bench pages expect.
const stampLayout = "01/02/2006 15:04:05"

// timeStamp returns the current local time formatted for data documents.
func timeStamp() string {
	return time.Now().Format(stampLayout)
}

// AgentSpec describes one instrument agent on the bench: how to identify its
// process, where it publishes its dynamic data document, and which request
// parameters map onto its command line flags.
type AgentSpec struct {
	Name  string // agent name, also the subcommand: "pilab agent <name>"
	Title string // human readable title for status displays

	// DataFile is the dynamic data document filename inside the data
	// directory.  The agent owns this file exclusively.
	DataFile string

	// Pattern uniquely matches the agent's command line among all
	// processes.  Used only as a fallback when the PID file is missing.
	Pattern string

	// Interval is the agent's publish cadence.  Consumers treat a document
	// older than a few intervals as stale.
	Interval time.Duration

	// Hardware marks agents that drive GPIO/I2C peripherals and therefore
	// need to run under the configured agent identity.
	Hardware bool

	// DefaultArgs are passed to the agent when a start request carries no
	// parameters of its own.
	DefaultArgs []string

	// ParamFlags maps request parameter names to agent flags that take a
	// value (e.g. "frequency" -> "-f").  BoolFlags maps parameters to
	// valueless flags (e.g. "continuous" -> "-c").
	ParamFlags map[string]string
	BoolFlags  map[string]string
}

// argsFromForm converts submitted control parameters into the agent's
// command line.  Unknown parameters are ignored; an empty form yields the
// spec's default arguments.  Parameter order is made deterministic so that
// restarts with identical parameters produce identical command lines.
func (s AgentSpec) argsFromForm(form url.Values) []string {
	var args []string

	keys := make([]string, 0, len(s.ParamFlags))
	for k := range s.ParamFlags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := form.Get(k); v != "" {
			args = append(args, s.ParamFlags[k], v)
		}
	}

	keys = keys[:0]
	for k := range s.BoolFlags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch form.Get(k) {
		case "1", "true", "on", "yes":
			args = append(args, s.BoolFlags[k])
		}
	}

	if len(args) == 0 {
		return append([]string(nil), s.DefaultArgs...)
	}
	return args
}

// ButtonDocument is the push-button counter's dynamic data document.  The
// count is published as a string for compatibility with the bench pages.
type ButtonDocument struct {
	Time  string `json:"time"`
	Count string `json:"count"`
}

// ScopeDocument is one oscilloscope frame.  Samples are volts joined with
// ", " as the original agent formatted them.  Trigger is "edge" when the
// frame was aligned on a rising edge, "auto" when no crossing was found.
type ScopeDocument struct {
	Time    string `json:"time"`
	Rate    int    `json:"rate"`
	Size    int    `json:"size"`
	Samples string `json:"samples"`
	Trigger string `json:"trigger"`
}

// AltimeterDocument carries the altimeter telemetry.  Numeric fields are
// pre-formatted strings, matching the original agent's output contract.
type AltimeterDocument struct {
	Date                string `json:"date"`
	ChartUpdateInterval string `json:"chartUpdateInterval"`
	Altitude            string `json:"altitude"`
	Pressure            string `json:"pressure"`
	Bar                 string `json:"bar"`
	TempC               string `json:"tempC"`
	TempF               string `json:"tempF"`
	Status              string `json:"status"`
}

// GeneratorDocument reports the function generator's active settings so the
// bench page can display what the hardware is currently producing.
type GeneratorDocument struct {
	Time      string  `json:"time"`
	Waveform  string  `json:"waveform"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
	DutyCycle float64 `json:"dutyCycle"`
}

// ServoDocument reports the servo's commanded position and mode.
type ServoDocument struct {
	Time  string  `json:"time"`
	Angle float64 `json:"angle"`
	Mode  string  `json:"mode"` // "hold" or "sweep"
}

// AgentStatus is one row of the supervisor's status report.
type AgentStatus struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	DataFresh  bool   `json:"data_fresh"`
	LastUpdate string `json:"last_update,omitempty"`
}
