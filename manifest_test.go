package main

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManifestCoversTheFleet(t *testing.T) {
	m := defaultManifest()
	names := []string{}
	for _, s := range m.All() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"pushbutton", "servo", "fncgen", "oscilloscope", "altimeter"}, names)

	fncgen, ok := m.Get("fncgen")
	require.True(t, ok)
	assert.Equal(t, []string{"-w", "sin", "-f", "20", "-a", "1.6"}, fncgen.DefaultArgs)
	assert.True(t, fncgen.Hardware)
}

func TestLoadManifestMissingFileUsesDefaults(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Len(t, m.All(), 5)
}

func TestLoadManifestAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  altimeter:
    title: Rooftop Altimeter
    interval: 10s
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	alt, ok := m.Get("altimeter")
	require.True(t, ok)
	assert.Equal(t, "Rooftop Altimeter", alt.Title)
	assert.Equal(t, 10*time.Second, alt.Interval)
	assert.Equal(t, "altimeterData.js", alt.DataFile, "unset fields keep defaults")
}

func TestLoadManifestRejectsUnknownAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  thermostat:
    title: Not An Instrument
`), 0644))

	_, err := LoadManifest(path)
	assert.ErrorContains(t, err, "thermostat")
}

func TestLoadManifestRejectsBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  servo:
    interval: sometimes
`), 0644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestArgsFromFormTranslatesParams(t *testing.T) {
	spec := defaultManifest().agents["fncgen"]

	args := spec.argsFromForm(url.Values{
		"waveform":  {"tri"},
		"frequency": {"40"},
		"ignored":   {"x"},
	})
	assert.Equal(t, []string{"-f", "40", "-w", "tri"}, args, "deterministic flag order")
}

func TestArgsFromFormEmptyMeansDefaults(t *testing.T) {
	spec := defaultManifest().agents["fncgen"]
	assert.Equal(t, spec.DefaultArgs, spec.argsFromForm(url.Values{}))
}

func TestArgsFromFormBoolFlags(t *testing.T) {
	spec := defaultManifest().agents["servo"]

	args := spec.argsFromForm(url.Values{"angle": {"90"}, "continuous": {"1"}})
	assert.Equal(t, []string{"-a", "90", "-c"}, args)

	args = spec.argsFromForm(url.Values{"continuous": {"0"}, "angle": {"45"}})
	assert.Equal(t, []string{"-a", "45"}, args)
}
