package main

import (
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConvertReadingFormatsFields(t *testing.T) {
	r := altReading{TempC: 25.0, Pressure: 101.325, Altitude: 12.34}

	doc, err := convertReading(r, 101.3)
	require.NoError(t, err)

	assert.Equal(t, "12.3", doc.Altitude)
	assert.Equal(t, "101.3250", doc.Pressure)
	assert.Equal(t, fmt.Sprintf("%.4f", 101.325*kPaToInHg), doc.Bar)
	assert.Equal(t, "25.00", doc.TempC)
	assert.Equal(t, "77.00", doc.TempF)
}

func TestConvertReadingRejectsPressureSpike(t *testing.T) {
	r := altReading{TempC: 20, Pressure: 101.8, Altitude: 10}
	_, err := convertReading(r, 101.3)
	assert.ErrorContains(t, err, "pressure spike")
}

func TestConvertReadingAcceptsSmallPressureChange(t *testing.T) {
	r := altReading{TempC: 20, Pressure: 101.5, Altitude: 10}
	_, err := convertReading(r, 101.3)
	assert.NoError(t, err)
}

func TestConvertReadingFirstSampleSkipsSpikeCheck(t *testing.T) {
	// With no previous pressure there is nothing to compare against; the
	// first sample must never be rejected as a spike.
	r := altReading{TempC: 20, Pressure: 101.3, Altitude: 10}
	_, err := convertReading(r, math.NaN())
	assert.NoError(t, err)
}

func TestConvertReadingRejectsImpossibleAltitude(t *testing.T) {
	r := altReading{TempC: 20, Pressure: 101.3, Altitude: 25000}
	_, err := convertReading(r, 101.3)
	assert.ErrorContains(t, err, "altitude")

	r.Altitude = -2000
	_, err = convertReading(r, 101.3)
	assert.ErrorContains(t, err, "altitude")
}

func TestConvertReadingRejectsImpossibleTemperature(t *testing.T) {
	r := altReading{TempC: 120, Pressure: 101.3, Altitude: 10}
	_, err := convertReading(r, 101.3)
	assert.ErrorContains(t, err, "temperature")
}

func TestConsumeResetFlag(t *testing.T) {
	require.NoError(t, initHardware())
	runDir := t.TempDir()
	env := &agentEnv{
		log: zap.NewNop().Sugar(),
		cfg: Config{RunDir: runDir},
	}

	// No marker: nothing happens.
	require.NoError(t, consumeResetFlag(env))

	marker := resetFlagPath(runDir)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	require.NoError(t, consumeResetFlag(env))
	assert.NoFileExists(t, marker, "marker is consumed exactly once")

	// Consumed means gone; a second pass is a no-op again.
	require.NoError(t, consumeResetFlag(env))
}

func TestResetFlagPath(t *testing.T) {
	assert.Equal(t, "run/altimeter.reset", resetFlagPath("run"))
}
