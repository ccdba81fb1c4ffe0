package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindTriggerLocatesRisingEdge(t *testing.T) {
	// One V-shaped cycle: falls through midscale first, then rises back
	// through it.  Only the rising crossing may trigger.
	samples := []float64{4, 3, 2, 1, 0, 1, 2, 3, 4}

	at, ok := findTrigger(samples)
	require.True(t, ok)
	assert.Equal(t, 6, at)
}

func TestFindTriggerOnSine(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = 1.6 + 1.2*math.Sin(2*math.Pi*float64(i)/100+math.Pi)
	}
	at, ok := findTrigger(samples)
	require.True(t, ok)
	// The inverted sine comes back up through midscale at the half cycle.
	assert.InDelta(t, 50, at, 2)
}

func TestFindTriggerFlatSignal(t *testing.T) {
	samples := []float64{1.6, 1.6, 1.6, 1.6}
	_, ok := findTrigger(samples)
	assert.False(t, ok, "a DC input has no edge to trigger on")
}

func TestFindTriggerTooShort(t *testing.T) {
	_, ok := findTrigger([]float64{1.0})
	assert.False(t, ok)
}

func TestFindTriggerRampTriggersOnce(t *testing.T) {
	samples := []float64{0, 1, 2, 3, 4}
	at, ok := findTrigger(samples)
	require.True(t, ok)
	assert.Equal(t, 2, at, "first crossing of the midpoint")
}

func TestFormatSamples(t *testing.T) {
	out := formatSamples([]float64{1.6, 0, 3.2999})
	assert.Equal(t, "1.600, 0.000, 3.300", out)
}

func TestFormatSamplesEmpty(t *testing.T) {
	assert.Equal(t, "", formatSamples(nil))
}
