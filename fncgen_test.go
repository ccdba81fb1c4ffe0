package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSineWaveSampleCount(t *testing.T) {
	// 1000 samples per second replaying a 20 Hz wave means 50 samples
	// per cycle.
	samples, err := waveformSamples("sin", 20, 1.6, 0.5)
	require.NoError(t, err)
	assert.Len(t, samples, 50)
}

func TestSineWaveStartsAtZeroAndStaysInRange(t *testing.T) {
	samples, err := waveformSamples("sin", 20, maxAmplitude, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 0, samples[0], "phase shifted to begin at zero output")
	peak := 0
	for _, s := range samples {
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, dacResolution)
		if s > peak {
			peak = s
		}
	}
	assert.Equal(t, dacResolution, peak, "full amplitude reaches full scale")
}

func TestSineWaveAmplitudeScaling(t *testing.T) {
	samples, err := waveformSamples("sin", 20, 1.6, 0.5)
	require.NoError(t, err)
	peak := 0
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	// Half the maximum amplitude peaks at half the DAC range.
	assert.InDelta(t, dacResolution/2, peak, 2)
}

func TestSquareWaveDutyCycle(t *testing.T) {
	samples, err := waveformSamples("sqr", 100, maxAmplitude, 0.25)
	require.NoError(t, err)

	high := 0
	for _, s := range samples {
		switch s {
		case dacResolution:
			high++
		case 0:
		default:
			t.Fatalf("square wave sample %d is neither rail", s)
		}
	}
	assert.Equal(t, 2, high, "a quarter of a 10 sample cycle, truncated")
}

func TestTriangleWaveIsSymmetric(t *testing.T) {
	samples, err := waveformSamples("tri", 100, maxAmplitude, 0.5)
	require.NoError(t, err)
	require.Len(t, samples, 10)

	rising := samples[:5]
	for i := 1; i < len(rising); i++ {
		assert.Greater(t, rising[i], rising[i-1])
	}
	falling := samples[5:]
	for i := 1; i < len(falling); i++ {
		assert.Less(t, falling[i], falling[i-1])
	}
}

func TestSawtoothWaveIsMonotonic(t *testing.T) {
	samples, err := waveformSamples("saw", 50, 1.6, 0.5)
	require.NoError(t, err)
	require.Len(t, samples, 20)
	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i], samples[i-1])
	}
}

func TestDCWaveIsSingleSample(t *testing.T) {
	samples, err := waveformSamples("dc", 20, 1.6, 0.5)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, dacResolution/2, samples[0], 2)
}

func TestZeroFrequencyDegeneratesToDC(t *testing.T) {
	samples, err := waveformSamples("sin", 0, maxAmplitude, 0.5)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
	assert.Equal(t, dacResolution, samples[0])
}

func TestUnknownWaveformRejected(t *testing.T) {
	_, err := waveformSamples("noise", 20, 1.6, 0.5)
	assert.Error(t, err)
}
