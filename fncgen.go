package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"time"
)

// DAC limits for the function generator.  The MCP4725 is a 12-bit device;
// roughly 1000 samples per second is the most its I2C bus sustains, which
// caps the output frequency.
const (
	dacResolution = 4095
	maxAmplitude  = 3.2 // volts at full scale
	maxFrequency  = 100.0
	sampleRate    = 1000 // DAC samples per second
)

// waveformSamples computes one cycle of the selected waveform as DAC codes.
// The number of samples per cycle shrinks as frequency rises so that replay
// at the fixed sample rate reproduces the requested frequency.  A zero or
// negative frequency degenerates to DC.
func waveformSamples(waveform string, frequency, amplitude, dutyCycle float64) ([]int, error) {
	if frequency <= 0 || waveform == "dc" {
		return []int{int(math.Round(amplitude / maxAmplitude * dacResolution))}, nil
	}
	n := int(math.Round(sampleRate / frequency))

	switch waveform {
	case "sin":
		// Half-scale swing centered above zero, phase shifted to start
		// at zero output.
		half := amplitude / maxAmplitude * dacResolution / 2.0
		dRad := 2.0 * math.Pi / float64(n)
		out := make([]int, n)
		for i := range out {
			out[i] = int(math.Round(half * (math.Sin(float64(i)*dRad-math.Pi/2.0) + 1.0)))
		}
		return out, nil
	case "sqr":
		full := amplitude / maxAmplitude * dacResolution
		high := int(dutyCycle * float64(n))
		low := int((1.0 - dutyCycle) * float64(n))
		out := make([]int, 0, high+low)
		for i := 0; i < high; i++ {
			out = append(out, int(math.Round(full)))
		}
		for i := 0; i < low; i++ {
			out = append(out, 0)
		}
		return out, nil
	case "tri":
		full := amplitude / maxAmplitude * dacResolution
		half := n / 2
		dAmp := full / float64(half)
		out := make([]int, 0, 2*half)
		for i := 0; i < half; i++ {
			out = append(out, int(math.Round(dAmp*float64(i))))
		}
		for i := 0; i < half; i++ {
			out = append(out, int(math.Round(full-dAmp*float64(i))))
		}
		return out, nil
	case "saw":
		full := amplitude / maxAmplitude * dacResolution
		dAmp := full / float64(n)
		out := make([]int, n)
		for i := range out {
			out[i] = int(math.Round(dAmp * float64(i)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown waveform %q", waveform)
	}
}

// runFncgen replays the selected waveform through the DAC at the fixed
// sample rate until cancelled.  Parameter changes arrive as a restart with
// a new command line, never as in-process reconfiguration.  On the way out
// the DAC is driven to zero volts to protect downstream circuitry.
func runFncgen(ctx context.Context, env *agentEnv) error {
	fs := flag.NewFlagSet("fncgen", flag.ContinueOnError)
	waveform := fs.String("w", "sin", "waveform: dc, sin, sqr, tri or saw")
	frequency := fs.Float64("f", 20.0, "frequency in Hertz")
	amplitude := fs.Float64("a", 1.6, "amplitude in volts")
	dutyCycle := fs.Float64("d", 0.5, "square wave duty cycle, 0 to 1")
	if err := fs.Parse(env.spec.DefaultArgs); err != nil {
		return err
	}
	if *frequency < 0 || *frequency > maxFrequency {
		return fmt.Errorf("frequency %.1f out of range 0-%.0f", *frequency, maxFrequency)
	}
	if *amplitude < 0 || *amplitude > maxAmplitude {
		return fmt.Errorf("amplitude %.2f out of range 0-%.1f", *amplitude, maxAmplitude)
	}
	if *dutyCycle < 0 || *dutyCycle > 1 {
		return fmt.Errorf("duty cycle %.2f out of range 0-1", *dutyCycle)
	}

	samples, err := waveformSamples(*waveform, *frequency, *amplitude, *dutyCycle)
	if err != nil {
		return err
	}
	defer func() { _ = dacWrite(0) }()

	publish := func() {
		doc := GeneratorDocument{
			Time:      timeStamp(),
			Waveform:  *waveform,
			Frequency: *frequency,
			Amplitude: *amplitude,
			DutyCycle: *dutyCycle,
		}
		if err := env.pub.Publish(doc); err != nil {
			env.log.Warnw("publishing", "error", err)
		}
	}
	publish()

	refresh := time.NewTicker(env.spec.Interval)
	defer refresh.Stop()

	// DC is a single latched code, nothing to replay.
	if len(samples) == 1 {
		if err := dacWrite(samples[0]); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-refresh.C:
				publish()
			}
		}
	}

	pace := time.NewTicker(time.Second / sampleRate)
	defer pace.Stop()
	ptr := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pace.C:
			if err := dacWrite(samples[ptr]); err != nil {
				return err
			}
			ptr++
			if ptr == len(samples) {
				ptr = 0
			}
		case <-refresh.C:
			publish()
		}
	}
}
