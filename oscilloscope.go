package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"
)

// ADC acquisition limits.
const (
	maxSampleRate     = 1000 // samples per second
	defaultSampleRate = 1000
	defaultFrameSize  = 200
)

// findTrigger locates a rising edge through the frame's midscale level,
// which gives consecutive frames a stable horizontal alignment.  It returns
// the index of the first crossing, or false when the signal never crosses
// (flat or DC input).
func findTrigger(samples []float64) (int, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	min, max := samples[0], samples[0]
	for _, v := range samples {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	threshold := (min + max) / 2.0
	for i := 1; i < len(samples); i++ {
		if samples[i-1] < threshold && samples[i] >= threshold {
			return i, true
		}
	}
	return 0, false
}

// formatSamples renders voltages as the comma separated millivolt-precision
// list the bench page plots.
func formatSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, v := range samples {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return strings.Join(parts, ", ")
}

// runOscilloscope repeatedly acquires a frame of ADC samples and publishes
// it.  Twice the frame size is captured so a triggered frame can start at
// the edge and still be full length; when no edge exists the frame free
// runs from the start of the capture, marked "auto" so the page can show
// the distinction.
func runOscilloscope(ctx context.Context, env *agentEnv) error {
	fs := flag.NewFlagSet("oscilloscope", flag.ContinueOnError)
	rate := fs.Int("r", defaultSampleRate, "sample rate in samples per second")
	size := fs.Int("n", defaultFrameSize, "samples per frame")
	if err := fs.Parse(env.spec.DefaultArgs); err != nil {
		return err
	}
	if *rate <= 0 || *rate > maxSampleRate {
		return fmt.Errorf("sample rate %d out of range 1-%d", *rate, maxSampleRate)
	}
	if *size <= 0 {
		return fmt.Errorf("frame size %d must be positive", *size)
	}

	pace := time.NewTicker(time.Second / time.Duration(*rate))
	defer pace.Stop()

	capture := make([]float64, 0, 2*(*size))
	for {
		capture = capture[:0]
		for len(capture) < 2*(*size) {
			select {
			case <-ctx.Done():
				return nil
			case <-pace.C:
				v, err := adcReadVoltage()
				if err != nil {
					return fmt.Errorf("reading ADC: %w", err)
				}
				capture = append(capture, v)
			}
		}

		frame := capture[:*size]
		trigger := "auto"
		if at, ok := findTrigger(capture[:*size+1]); ok {
			frame = capture[at : at+*size]
			trigger = "edge"
		}

		doc := ScopeDocument{
			Time:    timeStamp(),
			Rate:    *rate,
			Size:    *size,
			Samples: formatSamples(frame),
			Trigger: trigger,
		}
		if err := env.pub.Publish(doc); err != nil {
			env.log.Warnw("publishing", "error", err)
		}
	}
}
