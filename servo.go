package main

import (
	"context"
	"flag"
	"fmt"
	"time"
)

// Servo control signal: a 50 Hz PWM on GPIO 19 whose pulse width selects
// the arm angle.  0.75 ms parks the arm at 0 degrees, 2.25 ms at 180.
const (
	servoPin          = 19
	servoPWMFrequency = 50
	servoPWMPeriodMS  = 1000.0 / servoPWMFrequency
	servoMinPulseMS   = 0.75
	servoMaxPulseMS   = 2.25
	servoMSPerDegree  = (servoMaxPulseMS - servoMinPulseMS) / 180.0
)

// servoPulseForAngle maps an angle in degrees onto the control pulse width
// in milliseconds.
func servoPulseForAngle(angle float64) float64 {
	return servoMSPerDegree*angle + servoMinPulseMS
}

// runServo positions the servo arm.  In hold mode the arm moves to the
// requested angle and stays there; in continuous mode it sweeps back and
// forth through the full range.  The published document reports the
// currently commanded angle.  On termination the control pulse is dropped
// to zero so the servo is released rather than left straining.
func runServo(ctx context.Context, env *agentEnv) error {
	fs := flag.NewFlagSet("servo", flag.ContinueOnError)
	angle := fs.Float64("a", 0, "servo arm angle in degrees")
	continuous := fs.Bool("c", false, "sweep continuously through the full range")
	if err := fs.Parse(env.spec.DefaultArgs); err != nil {
		return err
	}
	if *angle < 0 || *angle > 180 {
		return fmt.Errorf("angle %.1f out of range 0-180", *angle)
	}
	defer func() { _ = servoSetPulse(0) }()

	mode := "hold"
	if *continuous {
		mode = "sweep"
	}
	current := *angle
	publish := func() {
		doc := ServoDocument{Time: timeStamp(), Angle: current, Mode: mode}
		if err := env.pub.Publish(doc); err != nil {
			env.log.Warnw("publishing", "error", err)
		}
	}

	if err := servoSetPulse(servoPulseForAngle(current)); err != nil {
		return err
	}
	publish()

	refresh := time.NewTicker(env.spec.Interval)
	defer refresh.Stop()

	if !*continuous {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-refresh.C:
				publish()
			}
		}
	}

	// Sweep in one degree steps; the step cadence sets the sweep speed.
	step := time.NewTicker(10 * time.Millisecond)
	defer step.Stop()
	current = 0
	dir := 1.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-step.C:
			current += dir
			if current >= 180 {
				current = 180
				dir = -1
			} else if current <= 0 {
				current = 0
				dir = 1
			}
			if err := servoSetPulse(servoPulseForAngle(current)); err != nil {
				return err
			}
		case <-refresh.C:
			publish()
		}
	}
}
