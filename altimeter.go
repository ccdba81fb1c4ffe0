package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Altimeter constants.
const (
	// kPaToInHg converts kilopascals to inches of mercury.
	kPaToInHg = 0.29530099194
	// maxPressureSpike rejects sensor noise: a jump larger than this
	// between consecutive readings (kPa) discards the sample.
	maxPressureSpike = 0.34
	// maxFailedReads is how many consecutive bad samples are tolerated
	// before the document is retired and pollers see offline.
	maxFailedReads = 3
	// chartUpdateInterval is passed through to the page, which uses it to
	// schedule history chart refreshes (seconds).
	chartUpdateInterval = "300"

	resetFlagName = "altimeter.reset"
)

// resetFlagPath is the marker file raised by the dashboard's reset action
// and consumed by the running altimeter agent.
func resetFlagPath(runDir string) string {
	return filepath.Join(runDir, resetFlagName)
}

// altReading is one raw sample from the pressure sensor.
type altReading struct {
	TempC    float64 // degrees Celsius
	Pressure float64 // station pressure, kPa
	Altitude float64 // meters above the calibrated ground level
}

// convertReading validates a raw sample and formats it for the data
// document.  prev is the previous accepted-or-rejected pressure, used for
// the spike filter; NaN means no previous sample exists and the spike check
// is skipped.  Date, interval and status fields are left for the caller.
func convertReading(r altReading, prev float64) (AltimeterDocument, error) {
	var doc AltimeterDocument

	if r.Altitude < -1000.0 || r.Altitude > 20000.0 {
		return doc, fmt.Errorf("invalid altitude: %.4e", r.Altitude)
	}
	if !math.IsNaN(prev) && math.Abs(r.Pressure-prev) > maxPressureSpike {
		return doc, fmt.Errorf("pressure spike: %.4f kPa (was %.4f)", r.Pressure, prev)
	}
	if r.TempC < -40.0 || r.TempC > 85.0 {
		return doc, fmt.Errorf("invalid temperature: %.4e", r.TempC)
	}

	doc.Altitude = fmt.Sprintf("%.1f", r.Altitude)
	doc.Pressure = fmt.Sprintf("%.4f", r.Pressure)
	doc.Bar = fmt.Sprintf("%.4f", r.Pressure*kPaToInHg)
	doc.TempC = fmt.Sprintf("%.2f", r.TempC)
	doc.TempF = fmt.Sprintf("%.2f", r.TempC*9.0/5.0+32.0)
	return doc, nil
}

// runAltimeter samples the pressure sensor at a fixed cadence and publishes
// altitude, pressure and temperature.  A reset marker raised by the
// dashboard recalibrates ground level to the current pressure; the marker
// is consumed exactly once.  After maxFailedReads consecutive bad samples
// the document is retired so pollers flip to offline, but sampling
// continues and a good sample brings the instrument back.
func runAltimeter(ctx context.Context, env *agentEnv) error {
	fs := flag.NewFlagSet("altimeter", flag.ContinueOnError)
	intervalSec := fs.Float64("p", env.spec.Interval.Seconds(), "sensor polling interval in seconds")
	if err := fs.Parse(env.spec.DefaultArgs); err != nil {
		return err
	}
	if *intervalSec <= 0 {
		return fmt.Errorf("polling interval %.1f must be positive", *intervalSec)
	}
	interval := time.Duration(*intervalSec * float64(time.Second))

	prevPressure := math.NaN()
	failed := 0
	online := false

	sample := func() {
		if err := consumeResetFlag(env); err != nil {
			env.log.Warnw("altimeter reset", "error", err)
		}

		reading, err := readAltimeter()
		if err == nil {
			var doc AltimeterDocument
			doc, err = convertReading(reading, prevPressure)
			prevPressure = reading.Pressure
			if err == nil {
				doc.Date = timeStamp()
				doc.ChartUpdateInterval = chartUpdateInterval
				doc.Status = "online"
				if pubErr := env.pub.Publish(doc); pubErr != nil {
					env.log.Warnw("publishing", "error", pubErr)
				}
				failed = 0
				if !online {
					env.log.Infow("sensor online")
					online = true
				}
				return
			}
		}

		env.log.Warnw("sensor read rejected", "error", err)
		failed++
		if failed == maxFailedReads {
			// Consecutive failure budget exhausted: retire the document
			// so downstream clients see offline instead of stale data.
			if err := env.pub.Retire(); err != nil {
				env.log.Warnw("retiring data document", "error", err)
			}
			if online {
				env.log.Warnw("sensor offline")
				online = false
			}
		}
	}

	sample()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			sample()
		}
	}
}

// readAltimeter collects one raw sample from the hardware.
func readAltimeter() (altReading, error) {
	var r altReading
	var err error
	if r.TempC, err = altReadTemperature(); err != nil {
		return r, err
	}
	if r.Altitude, err = altReadAltitude(); err != nil {
		return r, err
	}
	if r.Pressure, err = altReadPressure(); err != nil {
		return r, err
	}
	return r, nil
}

// consumeResetFlag recalibrates ground level when the reset marker exists,
// then lowers the marker.  Raising the marker while the agent is down is
// harmless: it is consumed on the next sample after startup.
func consumeResetFlag(env *agentEnv) error {
	marker := resetFlagPath(env.cfg.RunDir)
	if _, err := os.Stat(marker); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	bar, err := altReadPressure()
	if err != nil {
		return fmt.Errorf("reading ground pressure: %w", err)
	}
	if err := altSetOffset(bar); err != nil {
		return err
	}
	env.log.Infow("altimeter recalibrated", "ground_kpa", fmt.Sprintf("%.2f", bar))
	return os.Remove(marker)
}
