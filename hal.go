//go:build !linux || !arm || disablegpio

package main

// This file is the simulated bench: a hardware abstraction layer that
// synthesizes plausible signals so the supervisor, the agents and the web
// pages all run on a desktop machine without Raspberry Pi hardware.  The
// real GPIO/I2C implementation lives in hal_rpi.go behind a build tag.

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// simBench holds the simulated hardware state.
var simBench struct {
	mu     sync.Mutex
	start  time.Time
	pins   map[int]bool // output pin levels (LED)
	dac    int          // last DAC code written
	pulse  float64      // servo pulse width in milliseconds
	offset float64      // altimeter ground-level pressure offset, kPa
}

// initHardware prepares the simulated bench.  Safe to call more than once.
func initHardware() error {
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	if simBench.start.IsZero() {
		simBench.start = time.Now()
		simBench.pins = make(map[int]bool)
		simBench.offset = 101.325
	}
	return nil
}

func simElapsed() float64 {
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	if simBench.start.IsZero() {
		simBench.start = time.Now()
	}
	return time.Since(simBench.start).Seconds()
}

// readPin returns the logic level of a GPIO input.  The push-button input
// reads high for a short window every three seconds, which exercises the
// counter's edge detection and debounce without a physical switch.
func readPin(pin int) bool {
	if pin == buttonPin {
		t := simElapsed()
		return math.Mod(t, 3.0) < 0.12
	}
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	return simBench.pins[pin]
}

// writePin drives a GPIO output (the LED toggle).
func writePin(pin int, high bool) error {
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	if simBench.pins == nil {
		simBench.pins = make(map[int]bool)
	}
	simBench.pins[pin] = high
	return nil
}

// servoSetPulse sets the servo control pulse width in milliseconds.  Zero
// releases the servo.
func servoSetPulse(ms float64) error {
	if ms < 0 {
		return fmt.Errorf("invalid pulse width %.3f ms", ms)
	}
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	simBench.pulse = ms
	return nil
}

// dacWrite latches a 12-bit code into the function generator's DAC.
func dacWrite(code int) error {
	if code < 0 || code > dacResolution {
		return fmt.Errorf("DAC code %d out of range", code)
	}
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	simBench.dac = code
	return nil
}

// adcReadVoltage samples the oscilloscope input.  The simulated signal is a
// 10 Hz sine riding at mid-scale, so frames show a stable trace and the
// trigger logic has real edges to find.
func adcReadVoltage() (float64, error) {
	t := simElapsed()
	return 1.6 + 1.2*math.Sin(2.0*math.Pi*10.0*t), nil
}

// altReadTemperature returns degrees Celsius with a slow daily-ish drift.
func altReadTemperature() (float64, error) {
	t := simElapsed()
	return 22.5 + 0.8*math.Sin(2.0*math.Pi*t/1200.0), nil
}

// altReadPressure returns station pressure in kPa with gentle wander.
func altReadPressure() (float64, error) {
	t := simElapsed()
	return 101.325 + 0.02*math.Sin(2.0*math.Pi*t/600.0), nil
}

// altReadAltitude derives altitude above the calibrated ground level from
// the simulated pressure, at roughly 83 m per kPa near sea level.
func altReadAltitude() (float64, error) {
	p, err := altReadPressure()
	if err != nil {
		return 0, err
	}
	simBench.mu.Lock()
	offset := simBench.offset
	simBench.mu.Unlock()
	return (offset - p) * 83.0, nil
}

// altSetOffset calibrates the altimeter's ground-level pressure in kPa.
func altSetOffset(kPa float64) error {
	simBench.mu.Lock()
	defer simBench.mu.Unlock()
	simBench.offset = kPa
	return nil
}
