//go:build linux && arm && !disablegpio

// Raspberry Pi implementation of the HAL using the periph.io library.
// When cross-compiling on other platforms or when the build tag
// "disablegpio" is specified, the simulated bench in hal.go is used
// instead.

package main

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// I2C device addresses on bus 1, matching the bench wiring.
const (
	dacAddr = 0x61 // MCP4725 digital to analog converter
	adcAddr = 0x48 // ADS1115 analog to digital converter
	altAddr = 0x60 // MPL3115A2 pressure/altitude sensor
)

// ADS1115 configuration: continuous conversion, AIN0, +/-4.096V, 860 SPS.
const adcConfig = 0xC2E3

// MPL3115A2 control: altitude mode, 128x oversample, standby.
const altConfig = 0xB8

var rpi struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dac *i2c.Dev
	adc *i2c.Dev
	alt *i2c.Dev

	servo gpio.PinOut
}

// initHardware initialises periph host state and opens the I2C devices.
// host.Init can safely be called multiple times; subsequent calls are
// no-ops.  This function is called once during startup; failing here
// prevents the process from starting.
func initHardware() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initialising periph host: %w", err)
	}

	rpi.mu.Lock()
	defer rpi.mu.Unlock()
	if rpi.bus != nil {
		return nil
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("opening I2C bus: %w", err)
	}
	rpi.bus = bus
	rpi.dac = &i2c.Dev{Addr: dacAddr, Bus: bus}
	rpi.adc = &i2c.Dev{Addr: adcAddr, Bus: bus}
	rpi.alt = &i2c.Dev{Addr: altAddr, Bus: bus}

	// Start the ADC in continuous conversion mode.
	if err := rpi.adc.Tx([]byte{0x01, adcConfig >> 8, adcConfig & 0xFF}, nil); err != nil {
		return fmt.Errorf("configuring ADS1115: %w", err)
	}
	// Enable MPL3115A2 data-ready event flags.
	if err := rpi.alt.Tx([]byte{0x13, 0x07}, nil); err != nil {
		return fmt.Errorf("configuring MPL3115A2: %w", err)
	}
	return nil
}

// readPin reads the specified GPIO pin and returns true if the voltage
// level is high.  Pins are addressed by their BCM numbers.
func readPin(pin int) bool {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return false
	}
	if err := p.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return false
	}
	return p.Read() == gpio.High
}

// writePin drives a GPIO output.
func writePin(pin int, high bool) error {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return fmt.Errorf("no such pin GPIO%d", pin)
	}
	return p.Out(gpio.Level(high))
}

// servoSetPulse outputs a 50 Hz PWM signal with the given pulse width in
// milliseconds on the servo control pin.  Zero stops the PWM.
func servoSetPulse(ms float64) error {
	rpi.mu.Lock()
	if rpi.servo == nil {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", servoPin))
		if p == nil {
			rpi.mu.Unlock()
			return fmt.Errorf("no such pin GPIO%d", servoPin)
		}
		rpi.servo = p
	}
	servo := rpi.servo
	rpi.mu.Unlock()

	if ms <= 0 {
		return servo.Out(gpio.Low)
	}
	duty := gpio.Duty(float64(gpio.DutyMax) * ms / servoPWMPeriodMS)
	return servo.PWM(duty, servoPWMFrequency*physic.Hertz)
}

// dacWrite performs a fast-mode write of a 12-bit code to the MCP4725 DAC
// register: two bytes, high nibble first.
func dacWrite(code int) error {
	if code < 0 || code > dacResolution {
		return fmt.Errorf("DAC code %d out of range", code)
	}
	return rpi.dac.Tx([]byte{byte(code >> 8), byte(code & 0xFF)}, nil)
}

// adcReadVoltage reads the ADS1115 conversion register and scales to volts
// for the +/-4.096V range (125 uV per count).
func adcReadVoltage() (float64, error) {
	var buf [2]byte
	if err := rpi.adc.Tx([]byte{0x00}, buf[:]); err != nil {
		return 0, fmt.Errorf("reading ADS1115: %w", err)
	}
	raw := int16(uint16(buf[0])<<8 | uint16(buf[1]))
	return float64(raw) * 4.096 / 32768.0, nil
}

// altOneShot triggers a one-shot measurement with the given control value
// and waits for data ready.
func altOneShot(ctrl byte) error {
	if err := rpi.alt.Tx([]byte{0x26, ctrl | 0x01}, nil); err != nil {
		return fmt.Errorf("triggering MPL3115A2: %w", err)
	}
	deadline := time.Now().Add(100 * time.Millisecond)
	for {
		var status [1]byte
		if err := rpi.alt.Tx([]byte{0x00}, status[:]); err != nil {
			return fmt.Errorf("polling MPL3115A2: %w", err)
		}
		if status[0]&0x08 != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("MPL3115A2 data not ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// altReadTemperature returns degrees Celsius (12-bit signed, 1/16 degree
// per count).
func altReadTemperature() (float64, error) {
	if err := altOneShot(altConfig); err != nil {
		return 0, err
	}
	var buf [2]byte
	if err := rpi.alt.Tx([]byte{0x04}, buf[:]); err != nil {
		return 0, fmt.Errorf("reading MPL3115A2 temperature: %w", err)
	}
	raw := int16(uint16(buf[0])<<8|uint16(buf[1])) >> 4
	return float64(raw) / 16.0, nil
}

// altReadPressure returns station pressure in kPa (20-bit unsigned, 1/4 Pa
// per count), measured in barometer mode.
func altReadPressure() (float64, error) {
	if err := altOneShot(altConfig & 0x3F); err != nil {
		return 0, err
	}
	var buf [3]byte
	if err := rpi.alt.Tx([]byte{0x01}, buf[:]); err != nil {
		return 0, fmt.Errorf("reading MPL3115A2 pressure: %w", err)
	}
	raw := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	pascals := float64(raw>>4) / 4.0
	return pascals / 1000.0, nil
}

// altReadAltitude returns meters above the calibrated ground level (20-bit
// signed Q16.4), measured in altitude mode.
func altReadAltitude() (float64, error) {
	if err := altOneShot(altConfig); err != nil {
		return 0, err
	}
	var buf [3]byte
	if err := rpi.alt.Tx([]byte{0x01}, buf[:]); err != nil {
		return 0, fmt.Errorf("reading MPL3115A2 altitude: %w", err)
	}
	raw := int32(uint32(buf[0])<<24|uint32(buf[1])<<16|uint32(buf[2])<<8) >> 12
	return float64(raw) / 16.0, nil
}

// altSetOffset writes the ground-level pressure (kPa) into the BAR_IN
// registers, which the sensor uses as the altitude reference.  Units are
// 2 Pa per count.
func altSetOffset(kPa float64) error {
	counts := uint16(kPa * 1000.0 / 2.0)
	err := rpi.alt.Tx([]byte{0x14, byte(counts >> 8), byte(counts & 0xFF)}, nil)
	if err != nil {
		return fmt.Errorf("setting MPL3115A2 offset: %w", err)
	}
	return nil
}
