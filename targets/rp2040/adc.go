//go:build rp2040

package main

import (
	"errors"
	"sync"

	"machine"

	"godcc/core"
)

// RpAdcDriver implements core.ADCDriver using TinyGo's machine.ADC. The
// acknowledgement detector samples track current on one of these channels.
type RpAdcDriver struct {
	mu sync.Mutex

	// Per-channel TinyGo ADC handles. RP2040 external channels 0-3 sit on
	// GPIO26-GPIO29.
	channels map[core.ADCChannel]*machine.ADC
}

// NewRPAdcDriver constructs the driver and initializes the ADC block.
func NewRPAdcDriver() *RpAdcDriver {
	machine.InitADC()
	return &RpAdcDriver{
		channels: make(map[core.ADCChannel]*machine.ADC),
	}
}

// ConfigureChannel sets up a specific ADC channel (pin mux, etc.).
func (d *RpAdcDriver) ConfigureChannel(ch core.ADCChannel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.channels[ch]; ok {
		// already configured
		return nil
	}

	var adc machine.ADC
	switch ch {
	case 0:
		adc = machine.ADC{Pin: machine.ADC0}
	case 1:
		adc = machine.ADC{Pin: machine.ADC1}
	case 2:
		adc = machine.ADC{Pin: machine.ADC2}
	case 3:
		adc = machine.ADC{Pin: machine.ADC3}
	default:
		return errors.New("unsupported ADC channel")
	}

	if err := adc.Configure(machine.ADCConfig{}); err != nil {
		return err
	}

	d.channels[ch] = &adc
	return nil
}

// ReadRaw performs a one-shot sample from the given channel.
func (d *RpAdcDriver) ReadRaw(ch core.ADCChannel) (core.ADCValue, error) {
	adc, ok := d.channels[ch]
	if !ok {
		if err := d.ConfigureChannel(ch); err != nil {
			return 0, err
		}
		adc = d.channels[ch]
	}

	return core.ADCValue(adc.Get()), nil
}
