// Package hardware binds indicators and the display to periph.io devices,
// with log and file fallbacks for running off-target.
package hardware

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the periph.io host drivers once
func Init() error {
	initOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			initErr = fmt.Errorf("periph host init: %w", err)
			return
		}
		for _, f := range state.Failed {
			log.Debug().Str("driver", f.D.String()).Err(f.Err).Msg("periph driver failed")
		}
		log.Debug().Int("loaded", len(state.Loaded)).Msg("periph host initialized")
	})
	return initErr
}

// LED is a single GPIO pin driven high for on
type LED struct {
	name string
	pin  gpio.PinOut
}

// OpenLED resolves a pin by name ("GPIO23", "23", ...) and drives it low
func OpenLED(name string) (*LED, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio pin %s: %w", name, err)
	}
	return &LED{name: name, pin: p}, nil
}

func (l *LED) On() error {
	return l.pin.Out(gpio.High)
}

func (l *LED) Off() error {
	return l.pin.Out(gpio.Low)
}

func (l *LED) String() string {
	return "led:" + l.name
}
