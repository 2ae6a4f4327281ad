package monitor

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/config"
	"github.com/fieldmon/kismet-monitor/internal/display"
	"github.com/fieldmon/kismet-monitor/internal/hardware"
	"github.com/fieldmon/kismet-monitor/internal/indicator"
)

// outputs opens indicator outputs and owns the shared pixel strip
type outputs struct {
	strip    config.StripConfig
	opener   func(config.IndicatorConfig, *outputs) (indicator.Output, error)
	opened   *hardware.Strip
	stripErr error
}

func newOutputs(strip config.StripConfig, open func(config.IndicatorConfig, *outputs) (indicator.Output, error)) *outputs {
	return &outputs{strip: strip, opener: open}
}

func (o *outputs) open(ic config.IndicatorConfig) (indicator.Output, error) {
	return o.opener(ic, o)
}

// Strip opens the pixel strip on first use; a failure sticks so every
// pixel indicator reports the same cause.
func (o *outputs) Strip() (*hardware.Strip, error) {
	if o.opened == nil && o.stripErr == nil {
		o.opened, o.stripErr = hardware.OpenStrip(o.strip.SPIPort, o.strip.Count)
		if o.stripErr == nil {
			log.Info().Int("pixels", o.strip.Count).Str("spi", o.strip.SPIPort).Msg("Pixel strip ready")
		}
	}
	return o.opened, o.stripErr
}

// Close blanks and releases the strip if it was opened
func (o *outputs) Close() error {
	if o.opened == nil {
		return nil
	}
	return o.opened.Close()
}

func openHardwareOutput(ic config.IndicatorConfig, o *outputs) (indicator.Output, error) {
	switch ic.Output {
	case "gpio":
		led, err := hardware.OpenLED(ic.Pin)
		if err != nil {
			return nil, err
		}
		return led, nil

	case "pixel":
		c, err := hardware.ParseColor(ic.Color)
		if err != nil {
			return nil, err
		}
		strip, err := o.Strip()
		if err != nil {
			return nil, err
		}
		px, err := strip.Pixel(ic.Pixel, c)
		if err != nil {
			return nil, err
		}
		return px, nil

	case "log":
		return hardware.LogOutput{Name: ic.Name}, nil
	}
	return nil, fmt.Errorf("unknown output %q", ic.Output)
}

// openRenderer picks the configured display driver, falling back to no
// display when the panel cannot be opened
func openRenderer(dc config.DisplayConfig) display.Renderer {
	switch dc.Driver {
	case "ssd1306":
		panel, err := hardware.OpenSSD1306(dc.I2CBus, dc.Width, dc.Height)
		if err != nil {
			log.Error().Err(err).Msg("Display disabled")
			return hardware.NopRenderer{}
		}
		log.Info().Int("width", dc.Width).Int("height", dc.Height).Msg("SSD1306 display ready")
		return panel
	case "png":
		log.Info().Str("path", dc.PNGPath).Msg("Rendering display to PNG")
		return hardware.NewPNGRenderer(dc.PNGPath)
	}
	return hardware.NopRenderer{}
}
