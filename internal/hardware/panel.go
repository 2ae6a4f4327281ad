package hardware

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
)

// SSD1306 renders frames on an I2C OLED panel
type SSD1306 struct {
	bus i2c.BusCloser
	dev *ssd1306.Dev
}

// OpenSSD1306 opens the panel on an I2C bus ("" selects the first bus)
func OpenSSD1306(busName string, w, h int) (*SSD1306, error) {
	if err := Init(); err != nil {
		return nil, err
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", busName, err)
	}

	opts := ssd1306.DefaultOpts
	if w > 0 {
		opts.W = w
	}
	if h > 0 {
		opts.H = h
	}
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ssd1306: %w", err)
	}
	return &SSD1306{bus: bus, dev: dev}, nil
}

func (s *SSD1306) Render(img *image.Gray) error {
	return s.dev.Draw(s.dev.Bounds(), img, image.Point{})
}

func (s *SSD1306) Close() error {
	err := s.dev.Halt()
	if cerr := s.bus.Close(); err == nil {
		err = cerr
	}
	return err
}

// PNGRenderer writes every frame to a PNG file, replacing it atomically
type PNGRenderer struct {
	path string
}

func NewPNGRenderer(path string) *PNGRenderer {
	return &PNGRenderer{path: path}
}

func (p *PNGRenderer) Render(img *image.Gray) error {
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".frame-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

// NopRenderer discards frames
type NopRenderer struct{}

func (NopRenderer) Render(*image.Gray) error { return nil }

// LogOutput is an indicator output that only logs
type LogOutput struct {
	Name string
}

func (o LogOutput) On() error {
	log.Debug().Str("indicator", o.Name).Msg("on")
	return nil
}

func (o LogOutput) Off() error {
	log.Debug().Str("indicator", o.Name).Msg("off")
	return nil
}
