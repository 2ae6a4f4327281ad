package hardware

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
)

// pixelDevice is the part of nrzled.Dev the strip uses
type pixelDevice interface {
	Write(p []byte) (int, error)
	Halt() error
}

// Strip is a WS281x chain; each pixel can back one indicator
type Strip struct {
	mu     sync.Mutex
	dev    pixelDevice
	port   spi.PortCloser
	pixels []byte
}

const channels = 3

// OpenStrip opens count pixels on an SPI port ("" selects the first port)
func OpenStrip(spiPort string, count int) (*Strip, error) {
	if count <= 0 {
		return nil, fmt.Errorf("pixel count must be positive, got %d", count)
	}
	if err := Init(); err != nil {
		return nil, err
	}

	port, err := spireg.Open(spiPort)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", spiPort, err)
	}

	opts := nrzled.DefaultOpts
	opts.NumPixels = count
	opts.Channels = channels
	dev, err := nrzled.NewSPI(port, &opts)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("nrzled: %w", err)
	}

	s := newStrip(dev, count)
	s.port = port
	return s, s.flush()
}

func newStrip(dev pixelDevice, count int) *Strip {
	return &Strip{dev: dev, pixels: make([]byte, count*channels)}
}

// Len is the number of pixels
func (s *Strip) Len() int {
	return len(s.pixels) / channels
}

// Pixel returns an output lighting pixel i with c
func (s *Strip) Pixel(i int, c color.RGBA) (*Pixel, error) {
	if i < 0 || i >= s.Len() {
		return nil, fmt.Errorf("pixel %d out of range 0..%d", i, s.Len()-1)
	}
	return &Pixel{strip: s, index: i, color: c}, nil
}

func (s *Strip) set(i int, c color.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off := i * channels
	s.pixels[off], s.pixels[off+1], s.pixels[off+2] = c.R, c.G, c.B
	return s.flushLocked()
}

func (s *Strip) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Strip) flushLocked() error {
	_, err := s.dev.Write(s.pixels)
	return err
}

// Close blanks the strip and releases the port
func (s *Strip) Close() error {
	s.mu.Lock()
	for i := range s.pixels {
		s.pixels[i] = 0
	}
	err := s.flushLocked()
	s.mu.Unlock()

	if herr := s.dev.Halt(); err == nil {
		err = herr
	}
	if s.port != nil {
		if cerr := s.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Pixel is one strip position acting as an indicator output
type Pixel struct {
	strip *Strip
	index int
	color color.RGBA
}

func (p *Pixel) On() error  { return p.strip.set(p.index, p.color) }
func (p *Pixel) Off() error { return p.strip.set(p.index, color.RGBA{}) }

func (p *Pixel) String() string {
	return fmt.Sprintf("pixel:%d", p.index)
}

// ParseColor reads "#rrggbb" or "rrggbb"
func ParseColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q: want rrggbb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
