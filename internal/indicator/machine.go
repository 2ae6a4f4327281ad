// Package indicator drives on/off/blink outputs (single LEDs or one
// addressable pixel) from bus events.
//
// A machine is owned by the event loop: Handle and every scheduled fire run
// there. Timers are never cancelled; a fire that no longer matches the
// machine's state is a no-op.
package indicator

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Output is a physical on/off side effect
type Output interface {
	On() error
	Off() error
}

// Scheduler runs fn on the event loop after d
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Mode of an indicator
type Mode int

const (
	ModeOff Mode = iota
	ModeOn
	ModeBlink
)

func (m Mode) String() string {
	switch m {
	case ModeOn:
		return "on"
	case ModeBlink:
		return "blink"
	default:
		return "off"
	}
}

// Machine is the common surface of Blinker and Flasher
type Machine interface {
	Name() string
	Mode() Mode
	Handle(in Input)
	// Shutdown forces the output off and makes pending fires inert
	Shutdown()
}

type core struct {
	name     string
	out      Output
	sched    Scheduler
	duration time.Duration
	mode     Mode
}

func (c *core) Name() string { return c.name }
func (c *core) Mode() Mode   { return c.mode }

func (c *core) set(on bool) {
	var err error
	if on {
		err = c.out.On()
	} else {
		err = c.out.Off()
	}
	if err != nil {
		log.Warn().Err(err).Str("indicator", c.name).Bool("on", on).Msg("Indicator output failed")
	}
}

// Blinker is a state-driven indicator: 0 off, 1 blink, 2 on.
type Blinker struct {
	core
	phase uint64
	lit   bool
}

// NewBlinker creates a state-driven indicator. duration is the blink half period.
func NewBlinker(name string, out Output, sched Scheduler, duration time.Duration) *Blinker {
	return &Blinker{core: core{name: name, out: out, sched: sched, duration: duration}}
}

// Handle is the single entry point for triggers and timer fires
func (b *Blinker) Handle(in Input) {
	if in.Fire == TimerFire {
		b.tick(in.Phase)
		return
	}

	switch in.State {
	case StateOff:
		b.mode = ModeOff
		b.lit = false
		b.set(false)
	case StateOn:
		b.mode = ModeOn
		b.lit = true
		b.set(true)
	case StateBlink:
		if b.mode == ModeBlink {
			return
		}
		b.mode = ModeBlink
		b.phase++
		b.lit = true
		b.set(true)
		b.schedule()
	default:
		log.Warn().Str("indicator", b.name).Int("state", in.State).Msg("Ignoring unknown indicator state")
	}
}

func (b *Blinker) tick(phase uint64) {
	if b.mode != ModeBlink || phase != b.phase {
		return
	}
	b.lit = !b.lit
	b.set(b.lit)
	b.schedule()
}

func (b *Blinker) schedule() {
	phase := b.phase
	b.sched.After(b.duration, func() {
		b.Handle(Input{Fire: TimerFire, Phase: phase})
	})
}

// Lit reports the last value written to the output
func (b *Blinker) Lit() bool { return b.lit }

func (b *Blinker) Shutdown() {
	b.mode = ModeOff
	b.phase++
	b.lit = false
	b.set(false)
}

// Flasher is a timestamp-driven indicator: each newer timestamp lights the
// output for one duration. A trigger with an unknown timestamp (<= 0)
// always flashes and leaves shown untouched.
type Flasher struct {
	core
	shown int64
	gen   uint64
}

// NewFlasher creates a timestamp-driven indicator
func NewFlasher(name string, out Output, sched Scheduler, duration time.Duration) *Flasher {
	return &Flasher{core: core{name: name, out: out, sched: sched, duration: duration}}
}

func (f *Flasher) Handle(in Input) {
	if in.Fire == TimerFire {
		if f.mode == ModeOn && in.Phase == f.gen {
			f.mode = ModeOff
			f.set(false)
		}
		return
	}

	if in.Timestamp > 0 {
		if in.Timestamp <= f.shown {
			return
		}
		f.shown = in.Timestamp
	}
	f.gen++
	f.mode = ModeOn
	f.set(true)

	fire := Input{Fire: TimerFire, Timestamp: in.Timestamp, Phase: f.gen}
	f.sched.After(f.duration, func() {
		f.Handle(fire)
	})
}

// Shown is the timestamp currently (or most recently) displayed
func (f *Flasher) Shown() int64 { return f.shown }

func (f *Flasher) Shutdown() {
	f.mode = ModeOff
	f.set(false)
}
