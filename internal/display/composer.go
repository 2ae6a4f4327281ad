// Package display composes the status panel: connection glyph, fix
// quality, uptime, an aging message queue and a packet-rate sparkline.
//
// The Composer lives on the event loop. Every state change ends in draw,
// which builds a Frame, paints it and hands the bitmap to a Renderer.
package display

import (
	"image"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/status"
	"github.com/fieldmon/kismet-monitor/pkg/rrd"
)

// Renderer pushes a painted bitmap to a physical or virtual panel
type Renderer interface {
	Render(img *image.Gray) error
}

// Scheduler re-invokes a handler on the loop after a delay
type Scheduler interface {
	Replay(d time.Duration, ev models.Event, h eventbus.Handler)
}

// Config for the composer
type Config struct {
	Width       int
	Height      int
	SparkHeight int
	// MsgDisplayTime is how long each message holds the current slot
	MsgDisplayTime time.Duration
	// MsgMaxAge drops messages older than this when they come up
	MsgMaxAge time.Duration
	MaxQueue  int
	IdleText  string
}

func (c *Config) setDefaults() {
	if c.Width <= 0 {
		c.Width = 128
	}
	if c.Height <= 0 {
		c.Height = 64
	}
	if c.SparkHeight < 0 {
		c.SparkHeight = 0
	}
	if c.MsgDisplayTime <= 0 {
		c.MsgDisplayTime = 2 * time.Second
	}
	if c.MsgMaxAge <= 0 {
		c.MsgMaxAge = 30 * time.Second
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 16
	}
	if c.IdleText == "" {
		c.IdleText = "Listening..."
	}
}

type message struct {
	Text   string
	Origin int64
}

// Composer owns display state. Loop only.
type Composer struct {
	cfg      Config
	layout   Layout
	sched    Scheduler
	board    *status.Board
	renderer Renderer
	canvas   *Canvas

	conn    models.ConnState
	fix     models.FixQuality
	errText string
	current *message
	queue   []message
	rate    []int64

	last Frame
}

// NewComposer creates a composer drawing to r
func NewComposer(cfg Config, sched Scheduler, board *status.Board, r Renderer) *Composer {
	cfg.setDefaults()
	layout := newLayout(cfg)
	return &Composer{
		cfg:      cfg,
		layout:   layout,
		sched:    sched,
		board:    board,
		renderer: r,
		canvas:   NewCanvas(cfg.Width, cfg.Height),
		rate:     make([]int64, models.RateSlots),
	}
}

// Attach subscribes the composer to every kind it renders
func (c *Composer) Attach(bus eventbus.Subscriber) error {
	subs := []struct {
		kind models.Kind
		h    eventbus.Handler
	}{
		{models.KindConnectionState, c.onConnection},
		{models.KindFixState, c.onFix},
		{models.KindTimestampUpdate, c.onTimestamp},
		{models.KindDisplayMessage, c.onMessage},
		{models.KindErrorState, c.onError},
		{models.KindPacketRateUpdate, c.onRate},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.kind, "display", s.h); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composer) onConnection(ev models.Event, _ bool) {
	c.conn = ev.Conn
	c.draw()
}

func (c *Composer) onFix(ev models.Event, _ bool) {
	c.fix = ev.Fix
	c.draw()
}

func (c *Composer) onTimestamp(models.Event, bool) {
	c.draw()
}

func (c *Composer) onRate(ev models.Event, _ bool) {
	c.rate = rrd.Realign(ev.Rate.Vector[:], ev.Rate.LastTime, ev.Rate.SerialTime)
	c.draw()
}

func (c *Composer) onError(ev models.Event, _ bool) {
	if ev.ErrorActive {
		c.errText = ev.Text
	} else {
		if c.errText == "" {
			return
		}
		c.errText = ""
	}
	c.draw()
}

// onMessage enqueues fresh messages; a replay means the current slot's
// display time is over.
func (c *Composer) onMessage(ev models.Event, replay bool) {
	if replay {
		c.current = nil
		c.advance()
		c.draw()
		return
	}

	if len(c.queue) >= c.cfg.MaxQueue {
		c.queue = c.queue[1:]
		metrics.IncDisplayDropped()
		log.Debug().Int("max", c.cfg.MaxQueue).Msg("Display queue full, dropped oldest message")
	}
	c.queue = append(c.queue, message{Text: ev.Text, Origin: ev.Timestamp})

	if c.current == nil {
		c.advance()
	}
	c.draw()
}

// advance moves the next fresh queued message into the current slot and
// arms the replay that will retire it. Stale messages are skipped.
func (c *Composer) advance() {
	now := c.board.Snapshot().Timestamp
	for len(c.queue) > 0 {
		m := c.queue[0]
		c.queue = c.queue[1:]
		if c.expired(m, now) {
			log.Debug().Str("text", m.Text).Int64("origin", m.Origin).Msg("Skipping stale display message")
			continue
		}
		c.current = &m
		c.sched.Replay(c.cfg.MsgDisplayTime, models.MessageEvent(m.Text, m.Origin), c.onMessage)
		return
	}
	c.current = nil
}

func (c *Composer) expired(m message, now int64) bool {
	if now <= 0 || m.Origin <= 0 {
		return false
	}
	return time.Duration(now-m.Origin)*time.Second > c.cfg.MsgMaxAge
}

func (c *Composer) draw() {
	f := c.compose()
	c.last = f
	if c.renderer == nil {
		return
	}
	if err := c.renderer.Render(c.canvas.Paint(f)); err != nil {
		log.Warn().Err(err).Msg("Display render failed")
	}
}

// Frame returns the most recently composed frame
func (c *Composer) Frame() Frame {
	return c.last
}

// Current returns the text in the current slot, or "" when idle
func (c *Composer) Current() string {
	if c.current == nil {
		return ""
	}
	return c.current.Text
}

// Pending is the number of queued messages behind the current one
func (c *Composer) Pending() int {
	return len(c.queue)
}

// Clear blanks the panel on shutdown
func (c *Composer) Clear() {
	if c.renderer == nil {
		return
	}
	img := image.NewGray(image.Rect(0, 0, c.cfg.Width, c.cfg.Height))
	if err := c.renderer.Render(img); err != nil {
		log.Warn().Err(err).Msg("Display clear failed")
	}
}
