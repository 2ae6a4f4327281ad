package display

import (
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/status"
)

type pendingReplay struct {
	d  time.Duration
	ev models.Event
	h  eventbus.Handler
}

type fakeScheduler struct {
	pending []pendingReplay
}

func (s *fakeScheduler) Replay(d time.Duration, ev models.Event, h eventbus.Handler) {
	s.pending = append(s.pending, pendingReplay{d: d, ev: ev, h: h})
}

// fire runs the oldest pending replay
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, s.pending, "no replay scheduled")
	r := s.pending[0]
	s.pending = s.pending[1:]
	r.h(r.ev, true)
}

type fakeRenderer struct {
	renders int
	last    *image.Gray
	err     error
}

func (r *fakeRenderer) Render(img *image.Gray) error {
	r.renders++
	r.last = img
	return r.err
}

func newTestComposer(t *testing.T, cfg Config) (*Composer, *fakeScheduler, *status.Board, *fakeRenderer) {
	t.Helper()
	sched := &fakeScheduler{}
	board := status.NewBoard()
	r := &fakeRenderer{}
	if cfg.SparkHeight == 0 {
		cfg.SparkHeight = 12
	}
	return NewComposer(cfg, sched, board, r), sched, board, r
}

func setTime(board *status.Board, ts int64) {
	board.Update(func(s *models.Snapshot) { s.Timestamp = ts })
}

func TestMessage_ShownImmediatelyWhenIdle(t *testing.T) {
	c, sched, board, r := newTestComposer(t, Config{MsgDisplayTime: 3 * time.Second})
	setTime(board, 1000)

	c.onMessage(models.MessageEvent("Found new AP", 1000), false)

	assert.Equal(t, "Found new AP", c.Current())
	assert.Equal(t, "Found new AP", c.Frame().Lines[0])
	require.Len(t, sched.pending, 1)
	assert.Equal(t, 3*time.Second, sched.pending[0].d)
	assert.Equal(t, 1, r.renders)
}

func TestMessage_QueueDrainsInOrderThenIdles(t *testing.T) {
	c, sched, board, _ := newTestComposer(t, Config{IdleText: "idle"})
	setTime(board, 1000)

	c.onMessage(models.MessageEvent("one", 1000), false)
	c.onMessage(models.MessageEvent("two", 1000), false)
	c.onMessage(models.MessageEvent("three", 1000), false)

	assert.Equal(t, "one", c.Current())
	assert.Equal(t, 2, c.Pending())
	// upcoming messages preview below the current one
	assert.Equal(t, []string{"one", "two", "three"}, c.Frame().Lines)
	// only one replay chain at a time
	assert.Len(t, sched.pending, 1)

	sched.fire(t)
	assert.Equal(t, "two", c.Current())
	sched.fire(t)
	assert.Equal(t, "three", c.Current())
	sched.fire(t)
	assert.Equal(t, "", c.Current())
	assert.Equal(t, []string{"idle"}, c.Frame().Lines)
	assert.Empty(t, sched.pending)
}

func TestMessage_StaleSkippedAtDisplayTime(t *testing.T) {
	c, sched, board, _ := newTestComposer(t, Config{MsgMaxAge: 10 * time.Second})
	setTime(board, 1000)

	c.onMessage(models.MessageEvent("first", 1000), false)
	c.onMessage(models.MessageEvent("old", 1001), false)
	c.onMessage(models.MessageEvent("fresh", 1015), false)

	// by the time "old" comes up it is 14s old
	setTime(board, 1015)
	sched.fire(t)
	assert.Equal(t, "fresh", c.Current())
	assert.Equal(t, 0, c.Pending())
}

func TestMessage_StaleOnArrivalSkipped(t *testing.T) {
	c, sched, board, _ := newTestComposer(t, Config{MsgMaxAge: 5 * time.Second, IdleText: "idle"})
	setTime(board, 2000)

	c.onMessage(models.MessageEvent("ancient", 1000), false)
	assert.Equal(t, "", c.Current())
	assert.Empty(t, sched.pending)
	assert.Equal(t, []string{"idle"}, c.Frame().Lines)
}

func TestMessage_UnknownTimestampNeverExpires(t *testing.T) {
	c, _, _, _ := newTestComposer(t, Config{MsgMaxAge: time.Second})

	c.onMessage(models.MessageEvent("GPS connected", 0), false)
	assert.Equal(t, "GPS connected", c.Current())
}

// scrape reads one unlabelled sample from the metrics endpoint
func scrape(t *testing.T, name string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if v, ok := strings.CutPrefix(line, name+" "); ok {
			f, err := strconv.ParseFloat(v, 64)
			require.NoError(t, err)
			return f
		}
	}
	t.Fatalf("metric %s not exported", name)
	return 0
}

func TestMessage_QueueCapDropsOldest(t *testing.T) {
	metrics.Init()
	before := scrape(t, "kismon_display_queue_dropped_total")

	c, _, board, _ := newTestComposer(t, Config{MaxQueue: 2})
	setTime(board, 10)

	for _, s := range []string{"a", "b", "c", "d"} {
		c.onMessage(models.MessageEvent(s, 10), false)
	}
	// "a" is current; queue holds the two newest
	assert.Equal(t, "a", c.Current())
	assert.Equal(t, 2, c.Pending())
	assert.Equal(t, []string{"a", "c", "d"}, c.Frame().Lines)
	assert.Equal(t, before+1, scrape(t, "kismon_display_queue_dropped_total"))
}

func TestError_PushesMessagesDownAndClears(t *testing.T) {
	c, _, board, _ := newTestComposer(t, Config{IdleText: "idle"})
	setTime(board, 10)

	c.onMessage(models.MessageEvent("Found new SSID", 10), false)
	c.onError(models.ErrorEvent("Connection refused, retry in 3s"), false)

	f := c.Frame()
	// clipped to the 18 column panel
	assert.Equal(t, "Connection refused", f.Error)
	// the error row takes one of the three text rows
	assert.Equal(t, []string{"Found new SSID"}, f.Lines)

	c.onError(models.ErrorEvent(""), false)
	assert.Empty(t, c.Frame().Error)
}

func TestError_ClearWithoutErrorDoesNotRedraw(t *testing.T) {
	c, _, _, r := newTestComposer(t, Config{})
	c.onError(models.ErrorEvent(""), false)
	assert.Equal(t, 0, r.renders)
}

func TestStatusBar(t *testing.T) {
	c, _, board, _ := newTestComposer(t, Config{})

	board.Update(func(s *models.Snapshot) {
		s.ServiceStart = 1000
		s.Timestamp = 1000 + 3725
	})
	c.onConnection(models.ConnectionEvent(models.ConnUp), false)
	c.onFix(models.FixEvent(models.Fix3D), false)

	f := c.Frame()
	assert.Equal(t, models.ConnUp, f.Conn)
	assert.Equal(t, "3D", f.Fix)
	assert.Equal(t, "Up:1h 2m 5s", f.Uptime)

	c.onFix(models.FixEvent(models.FixNone), false)
	assert.Equal(t, "--", c.Frame().Fix)
}

func TestRate_RealignedAndScaled(t *testing.T) {
	c, _, _, _ := newTestComposer(t, Config{SparkHeight: 10})

	var sample models.RateSample
	for i := range sample.Vector {
		sample.Vector[i] = 5
	}
	sample.Vector[10] = 50 // newest slot
	sample.LastTime = 10
	sample.SerialTime = 15

	c.onRate(models.RateEvent(sample), false)
	bars := c.Frame().Bars
	require.Len(t, bars, 60)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, bars[:5])
	assert.Equal(t, 1, bars[5])
	assert.Equal(t, 10, bars[59])

	c.onRate(models.RateEvent(models.RateSample{}), false)
	assert.Equal(t, make([]int, 60), c.Frame().Bars)
}

func TestRenderErrorIsLogged(t *testing.T) {
	c, _, _, r := newTestComposer(t, Config{})
	r.err = errors.New("i2c nack")
	c.onConnection(models.ConnectionEvent(models.ConnConnecting), false)
	assert.Equal(t, 1, r.renders)
}

func TestAttach_ViaBus(t *testing.T) {
	bus := eventbus.New()
	board := status.NewBoard()
	r := &fakeRenderer{}
	c := NewComposer(Config{MsgDisplayTime: 10 * time.Millisecond}, bus, board, r)
	require.NoError(t, c.Attach(bus))

	bus.Publish(models.ConnectionEvent(models.ConnUp))
	bus.Publish(models.MessageEvent("Found new device", 0))
	bus.RunPending()

	assert.Equal(t, "Found new device", c.Current())
	assert.Equal(t, 2, r.renders)

	require.Eventually(t, func() bool {
		bus.RunPending()
		return c.Current() == ""
	}, time.Second, 5*time.Millisecond)
}
