package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "kismon_"

var (
	registerOnce sync.Once
	registry     *prometheus.Registry

	framesReceived *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	reconnects     prometheus.Counter
	connState      prometheus.Gauge

	eventsPublished *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	packetRate      prometheus.Gauge

	mirrorPublished *prometheus.CounterVec
	mirrorDropped   *prometheus.CounterVec
	displayDropped  prometheus.Counter
)

// FeedOther labels frames for feeds the monitor does not subscribe to
const FeedOther = "other"

// Init registers the monitor metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()

		framesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frames_received_total",
				Help: "Stream frames received by feed",
			},
			[]string{"feed"},
		)
		decodeErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frame_decode_errors_total",
				Help: "Field extraction failures by feed",
			},
			[]string{"feed"},
		)
		reconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconnect_attempts_total",
				Help: "Stream reconnect attempts",
			},
		)
		connState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connection_state",
				Help: "Stream connection state (0 down, 1 connecting, 2 up)",
			},
		)
		eventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_published_total",
				Help: "Events published on the bus by kind",
			},
			[]string{"kind"},
		)
		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "bus_queue_depth",
				Help: "Tasks waiting on the event loop",
			},
		)
		packetRate = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "packet_rate",
				Help: "Packets in the most recent second of the rate window",
			},
		)
		mirrorPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mirror_published_total",
				Help: "Events mirrored to external sinks",
			},
			[]string{"sink"},
		)
		mirrorDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mirror_dropped_total",
				Help: "Events not mirrored, by sink or reason",
			},
			[]string{"sink"},
		)

		displayDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "display_queue_dropped_total",
				Help: "Display messages dropped because the queue was full",
			},
		)

		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			framesReceived,
			decodeErrors,
			reconnects,
			connState,
			eventsPublished,
			queueDepth,
			packetRate,
			mirrorPublished,
			mirrorDropped,
			displayDropped,
		)
	})
}

// Handler serves the monitor registry
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncFrame counts a received frame for a feed. Callers pass FeedOther for
// anything outside their known set so the label stays bounded.
func IncFrame(feed string) {
	if framesReceived != nil {
		framesReceived.WithLabelValues(feed).Inc()
	}
}

// IncDecodeError counts a failed field extraction.
func IncDecodeError(feed string) {
	if feed == "" {
		feed = "unknown"
	}
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(feed).Inc()
	}
}

// IncReconnect counts a reconnect attempt.
func IncReconnect() {
	if reconnects != nil {
		reconnects.Inc()
	}
}

// SetConnState records the connection state.
func SetConnState(state int) {
	if connState != nil {
		connState.Set(float64(state))
	}
}

// IncEvent counts a published event.
func IncEvent(kind string) {
	if eventsPublished != nil {
		eventsPublished.WithLabelValues(kind).Inc()
	}
}

// SetQueueDepth records the loop backlog.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

// SetPacketRate records the newest rate sample.
func SetPacketRate(v int64) {
	if packetRate != nil {
		packetRate.Set(float64(v))
	}
}

// IncMirrorPublished counts a mirrored event.
func IncMirrorPublished(sink string) {
	if mirrorPublished != nil {
		mirrorPublished.WithLabelValues(sink).Inc()
	}
}

// IncMirrorDropped counts an event that was not mirrored.
func IncMirrorDropped(sink string) {
	if mirrorDropped != nil {
		mirrorDropped.WithLabelValues(sink).Inc()
	}
}

// IncDisplayDropped counts a message evicted from the display queue.
func IncDisplayDropped() {
	if displayDropped != nil {
		displayDropped.Inc()
	}
}
