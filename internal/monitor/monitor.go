// Package monitor assembles the stream client, event loop and outputs into
// one supervised process.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fieldmon/kismet-monitor/internal/api"
	"github.com/fieldmon/kismet-monitor/internal/config"
	"github.com/fieldmon/kismet-monitor/internal/console"
	"github.com/fieldmon/kismet-monitor/internal/display"
	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/indicator"
	"github.com/fieldmon/kismet-monitor/internal/integration"
	"github.com/fieldmon/kismet-monitor/internal/kismet"
	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/server"
	"github.com/fieldmon/kismet-monitor/internal/status"
)

const apiShutdownTimeout = 5 * time.Second

// Monitor owns every component for the life of the process
type Monitor struct {
	cfg *config.Config

	bus        *eventbus.Bus
	board      *status.Board
	history    *status.History
	indicators []indicator.Machine
	composer   *display.Composer
	client     *kismet.Client
	forwarder  *integration.Forwarder
	commands   *server.CommandSubscriber
	api        *api.RESTServer

	closers []func() error
}

// New builds the monitor. Indicator and display problems are logged and
// the affected output disabled; only broken wiring is returned as an error.
func New(cfg *config.Config, opts ...Option) (*Monitor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	metrics.Init()

	m := &Monitor{
		cfg:     cfg,
		bus:     eventbus.New(),
		board:   status.NewBoard(),
		history: status.NewHistory(cfg.History.Size),
	}

	if err := m.history.Attach(m.bus); err != nil {
		return nil, fmt.Errorf("attach history: %w", err)
	}
	if err := console.NewLogger(log.Logger, m.board).Attach(m.bus); err != nil {
		return nil, fmt.Errorf("attach console: %w", err)
	}

	hw := newOutputs(cfg.Indicators.Strip, o.openOutput)
	m.setupIndicators(hw)
	m.closers = append(m.closers, hw.Close)

	if err := m.setupDisplay(o.renderer); err != nil {
		return nil, err
	}

	m.client = kismet.NewClient(kismetConfig(cfg), m.bus, m.board, o.clientOpts...)

	if err := m.setupBrokers(o); err != nil {
		return nil, err
	}

	if cfg.API.Enabled {
		m.api = api.NewRESTServer(cfg.API, cfg.Server.Name, m.board, m.history)
	}

	return m, nil
}

func kismetConfig(cfg *config.Config) kismet.Config {
	k := cfg.Kismet
	return kismet.Config{
		Host:              k.Host,
		Port:              k.Port,
		TLS:               k.TLS,
		Insecure:          k.InsecureSkipVerify,
		User:              k.User,
		Password:          k.Password,
		APIKey:            k.APIKey,
		Feeds:             k.Feeds,
		SubscribeInterval: k.SubscribeInterval,
		HandshakeTimeout:  k.HandshakeTimeout,
		StatusTimeout:     k.StatusTimeout,
		Reconnect:         cfg.ReconnectEnabled(),
		ReconnectDelay:    cfg.Reconnect.Delay,
	}
}

func displayConfig(cfg config.DisplayConfig) display.Config {
	return display.Config{
		Width:          cfg.Width,
		Height:         cfg.Height,
		SparkHeight:    cfg.SparkHeight,
		MsgDisplayTime: cfg.MsgDisplayTime,
		MsgMaxAge:      cfg.MsgMaxAge,
		MaxQueue:       cfg.MaxQueue,
		IdleText:       cfg.IdleText,
	}
}

// setupIndicators builds one machine per configured output. A bad entry is
// reported and skipped.
func (m *Monitor) setupIndicators(hw *outputs) {
	ic := m.cfg.Indicators
	for _, entry := range ic.Outputs {
		if err := m.addIndicator(hw, ic, entry); err != nil {
			log.Error().Err(err).Str("indicator", entry.Name).Msg("Indicator disabled")
			continue
		}
		log.Info().
			Str("indicator", entry.Name).
			Str("function", entry.Function).
			Str("output", entry.Output).
			Msg("Indicator ready")
	}
}

func (m *Monitor) addIndicator(hw *outputs, ic config.IndicatorsConfig, entry config.IndicatorConfig) error {
	if err := entry.Check(ic.Strip); err != nil {
		return err
	}

	out, err := hw.open(entry)
	if err != nil {
		return err
	}

	f := indicator.Function(entry.Function)
	mach, err := indicator.New(f, "indicator:"+entry.Name, out, m.bus, entry.DurationFor(ic, f.StateDriven()))
	if err != nil {
		return err
	}
	if err := indicator.Bind(m.bus, f, mach); err != nil {
		return err
	}

	m.indicators = append(m.indicators, mach)
	return nil
}

func (m *Monitor) setupDisplay(override display.Renderer) error {
	dc := m.cfg.Display
	r := override
	if r == nil {
		r = openRenderer(dc)
		if c, ok := r.(interface{ Close() error }); ok {
			m.closers = append(m.closers, c.Close)
		}
	}

	m.composer = display.NewComposer(displayConfig(dc), m.bus, m.board, r)
	if err := m.composer.Attach(m.bus); err != nil {
		return fmt.Errorf("attach display: %w", err)
	}
	return nil
}

// setupBrokers connects the optional NATS and MQTT side channels.
// Unreachable brokers are logged and skipped.
func (m *Monitor) setupBrokers(o options) error {
	var sinks []integration.Sink

	if m.cfg.NATS.URL != "" {
		// NATS 不可用时继续运行
		nc, err := o.connectNATS(m.cfg.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			m.closers = append(m.closers, func() error {
				nc.Close()
				return nil
			})
			sinks = append(sinks, integration.NewNATSSink(nc, m.cfg.NATS.SubjectPrefix))
			if m.cfg.NATS.Commands {
				m.commands = server.NewCommandSubscriber(nc, m.cfg.NATS.SubjectPrefix, m.bus, m.board)
			}
		}
	}

	if m.cfg.MQTT.Broker != "" {
		sink, err := o.connectMQTT(m.cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT, continuing without MQTT mirror")
		} else {
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) == 0 {
		return nil
	}

	kinds := make([]models.Kind, 0, len(m.cfg.Mirror.Kinds))
	for _, name := range m.cfg.Mirror.Kinds {
		k, err := models.ParseKind(name)
		if err != nil {
			return fmt.Errorf("mirror kinds: %w", err)
		}
		kinds = append(kinds, k)
	}

	m.forwarder = integration.NewForwarder(kinds, m.cfg.Mirror.Buffer, sinks...)
	if err := m.forwarder.Attach(m.bus); err != nil {
		return fmt.Errorf("attach mirror: %w", err)
	}
	return nil
}

// Run starts every component and blocks until ctx is done or the stream
// client stops for good. Indicators are turned off before it returns.
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := m.bus.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// with reconnect disabled the client returning ends the process
		defer cancel()
		return m.client.Run(gctx)
	})

	if m.forwarder != nil {
		g.Go(func() error { return m.forwarder.Run(gctx) })
	}

	if m.commands != nil {
		g.Go(func() error { return m.commands.Start(gctx) })
	}

	if m.api != nil {
		addr := fmt.Sprintf("%s:%d", m.cfg.API.Host, m.cfg.API.Port)
		g.Go(func() error {
			if err := m.api.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, done := context.WithTimeout(context.Background(), apiShutdownTimeout)
			defer done()
			return m.api.Shutdown(sctx)
		})
	}

	log.Info().
		Int("indicators", len(m.indicators)).
		Bool("mirror", m.forwarder != nil).
		Bool("commands", m.commands != nil).
		Bool("api", m.api != nil).
		Msg("Monitor running")

	err := g.Wait()
	m.shutdown()
	return err
}

// shutdown runs after the loop has stopped, so loop-owned state is safe to
// touch from here.
func (m *Monitor) shutdown() {
	m.bus.RunPending()
	// 先熄灭指示灯、清屏，再释放硬件
	for _, ind := range m.indicators {
		ind.Shutdown()
	}
	m.composer.Clear()

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Close failed during shutdown")
		}
	}
	m.closers = nil

	log.Info().Msg("Monitor stopped")
}

// Bus exposes the event loop, mainly for tests
func (m *Monitor) Bus() *eventbus.Bus { return m.bus }

// Board exposes the status board
func (m *Monitor) Board() *status.Board { return m.board }

// Indicators returns the machines that were set up successfully
func (m *Monitor) Indicators() []indicator.Machine { return m.indicators }

// Composer returns the display composer
func (m *Monitor) Composer() *display.Composer { return m.composer }
