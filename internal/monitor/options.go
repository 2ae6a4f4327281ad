package monitor

import (
	"github.com/nats-io/nats.go"

	"github.com/fieldmon/kismet-monitor/internal/config"
	"github.com/fieldmon/kismet-monitor/internal/display"
	"github.com/fieldmon/kismet-monitor/internal/indicator"
	"github.com/fieldmon/kismet-monitor/internal/integration"
	"github.com/fieldmon/kismet-monitor/internal/kismet"
	"github.com/fieldmon/kismet-monitor/internal/server"
)

// NATSConn is the part of *nats.Conn the monitor uses
type NATSConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

type options struct {
	clientOpts  []kismet.Option
	renderer    display.Renderer
	openOutput  func(config.IndicatorConfig, *outputs) (indicator.Output, error)
	connectNATS func(config.NATSConfig) (NATSConn, error)
	connectMQTT func(config.MQTTConfig) (integration.Sink, error)
}

func defaultOptions() options {
	return options{
		openOutput: openHardwareOutput,
		connectNATS: func(cfg config.NATSConfig) (NATSConn, error) {
			nc, err := server.ConnectNATS(cfg)
			if err != nil {
				return nil, err
			}
			return nc, nil
		},
		connectMQTT: func(cfg config.MQTTConfig) (integration.Sink, error) {
			sink, err := integration.ConnectMQTT(cfg)
			if err != nil {
				return nil, err
			}
			return sink, nil
		},
	}
}

// Option customizes how the monitor reaches the outside world
type Option func(*options)

// WithClientOptions passes options through to the stream client
func WithClientOptions(opts ...kismet.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithRenderer replaces the configured display driver
func WithRenderer(r display.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithOutputs replaces how indicator outputs are opened
func WithOutputs(open func(config.IndicatorConfig) (indicator.Output, error)) Option {
	return func(o *options) {
		o.openOutput = func(ic config.IndicatorConfig, _ *outputs) (indicator.Output, error) {
			return open(ic)
		}
	}
}

// WithNATS replaces the NATS dialer
func WithNATS(connect func(config.NATSConfig) (NATSConn, error)) Option {
	return func(o *options) { o.connectNATS = connect }
}

// WithMQTT replaces the MQTT dialer
func WithMQTT(connect func(config.MQTTConfig) (integration.Sink, error)) Option {
	return func(o *options) { o.connectMQTT = connect }
}
