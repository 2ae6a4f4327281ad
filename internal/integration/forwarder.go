// Package integration mirrors bus events to external brokers.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
)

const subscriberName = "mirror"

// Sink receives mirrored events
type Sink interface {
	Name() string
	Publish(kind models.Kind, payload []byte) error
	Close()
}

// Envelope is the JSON document published for every mirrored event
type Envelope struct {
	ID    uuid.UUID    `json:"id"`
	Kind  string       `json:"kind"`
	Time  time.Time    `json:"time"`
	Event models.Event `json:"event"`
}

// Forwarder copies selected events off the loop to its sinks
type Forwarder struct {
	kinds []models.Kind
	sinks []Sink
	queue chan models.Event
	now   func() time.Time

	dropLog zerolog.Logger
}

// NewForwarder creates a forwarder; buffer bounds the events waiting for the worker
func NewForwarder(kinds []models.Kind, buffer int, sinks ...Sink) *Forwarder {
	if buffer <= 0 {
		buffer = 1
	}
	return &Forwarder{
		kinds: kinds,
		sinks: sinks,
		queue: make(chan models.Event, buffer),
		now:   time.Now,
		dropLog: log.With().Str("component", subscriberName).Logger().
			Sample(&zerolog.BurstSampler{Burst: 1, Period: 10 * time.Second}),
	}
}

// Attach subscribes to every configured kind
func (f *Forwarder) Attach(bus eventbus.Subscriber) error {
	var errs []error
	for _, k := range f.kinds {
		errs = append(errs, bus.Subscribe(k, subscriberName, f.enqueue))
	}
	return errors.Join(errs...)
}

// enqueue runs on the loop and must never block it
func (f *Forwarder) enqueue(ev models.Event, replay bool) {
	if replay || len(f.sinks) == 0 {
		return
	}
	select {
	case f.queue <- ev:
	default:
		for _, s := range f.sinks {
			metrics.IncMirrorDropped(s.Name())
		}
		f.dropLog.Warn().Str("kind", ev.Kind.String()).Msg("Mirror buffer full, event dropped")
	}
}

// Run drains the buffer until ctx is done, then closes the sinks
func (f *Forwarder) Run(ctx context.Context) error {
	defer func() {
		for _, s := range f.sinks {
			s.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.queue:
			f.forward(ev)
		}
	}
}

func (f *Forwarder) forward(ev models.Event) {
	payload, err := json.Marshal(Envelope{
		ID:    uuid.New(),
		Kind:  ev.Kind.String(),
		Time:  f.now().UTC(),
		Event: ev,
	})
	if err != nil {
		log.Error().Err(err).Str("kind", ev.Kind.String()).Msg("Failed to marshal mirror envelope")
		return
	}

	for _, s := range f.sinks {
		if err := s.Publish(ev.Kind, payload); err != nil {
			metrics.IncMirrorDropped(s.Name())
			log.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("kind", ev.Kind.String()).
				Msg("Failed to mirror event")
			continue
		}
		metrics.IncMirrorPublished(s.Name())
	}
}
