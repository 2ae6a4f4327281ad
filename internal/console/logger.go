// Package console logs every bus event
package console

import (
	"github.com/rs/zerolog"

	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/internal/status"
	"github.com/fieldmon/kismet-monitor/pkg/rrd"
)

// Logger writes events to a zerolog logger on the loop
type Logger struct {
	log   zerolog.Logger
	board *status.Board
}

func NewLogger(l zerolog.Logger, board *status.Board) *Logger {
	return &Logger{log: l.With().Str("component", "console").Logger(), board: board}
}

// Attach subscribes to every kind
func (l *Logger) Attach(bus eventbus.Subscriber) error {
	for _, kind := range models.AllKinds() {
		if err := bus.Subscribe(kind, "console", l.handle); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) handle(ev models.Event, replay bool) {
	if replay {
		return
	}

	switch ev.Kind {
	case models.KindConnectionState:
		l.log.Info().Str("state", ev.Conn.String()).Msg("Connection state")
	case models.KindFixState:
		e := l.log.Info().Str("fix", ev.Fix.String())
		if loc := l.board.Snapshot().Location; loc != nil {
			e = e.Float64("lat", loc.Lat).Float64("lon", loc.Lon)
		}
		e.Msg("GPS fix")
	case models.KindNewSSID, models.KindNewAccessPoint, models.KindNewDevice:
		l.log.Info().Str("kind", ev.Kind.String()).Int64("ts", ev.Timestamp).Msg(ev.Text)
	case models.KindDisplayMessage:
		l.log.Debug().Int64("ts", ev.Timestamp).Msg(ev.Text)
	case models.KindErrorState:
		if ev.ErrorActive {
			l.log.Warn().Str("error", ev.Text).Msg("Error state set")
		} else {
			l.log.Debug().Msg("Error state cleared")
		}
	case models.KindTimestampUpdate:
		e := l.log.Debug().Int64("ts", ev.Timestamp)
		if up, ok := l.board.Snapshot().Uptime(); ok {
			e = e.Int64("uptime", up)
		}
		e.Msg("Server time")
	case models.KindPacketRateUpdate:
		window := rrd.Realign(ev.Rate.Vector[:], ev.Rate.LastTime, ev.Rate.SerialTime)
		l.log.Debug().
			Int64("latest", window[len(window)-1]).
			Int64("peak", rrd.Max(window)).
			Msg("Packet rate")
	}
}
