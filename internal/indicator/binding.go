package indicator

import (
	"fmt"
	"time"

	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/models"
)

// Function is what an indicator shows
type Function string

const (
	FuncConnection Function = "connection"
	FuncGPS        Function = "gps"
	FuncError      Function = "error"
	FuncSSID       Function = "ssid"
	FuncAP         Function = "ap"
	FuncDevice     Function = "device"
)

// Functions lists every supported function
func Functions() []Function {
	return []Function{FuncConnection, FuncGPS, FuncError, FuncSSID, FuncAP, FuncDevice}
}

// StateDriven reports whether f uses a Blinker rather than a Flasher
func (f Function) StateDriven() bool {
	switch f {
	case FuncConnection, FuncGPS, FuncError:
		return true
	}
	return false
}

// Valid reports whether f is known
func (f Function) Valid() bool {
	for _, known := range Functions() {
		if f == known {
			return true
		}
	}
	return false
}

// New builds the right machine subtype for f
func New(f Function, name string, out Output, sched Scheduler, duration time.Duration) (Machine, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown indicator function %q", f)
	}
	if out == nil {
		return nil, fmt.Errorf("indicator %s: no output", name)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("indicator %s: duration must be positive", name)
	}
	if f.StateDriven() {
		return NewBlinker(name, out, sched, duration), nil
	}
	return NewFlasher(name, out, sched, duration), nil
}

// Bind subscribes m to the event kind that feeds function f. Flash events
// carry the server timestamp, 0 when it is not known yet.
func Bind(bus eventbus.Subscriber, f Function, m Machine) error {
	var (
		kind  models.Kind
		input func(ev models.Event) Input
	)

	switch f {
	case FuncConnection:
		kind = models.KindConnectionState
		input = func(ev models.Event) Input { return StateInput(connState(ev.Conn)) }
	case FuncGPS:
		kind = models.KindFixState
		input = func(ev models.Event) Input { return StateInput(fixState(ev.Fix)) }
	case FuncError:
		kind = models.KindErrorState
		input = func(ev models.Event) Input {
			if ev.ErrorActive {
				return StateInput(StateBlink)
			}
			return StateInput(StateOff)
		}
	case FuncSSID, FuncAP, FuncDevice:
		kind = flashKind(f)
		input = func(ev models.Event) Input { return TimestampInput(ev.Timestamp) }
	default:
		return fmt.Errorf("unknown indicator function %q", f)
	}

	return bus.Subscribe(kind, m.Name(), func(ev models.Event, replay bool) {
		if replay {
			return
		}
		m.Handle(input(ev))
	})
}

func flashKind(f Function) models.Kind {
	switch f {
	case FuncSSID:
		return models.KindNewSSID
	case FuncAP:
		return models.KindNewAccessPoint
	default:
		return models.KindNewDevice
	}
}

func connState(s models.ConnState) int {
	switch s {
	case models.ConnUp:
		return StateOn
	case models.ConnConnecting:
		return StateBlink
	default:
		return StateOff
	}
}

func fixState(f models.FixQuality) int {
	switch f {
	case models.Fix3D:
		return StateOn
	case models.Fix2D:
		return StateBlink
	default:
		return StateOff
	}
}
