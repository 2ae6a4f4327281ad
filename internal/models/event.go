package models

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a semantic status event
type Kind int

const (
	KindConnectionState Kind = iota
	KindFixState
	KindNewSSID
	KindNewAccessPoint
	KindNewDevice
	KindDisplayMessage
	KindErrorState
	KindTimestampUpdate
	KindPacketRateUpdate

	// NumKinds sizes fixed dispatch tables indexed by Kind
	NumKinds
)

var kindNames = [NumKinds]string{
	KindConnectionState:  "connection-state",
	KindFixState:         "fix-state",
	KindNewSSID:          "new-ssid",
	KindNewAccessPoint:   "new-access-point",
	KindNewDevice:        "new-device",
	KindDisplayMessage:   "display-message",
	KindErrorState:       "error-state",
	KindTimestampUpdate:  "timestamp-update",
	KindPacketRateUpdate: "packet-rate-update",
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k >= 0 && k < NumKinds
}

// String returns the wire name of the kind
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid event kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// ParseKind maps a wire name back to its Kind
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// AllKinds returns every kind in declaration order
func AllKinds() []Kind {
	kinds := make([]Kind, 0, NumKinds)
	for k := Kind(0); k < NumKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ConnState is the health of the stream connection
type ConnState int

const (
	ConnDown ConnState = iota
	ConnConnecting
	ConnUp
)

func (s ConnState) String() string {
	switch s {
	case ConnUp:
		return "up"
	case ConnConnecting:
		return "connecting"
	default:
		return "down"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FixQuality is the GPS positioning confidence
type FixQuality int

const (
	FixNone FixQuality = iota
	Fix2D
	Fix3D
)

// FixFromCode maps the numeric fix code reported by the sensing service
func FixFromCode(code int) FixQuality {
	switch code {
	case 3:
		return Fix3D
	case 2:
		return Fix2D
	default:
		return FixNone
	}
}

func (f FixQuality) String() string {
	switch f {
	case Fix3D:
		return "3D"
	case Fix2D:
		return "2D"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler
func (f FixQuality) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// RateSlots is the length of the packet-rate window (one minute)
const RateSlots = 60

// RateSample is a raw per-second packet count window plus its alignment
// metadata as reported by the server.
type RateSample struct {
	Vector     [RateSlots]int64 `json:"vector"`
	LastTime   int64            `json:"lastTime"`
	SerialTime int64            `json:"serialTime"`
}

// Event is an immutable status event. Only the fields relevant to Kind are set.
type Event struct {
	Kind        Kind
	Conn        ConnState
	Fix         FixQuality
	Text        string
	Timestamp   int64
	ErrorActive bool
	Rate        RateSample
}

// MarshalJSON emits the kind plus the fields that kind carries
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{"kind": e.Kind}
	switch e.Kind {
	case KindConnectionState:
		out["conn"] = e.Conn
	case KindFixState:
		out["fix"] = e.Fix
	case KindDisplayMessage, KindNewSSID, KindNewAccessPoint, KindNewDevice:
		if e.Text != "" {
			out["text"] = e.Text
		}
		out["timestamp"] = e.Timestamp
	case KindErrorState:
		out["active"] = e.ErrorActive
		out["text"] = e.Text
	case KindTimestampUpdate:
		out["timestamp"] = e.Timestamp
	case KindPacketRateUpdate:
		out["rate"] = e.Rate
	}
	return json.Marshal(out)
}

// ConnectionEvent builds a connection-state event
func ConnectionEvent(s ConnState) Event {
	return Event{Kind: KindConnectionState, Conn: s}
}

// FixEvent builds a fix-state event
func FixEvent(f FixQuality) Event {
	return Event{Kind: KindFixState, Fix: f}
}

// MessageEvent builds a display-message event
func MessageEvent(text string, ts int64) Event {
	return Event{Kind: KindDisplayMessage, Text: text, Timestamp: ts}
}

// ErrorEvent builds an error-state event. An empty text clears the error.
func ErrorEvent(text string) Event {
	return Event{Kind: KindErrorState, Text: text, ErrorActive: text != ""}
}

// TimestampEvent builds a timestamp-update event
func TimestampEvent(ts int64) Event {
	return Event{Kind: KindTimestampUpdate, Timestamp: ts}
}

// RateEvent builds a packet-rate-update event
func RateEvent(r RateSample) Event {
	return Event{Kind: KindPacketRateUpdate, Rate: r}
}
