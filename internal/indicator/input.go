package indicator

// Fire tags where an input came from
type Fire int

const (
	// Trigger is a fresh input derived from a bus event
	Trigger Fire = iota
	// TimerFire is the machine's own previously scheduled timer
	TimerFire
)

// States understood by a Blinker
const (
	StateOff   = 0
	StateBlink = 1
	StateOn    = 2
)

// Input is the tagged variant consumed by Handle. Blinkers read State on
// a Trigger, Flashers read Timestamp. Both read Phase on a TimerFire.
type Input struct {
	Fire      Fire
	State     int
	Timestamp int64
	Phase     uint64
}

// StateInput builds a trigger for a Blinker
func StateInput(state int) Input {
	return Input{Fire: Trigger, State: state}
}

// TimestampInput builds a trigger for a Flasher
func TimestampInput(ts int64) Input {
	return Input{Fire: Trigger, Timestamp: ts}
}
