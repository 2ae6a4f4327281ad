package models

// Location is the last reported GPS position
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Snapshot is the shared status written by the stream client and read by
// the display and console. Zero Timestamp and ServiceStart mean unknown.
type Snapshot struct {
	Timestamp       int64      `json:"timestamp"`
	ServiceStart    int64      `json:"serviceStart"`
	Conn            ConnState  `json:"conn"`
	Fix             FixQuality `json:"fix"`
	Location        *Location  `json:"location,omitempty"`
	ConnectionError string     `json:"connectionError,omitempty"`
	Rate            RateSample `json:"rate"`
}

// HasTimestamp reports whether a server timestamp has been received
func (s Snapshot) HasTimestamp() bool {
	return s.Timestamp > 0
}

// Uptime returns the service uptime in seconds, or false when unknown
func (s Snapshot) Uptime() (int64, bool) {
	if s.Timestamp <= 0 || s.ServiceStart <= 0 || s.Timestamp < s.ServiceStart {
		return 0, false
	}
	return s.Timestamp - s.ServiceStart, true
}

// Reset returns the snapshot to its disconnected state, keeping the rate
// window so the sparkline does not blank on a transient drop.
func (s *Snapshot) Reset(cause string) {
	s.Timestamp = 0
	s.ServiceStart = 0
	s.Fix = FixNone
	s.Location = nil
	s.Conn = ConnDown
	s.ConnectionError = cause
}
