package status

import (
	"sync"
	"time"

	"github.com/fieldmon/kismet-monitor/internal/eventbus"
	"github.com/fieldmon/kismet-monitor/internal/models"
)

const DefaultHistorySize = 64

// Entry is one recorded event
type Entry struct {
	At    time.Time    `json:"at"`
	Event models.Event `json:"event"`
}

// History keeps the last N published events
type History struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]Entry, size), now: time.Now}
}

// Attach records every kind except timestamp-update, which would flood it
func (h *History) Attach(bus eventbus.Subscriber) error {
	for _, kind := range models.AllKinds() {
		if kind == models.KindTimestampUpdate {
			continue
		}
		if err := bus.Subscribe(kind, "history", func(ev models.Event, replay bool) {
			if !replay {
				h.Add(ev)
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *History) Add(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = Entry{At: h.now(), Event: ev}
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (h *History) Recent(limit int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.next - 1 - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}
