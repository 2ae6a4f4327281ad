// Package status owns the Status Snapshot. The loop mutates it through
// Update; other goroutines read a published copy through Load.
package status

import (
	"sync/atomic"

	"github.com/fieldmon/kismet-monitor/internal/models"
)

// Board holds the loop-owned snapshot plus a copy readable from anywhere
type Board struct {
	snap      models.Snapshot
	published atomic.Pointer[models.Snapshot]
}

// NewBoard returns a board in the disconnected state
func NewBoard() *Board {
	b := &Board{}
	b.publish()
	return b
}

// Snapshot returns the live value. Loop only.
func (b *Board) Snapshot() models.Snapshot {
	return b.snap
}

// Update mutates the snapshot on the loop and republishes the copy
func (b *Board) Update(fn func(s *models.Snapshot)) {
	fn(&b.snap)
	b.publish()
}

// Load returns the most recently published copy. Safe from any goroutine.
func (b *Board) Load() models.Snapshot {
	return *b.published.Load()
}

func (b *Board) publish() {
	cp := b.snap
	if b.snap.Location != nil {
		loc := *b.snap.Location
		cp.Location = &loc
	}
	b.published.Store(&cp)
}
