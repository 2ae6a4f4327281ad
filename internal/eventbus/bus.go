// Package eventbus is the in-process publish/subscribe registry and the
// single cooperative loop that owns every subscriber's state.
//
// Publish, Post and timer callbacks may be called from any goroutine; they
// only enqueue. Run executes queued tasks one at a time, so subscriber
// callbacks never run concurrently with each other or with timer fires.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/metrics"
	"github.com/fieldmon/kismet-monitor/internal/models"
)

var (
	ErrRunning       = errors.New("eventbus: registry is closed once the loop runs")
	ErrDuplicate     = errors.New("eventbus: duplicate subscription")
	ErrInvalidKind   = errors.New("eventbus: invalid event kind")
	ErrNilHandler    = errors.New("eventbus: nil handler")
	ErrAlreadyLooped = errors.New("eventbus: loop already running")
)

// Handler receives an event. replay is true when the call is a timer
// re-invocation scheduled with Replay rather than a fresh publish.
type Handler func(ev models.Event, replay bool)

// Subscriber is the registration half of the bus
type Subscriber interface {
	Subscribe(kind models.Kind, name string, h Handler) error
}

type subscriber struct {
	name    string
	handler Handler
}

// task is either an event dispatch or a closure.
type task struct {
	ev *models.Event
	fn func()
}

// Bus is the subscription registry plus the loop queue.
type Bus struct {
	table [models.NumKinds][]subscriber

	mu      sync.Mutex
	queue   []task
	wake    chan struct{}
	running bool
	sealed  bool
}

// New creates an empty bus
func New() *Bus {
	return &Bus{
		wake: make(chan struct{}, 1),
	}
}

// Subscribe registers h for kind under name. Insertion order is dispatch order.
func (b *Bus) Subscribe(kind models.Kind, name string, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, int(kind))
	}
	if h == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return ErrRunning
	}
	for _, s := range b.table[kind] {
		if s.name == name {
			return fmt.Errorf("%w: %s on %s", ErrDuplicate, name, kind)
		}
	}
	b.table[kind] = append(b.table[kind], subscriber{name: name, handler: h})
	return nil
}

// Subscribers returns the subscriber names for kind in dispatch order
func (b *Bus) Subscribers(kind models.Kind) []string {
	if !kind.Valid() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.table[kind]))
	for _, s := range b.table[kind] {
		names = append(names, s.name)
	}
	return names
}

// Publish enqueues ev for dispatch on the loop. It never blocks.
func (b *Bus) Publish(ev models.Event) {
	if !ev.Kind.Valid() {
		log.Warn().Int("kind", int(ev.Kind)).Msg("Dropping event with invalid kind")
		return
	}
	metrics.IncEvent(ev.Kind.String())
	b.enqueue(task{ev: &ev})
}

// Post enqueues fn to run on the loop.
func (b *Bus) Post(fn func()) {
	if fn == nil {
		return
	}
	b.enqueue(task{fn: fn})
}

// After runs fn on the loop once d has elapsed.
func (b *Bus) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { b.Post(fn) })
}

// Replay re-invokes h with ev and replay=true on the loop after d.
func (b *Bus) Replay(d time.Duration, ev models.Event, h Handler) {
	b.After(d, func() { h(ev, true) })
}

func (b *Bus) enqueue(t task) {
	b.mu.Lock()
	b.queue = append(b.queue, t)
	depth := len(b.queue)
	b.mu.Unlock()

	metrics.SetQueueDepth(depth)

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) next() (task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return task{}, false
	}
	t := b.queue[0]
	b.queue[0] = task{}
	b.queue = b.queue[1:]
	return t, true
}

// Run is the event loop. It seals the registry and processes tasks in
// FIFO order until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyLooped
	}
	b.running = true
	b.sealed = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	log.Debug().Msg("Event loop started")

	for {
		b.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.wake:
		}
	}
}

// RunPending executes every queued task, including tasks queued while
// draining, and returns how many ran. Tests and shutdown use it directly.
func (b *Bus) RunPending() int {
	n := 0
	for {
		t, ok := b.next()
		if !ok {
			metrics.SetQueueDepth(0)
			return n
		}
		b.execute(t)
		n++
	}
}

func (b *Bus) execute(t task) {
	if t.fn != nil {
		b.guard("task", t.fn)
		return
	}

	ev := *t.ev
	// the table is immutable once sealed; before that only tests drain
	b.mu.Lock()
	subs := b.table[ev.Kind]
	b.mu.Unlock()

	for _, s := range subs {
		h := s.handler
		b.guard(s.name, func() { h(ev, false) })
	}
}

func (b *Bus) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("subscriber", name).
				Interface("panic", r).
				Msg("Recovered panic on event loop")
		}
	}()
	fn()
}
