// Package events fans controller notifications out to any number of subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

type Kind string

const (
	KindProgress  Kind = "progress"  // Percent and Progress set; may be dropped for lagging subscribers
	KindState     Kind = "state"     // paused / resumed
	KindDocument  Kind = "document"  // Document set
	KindCompleted Kind = "completed" // terminal, Summary set
	KindAborted   Kind = "aborted"   // terminal, Summary set
	KindFailed    Kind = "failed"    // terminal, Error and Summary set
)

type Event struct {
	Kind     Kind                   `json:"type"`
	RunID    uuid.UUID              `json:"run_id"`
	Percent  int                    `json:"progress"`
	Progress entity.ProgressState   `json:"state"`
	Document *entity.DocumentResult `json:"document,omitempty"`
	Summary  *entity.Summary        `json:"summary,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Time     time.Time              `json:"timestamp"`
}

// Terminal reports whether e ends its stream.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindAborted || e.Kind == KindFailed
}

// Broadcaster delivers events to per-subscriber buffered channels without ever
// blocking the publisher. Progress events are dropped for a subscriber whose
// buffer is full; other events evict that subscriber's oldest pending event.
// The terminal event is always delivered and then every channel is closed.
type Broadcaster struct {
	buffer int
	logger *slog.Logger

	mu       sync.Mutex
	subs     map[int]chan Event
	nextID   int
	terminal *Event
}

func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{buffer: buffer, logger: logger, subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of future events and a function that cancels the
// subscription. Subscribing after the terminal event yields just that event.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.terminal != nil {
		ch <- *b.terminal
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish sends e to every subscriber. Events published after the terminal
// event are ignored.
func (b *Broadcaster) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal != nil {
		return
	}

	for id, ch := range b.subs {
		if e.Kind == KindProgress {
			select {
			case ch <- e:
			default:
			}
			continue
		}
		deliver(ch, e, func() {
			b.logger.Warn("subscriber lagging, dropped oldest event", "subscriber", id, "event", e.Kind)
		})
	}

	if e.Terminal() {
		b.terminal = &e
		for id, ch := range b.subs {
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Subscribers is the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// deliver pushes e, evicting the oldest buffered event until there is room.
// The caller holds the broadcaster lock, so nothing else sends on ch.
func deliver(ch chan Event, e Event, onEvict func()) {
	for {
		select {
		case ch <- e:
			return
		default:
		}
		select {
		case <-ch:
			onEvict()
		default:
		}
	}
}
