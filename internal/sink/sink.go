// Package sink fans committed ledger events out to external systems without
// putting network I/O on the ledger's write path.
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/logging"
)

// EventAlertsChanged is emitted outside the ledger when the set of alerts
// changed without a ledger write, e.g. a scheduled evaluation or a resolution.
const EventAlertsChanged ledger.EventKind = "alerts_changed"

// Sink receives events on the dispatcher goroutine.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e ledger.Event) error
	Close() error
}

// Async delivers events to its sinks from a single goroutine, in order,
// through a bounded queue. When the queue is full the event is dropped.
type Async struct {
	sinks   []Sink
	queue   chan ledger.Event
	timeout time.Duration
	log     *logrus.Entry

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

// NewAsync creates a dispatcher with a queue of size events. Each publish is
// bounded by timeout.
func NewAsync(size int, timeout time.Duration, sinks ...Sink) *Async {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{
		sinks:   sinks,
		queue:   make(chan ledger.Event, size),
		timeout: timeout,
		log:     logging.For("sink"),
		done:    make(chan struct{}),
	}
}

// Start runs the dispatcher until Close.
func (a *Async) Start(ctx context.Context) {
	go a.run(ctx)
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)
	for e := range a.queue {
		for _, s := range a.sinks {
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := s.Publish(pctx, e); err != nil {
				a.log.WithFields(logrus.Fields{"sink": s.Name(), "kind": e.Kind, "version": e.Version}).
					Warnf("publish failed: %v", err)
			}
			cancel()
		}
	}
}

// OnEvent enqueues e. It never blocks.
func (a *Async) OnEvent(e ledger.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		n := a.dropped.Add(1)
		a.log.Warnf("queue full, dropped %s event (version %d, %d dropped so far)", e.Kind, e.Version, n)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events, drains the queue and closes every sink.
// Start must have been called.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	var first error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
