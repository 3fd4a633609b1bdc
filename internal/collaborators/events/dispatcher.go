package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/id"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	defaultBuffer  = 256
	deliverTimeout = 5 * time.Second
)

// Sink stores or forwards events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher implements session.Observer. Events are queued and delivered
// to every sink by Run; when the queue is full new events are dropped so a
// slow sink never stalls a chat turn.
type Dispatcher struct {
	sinks []Sink
	queue chan Event
	now   func() time.Time
	log   *zap.Logger

	dropped atomic.Int64
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBuffer sets the queue length.
func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDispatcher creates a dispatcher over sinks. Nil sinks are skipped.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue: make(chan Event, defaultBuffer),
		now:   time.Now,
		log:   zap.NewNop(),
		done:  make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SessionStarted queues a flow.started event.
func (d *Dispatcher) SessionStarted(s *types.Session) {
	d.enqueue(FromSession(KindStarted, s, d.now()))
}

// SessionFinished queues a flow.completed or flow.cancelled event.
func (d *Dispatcher) SessionFinished(s *types.Session) {
	d.enqueue(FromSession(finishedKind(s), s, d.now()))
}

// SessionsSwept queues a sessions.swept event when anything was removed.
func (d *Dispatcher) SessionsSwept(removed int) {
	if removed == 0 {
		return
	}
	d.enqueue(Event{ID: id.NewEventID().String(), Kind: KindSwept, Removed: removed, At: d.now().UTC()})
}

func (d *Dispatcher) enqueue(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn("event queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("thread_id", ev.ThreadID))
	}
}

// Dropped returns how many events were discarded on a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued events until Close is called and the queue drains,
// or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.deliver(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := s.Deliver(dctx, ev)
		cancel()
		if err != nil {
			d.log.Warn("event delivery failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(ev.Kind)),
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}
