package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker is probing, too many requests")
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings tunes a Breaker. Zero fields take the defaults noted.
type Settings struct {
	// FailureThreshold consecutive failures open the breaker. Default 5.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown time.Duration
	// Probes is the number of concurrent half-open calls allowed, and the
	// number of successes that close the breaker again. Default 1.
	Probes uint32
	// Healthy reports whether a non-nil error still shows the remote side
	// answering, like a validation error from the ERP. Such errors count as
	// successes.
	Healthy func(err error) bool
	// OnStateChange runs under the breaker lock and must not call back
	// into the breaker.
	OnStateChange func(name string, from, to State)
}

type outcome int

const (
	success outcome = iota
	failure
	neutral
)

// Breaker guards one remote dependency.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   uint32
	successes  uint32
	inflight   uint32
	openedAt   time.Time
}

// New returns a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	return &Breaker{name: name, settings: settings, now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving an open breaker whose cooldown
// has passed to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Failures returns the consecutive failures counted while closed.
func (b *Breaker) Failures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs fn if b admits the call and records its outcome. A call that
// ends because ctx was cancelled counts neither way.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (out T, err error) {
	gen, probe, err := b.admit()
	if err != nil {
		return out, err
	}
	defer func() {
		if p := recover(); p != nil {
			b.record(gen, probe, failure)
			panic(p)
		}
	}()
	out, err = fn(ctx)
	b.record(gen, probe, b.classify(ctx, err))
	return out, err
}

// Unavailable reports whether err came from the breaker refusing a call.
func Unavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

func (b *Breaker) classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return success
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return neutral
	case b.settings.Healthy != nil && b.settings.Healthy(err):
		return success
	default:
		return failure
	}
}

func (b *Breaker) admit() (gen uint64, probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	switch b.state {
	case StateOpen:
		return b.generation, false, ErrCircuitOpen
	case StateHalfOpen:
		if b.inflight >= b.settings.Probes {
			return b.generation, false, ErrTooManyRequests
		}
		b.inflight++
		return b.generation, true, nil
	}
	return b.generation, false, nil
}

func (b *Breaker) record(gen uint64, probe bool, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// The breaker moved on while the call ran; its outcome is stale.
	if gen != b.generation {
		return
	}
	if probe {
		b.inflight--
	}
	switch b.state {
	case StateClosed:
		switch o {
		case success:
			b.failures = 0
		case failure:
			b.failures++
			if b.failures >= b.settings.FailureThreshold {
				b.transition(StateOpen)
			}
		}
	case StateHalfOpen:
		switch o {
		case success:
			b.successes++
			if b.successes >= b.settings.Probes {
				b.transition(StateClosed)
			}
		case failure:
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.generation++
	b.failures, b.successes, b.inflight = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
