// Package stream replays fixed scripts of timed steps into bounded buffers.
//
// An Engine emits its first step as soon as it is activated and the rest on
// a jittered cadence until the script is exhausted. Every scheduled callback
// is tagged with the generation it was scheduled under; Reset moves the
// engine to a newer generation, so callbacks from older generations find a
// mismatch when they fire and do nothing.
package stream

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/youmna-rabie/aegis/internal/bus"
	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/event"
	"github.com/youmna-rabie/aegis/internal/idgen"
	"github.com/youmna-rabie/aegis/internal/metrics"
	"github.com/youmna-rabie/aegis/internal/types"
)

// Options configures an Engine.
type Options struct {
	Name     string
	Script   []types.ScriptStep
	Capacity int
	// Interval is the fixed part of the delay between emissions; a uniform
	// random delay in [0, Jitter) is added to each one.
	Interval time.Duration
	Jitter   time.Duration

	// Store buffers emitted events; nil means an event.MemoryStore of
	// Capacity.
	Store event.Store

	Clock  clock.Clock
	IDs    *idgen.Sequence
	Bus    *bus.Bus // receives drone-eta for steps with an ETA; may be nil
	Logger *slog.Logger

	// RandN returns a value in [0, n). Defaults to math/rand/v2.
	RandN func(n int64) int64
	// OnComplete runs once per generation after the last step is emitted,
	// outside the engine lock.
	OnComplete func(generation uint64)
}

var ErrNoClock = errors.New("stream: clock is required")

// Engine is a resettable, idempotently activated script player.
type Engine struct {
	name       string
	script     []types.ScriptStep
	interval   time.Duration
	jitter     time.Duration
	clock      clock.Clock
	ids        *idgen.Sequence
	bus        *bus.Bus
	logger     *slog.Logger
	randN      func(n int64) int64
	onComplete func(uint64)
	store      event.Store

	mu         sync.Mutex
	generation uint64
	armed      bool
	stopped    bool
	next       int
	timer      *clock.Timer
}

// New builds an Engine in the disarmed state at generation 0.
func New(opts Options) (*Engine, error) {
	if opts.Clock == nil {
		return nil, ErrNoClock
	}
	store := opts.Store
	if store == nil {
		mem, err := event.NewMemoryStore(opts.Capacity)
		if err != nil {
			return nil, err
		}
		store = mem
	}
	if opts.Name == "" {
		opts.Name = "stream"
	}
	if opts.IDs == nil {
		opts.IDs = idgen.NewSequence()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RandN == nil {
		opts.RandN = rand.Int64N
	}

	return &Engine{
		name:       opts.Name,
		script:     append([]types.ScriptStep(nil), opts.Script...),
		interval:   opts.Interval,
		jitter:     opts.Jitter,
		clock:      opts.Clock,
		ids:        opts.IDs,
		bus:        opts.Bus,
		logger:     opts.Logger.With("stream", opts.Name),
		randN:      opts.RandN,
		onComplete: opts.OnComplete,
		store:      store,
	}, nil
}

// Name returns the stream name.
func (e *Engine) Name() string { return e.name }

// Activate starts playback for the current generation. It emits the first
// step immediately and reports whether playback started; a second call in
// the same generation is a no-op.
func (e *Engine) Activate() bool {
	e.mu.Lock()
	if e.stopped || e.armed {
		e.mu.Unlock()
		return false
	}
	e.armed = true
	gen := e.generation
	e.logger.Debug("stream activated", "generation", gen, "steps", len(e.script))

	done := e.advanceLocked(gen)
	e.mu.Unlock()

	if done {
		e.complete(gen)
	}
	return true
}

// Reset clears the buffer, disarms the engine and moves it to generation.
// Pending callbacks of earlier generations become inert. A generation that is
// not newer than the current one is ignored, so redelivering the same reset
// token does not restart playback.
func (e *Engine) Reset(generation uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || generation <= e.generation {
		return false
	}
	e.generation = generation
	e.armed = false
	e.next = 0
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.store.Clear()
	metrics.IncStreamReset(e.name)
	e.logger.Debug("stream reset", "generation", generation)
	return true
}

// Stop tears the engine down. Pending callbacks become inert and later
// Activate or Reset calls are ignored. The buffer stays readable.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// tick is the timer callback for generation gen.
func (e *Engine) tick(gen uint64) {
	e.mu.Lock()
	if e.stopped || !e.armed || gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	done := e.advanceLocked(gen)
	e.mu.Unlock()

	if done {
		e.complete(gen)
	}
}

// advanceLocked emits the next step and schedules the one after it. It
// reports whether this call exhausted the script.
func (e *Engine) advanceLocked(gen uint64) bool {
	if e.next >= len(e.script) {
		return e.next == 0 // empty script completes on activation
	}

	idx := e.next
	step := e.script[idx]
	e.next++

	id, seq := e.ids.NextID(e.name)
	ev := types.StreamEvent{
		ID:         id,
		Seq:        seq,
		Stream:     e.name,
		Generation: gen,
		Index:      idx,
		Step:       step,
		EmittedAt:  e.clock.Now(),
	}
	if err := e.store.Save(ev); err != nil {
		// Ids come from a process-wide sequence; a collision is a wiring bug.
		e.logger.Error("stream event not buffered", "id", id, "error", err)
	}
	metrics.IncStreamEmitted(e.name)

	// Published under the engine lock so no ETA of this generation can
	// follow a Reset that has already returned.
	if step.ETAMinutes != nil && e.bus != nil {
		e.bus.Publish(types.TopicDroneETA, types.DroneETA{ETA: *step.ETAMinutes, Generation: gen})
	}

	if e.next >= len(e.script) {
		e.logger.Debug("stream exhausted", "generation", gen, "emitted", e.next)
		return true
	}

	e.timer = e.clock.AfterFunc(e.delay(), func() { e.tick(gen) })
	return false
}

func (e *Engine) delay() time.Duration {
	d := e.interval
	if e.jitter > 0 {
		d += time.Duration(e.randN(int64(e.jitter)))
	}
	return d
}

func (e *Engine) complete(gen uint64) {
	if e.onComplete != nil {
		e.onComplete(gen)
	}
}

// Events returns the buffered events, oldest-first.
func (e *Engine) Events() []types.StreamEvent {
	return e.store.Snapshot()
}

// Event returns a buffered event by id. Evicted and reset events are
// reported as event.ErrNotFound.
func (e *Engine) Event(id string) (types.StreamEvent, error) {
	return e.store.Get(id)
}

// Recent returns up to limit buffered events, newest-first.
func (e *Engine) Recent(limit int) []types.StreamEvent {
	evs, _ := e.store.List(limit, 0)
	return evs
}

// State describes an engine for diagnostics and the HTTP API.
type State struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	Armed      bool   `json:"armed"`
	Done       bool   `json:"done"`
	Stopped    bool   `json:"stopped"`
	Emitted    int    `json:"emitted"`
	Steps      int    `json:"steps"`
	Buffered   int    `json:"buffered"`
}

// State returns a consistent view of the engine's progress.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Name:       e.name,
		Generation: e.generation,
		Armed:      e.armed,
		Done:       e.armed && e.next >= len(e.script),
		Stopped:    e.stopped,
		Emitted:    e.next,
		Steps:      len(e.script),
		Buffered:   e.store.Count(),
	}
}
