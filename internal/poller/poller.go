// Package poller keeps the latest on-chain status of one aid request.
//
// A Poller fetches immediately when pointed at a request and then once per
// interval until it applies a terminal status. Termination is sticky: once
// set, no fetch is issued and no late response is applied for that request.
// Every fetch carries the target epoch and a sequence number; a completion
// is applied only when its epoch is current and its sequence is newer than
// the last applied one, so neither a previous request's response nor an
// out-of-order one can overwrite newer state.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/metrics"
	"github.com/youmna-rabie/aegis/internal/types"
)

// DefaultInterval is used when Options.Interval is zero.
const DefaultInterval = 5 * time.Second

// Fetcher retrieves the current status of a request.
type Fetcher interface {
	RequestStatus(ctx context.Context, requestID int64) (types.RequestStatus, error)
}

// Options configures a Poller.
type Options struct {
	Fetcher  Fetcher
	Clock    clock.Clock
	Interval time.Duration
	// FetchTimeout bounds a single fetch; zero means the interval.
	FetchTimeout time.Duration
	Logger       *slog.Logger
	// OnChange runs outside the poller lock after a new status is applied.
	OnChange func(types.RequestStatus)
}

// Poller tracks one request id at a time.
type Poller struct {
	fetcher      Fetcher
	clock        clock.Clock
	interval     time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	onChange     func(types.RequestStatus)

	mu       sync.Mutex
	target   *int64
	epoch    uint64
	issued   uint64 // fetch sequence within the epoch
	applied  uint64 // sequence of the last applied completion
	terminal bool
	latest   *types.RequestStatus
	lastErr  *string
	fetches  int
	timer    *clock.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
}

// New returns an idle Poller.
func New(opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = opts.Interval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		fetcher:      opts.Fetcher,
		clock:        opts.Clock,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		onChange:     opts.OnChange,
	}
}

// Start points the poller at requestID. A nil id clears all state and
// performs no network activity. Starting with the id already being polled
// is a no-op; a different id restarts polling from scratch.
func (p *Poller) Start(requestID *int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	if sameTarget(p.target, requestID) {
		return
	}

	p.resetLocked()
	if requestID == nil {
		p.logger.Debug("poller idle")
		return
	}

	id := *requestID
	p.target = &id
	p.ctx, p.cancel = context.WithCancel(context.Background())
	epoch := p.epoch
	p.logger.Info("polling request status", "request_id", id, "interval", p.interval)

	p.timer = p.clock.AfterFunc(0, func() { p.tick(epoch) })
}

// Stop cancels polling permanently. In-flight fetches are canceled and
// their completions discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.epoch++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// resetLocked invalidates everything tied to the current target.
func (p *Poller) resetLocked() {
	p.epoch++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.target = nil
	p.issued = 0
	p.applied = 0
	p.terminal = false
	p.latest = nil
	p.lastErr = nil
	p.fetches = 0
}

// tick issues one fetch for epoch and schedules the next tick before
// fetching, so a slow fetch does not delay the cadence.
func (p *Poller) tick(epoch uint64) {
	p.mu.Lock()
	if p.stopped || epoch != p.epoch || p.terminal || p.target == nil {
		p.mu.Unlock()
		return
	}
	id := *p.target
	p.issued++
	seq := p.issued
	p.fetches++
	ctx := p.ctx
	p.timer = p.clock.AfterFunc(p.interval, func() { p.tick(epoch) })
	p.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	st, err := p.fetcher.RequestStatus(fetchCtx, id)
	cancel()

	p.complete(epoch, seq, id, st, err)
}

func (p *Poller) complete(epoch, seq uint64, id int64, st types.RequestStatus, err error) {
	p.mu.Lock()
	if p.stopped || epoch != p.epoch || p.terminal || seq <= p.applied {
		p.mu.Unlock()
		metrics.IncPollFetch(metrics.PollResultDiscarded)
		p.logger.Debug("discarding stale status response", "request_id", id, "seq", seq)
		return
	}
	p.applied = seq

	if err != nil {
		msg := err.Error()
		p.lastErr = &msg
		p.mu.Unlock()
		metrics.IncPollFetch(metrics.PollResultError)
		p.logger.Warn("request status fetch failed", "request_id", id, "error", err)
		return
	}

	snapshot := st
	p.latest = &snapshot
	p.lastErr = nil
	if st.Status.Terminal() {
		p.terminal = true
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		metrics.IncPollTerminal()
		p.logger.Info("request reached terminal status", "request_id", id, "status", st.Status)
	}
	onChange := p.onChange
	p.mu.Unlock()

	metrics.IncPollFetch(metrics.PollResultOK)
	if onChange != nil {
		onChange(snapshot)
	}
}

// Latest returns the last good status, or nil.
func (p *Poller) Latest() *types.RequestStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil
	}
	st := *p.latest
	return &st
}

// LastError returns the most recent fetch error message, or nil after a
// successful fetch.
func (p *Poller) LastError() *string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastErr == nil {
		return nil
	}
	msg := *p.lastErr
	return &msg
}

// Terminal reports whether the current request reached a terminal status.
func (p *Poller) Terminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Fetches returns the number of fetches issued for the current request.
func (p *Poller) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// State is the externally visible poller state.
type State struct {
	RequestID *int64               `json:"request_id"`
	Latest    *types.RequestStatus `json:"latest"`
	LastError *string              `json:"last_error"`
	Terminal  bool                 `json:"terminal"`
	Fetches   int                  `json:"fetches"`
}

// State returns a consistent snapshot of everything the poller exposes.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := State{Terminal: p.terminal, Fetches: p.fetches}
	if p.target != nil {
		id := *p.target
		s.RequestID = &id
	}
	if p.latest != nil {
		st := *p.latest
		s.Latest = &st
	}
	if p.lastErr != nil {
		msg := *p.lastErr
		s.LastError = &msg
	}
	return s
}

func sameTarget(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
