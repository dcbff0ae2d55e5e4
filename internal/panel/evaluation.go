package panel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/youmna-rabie/aegis/internal/agent"
	"github.com/youmna-rabie/aegis/internal/bus"
	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/idgen"
	"github.com/youmna-rabie/aegis/internal/stream"
	"github.com/youmna-rabie/aegis/internal/types"
)

const (
	DefaultEvaluationTimeout = 30 * time.Second
	DefaultDebateInterval    = 1500 * time.Millisecond

	debateCapacity = 16
)

var ErrNoDisaster = errors.New("no disaster zone selected")

// EvaluationOptions configures an Evaluation panel.
type EvaluationOptions struct {
	Bus     *bus.Bus
	Client  agent.Client
	Clock   clock.Clock
	IDs     *idgen.Sequence
	Timeout time.Duration
	// DebateInterval paces the replay of the debate transcript.
	DebateInterval time.Duration
	DebateJitter   time.Duration
	Logger         *slog.Logger
	// OnResult runs outside the panel lock when the current request's
	// evaluation returns, whether processed or declined.
	OnResult func(types.EvaluationResult)
}

// EvaluationState is the panel's view of the latest evaluation.
type EvaluationState struct {
	Pending   bool                    `json:"pending"`
	Result    *types.EvaluationResult `json:"result,omitempty"`
	LastError *string                 `json:"last_error,omitempty"`
	Debate    []types.StreamEvent     `json:"debate"`
}

// Evaluation sends each new request to the agent swarm, replays the debate
// transcript line by line and announces the verdict on the bus once the
// replay ends.
//
// Published messages: evaluation-result with an empty recommendation as soon
// as a request arrives, evaluation-result with the verdict after the debate,
// and debate-complete for processed requests.
type Evaluation struct {
	bus      *bus.Bus
	client   agent.Client
	clock    clock.Clock
	ids      *idgen.Sequence
	timeout  time.Duration
	interval time.Duration
	jitter   time.Duration
	logger   *slog.Logger
	onResult func(types.EvaluationResult)
	unsub    bus.Unsubscribe
	wg       sync.WaitGroup

	mu      sync.Mutex
	session types.SessionState
	round   uint64
	cancel  context.CancelFunc
	pending bool
	result  *types.EvaluationResult
	lastErr *string
	debate  *stream.Engine
	closed  bool
}

// NewEvaluation subscribes the panel to new-request.
func NewEvaluation(opts EvaluationOptions) *Evaluation {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.IDs == nil {
		opts.IDs = idgen.NewSequence()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEvaluationTimeout
	}
	if opts.DebateInterval <= 0 {
		opts.DebateInterval = DefaultDebateInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Evaluation{
		bus:      opts.Bus,
		client:   opts.Client,
		clock:    opts.Clock,
		ids:      opts.IDs,
		timeout:  opts.Timeout,
		interval: opts.DebateInterval,
		jitter:   opts.DebateJitter,
		logger:   opts.Logger.With("panel", "evaluation"),
		onResult: opts.OnResult,
	}
	e.unsub = opts.Bus.Subscribe(types.TopicNewRequest, bus.Handle(e.onNewRequest))
	return e
}

// SetSession provides the location and disaster the next request is
// evaluated against.
func (e *Evaluation) SetSession(s types.SessionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s.Clone()
}

func (e *Evaluation) onNewRequest(m types.NewRequest) {
	empty := ""
	desc := m.Description
	e.bus.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{
		Description:       &desc,
		AidRecommendation: &empty,
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.debate != nil {
		e.debate.Stop()
		e.debate = nil
	}
	e.round++
	round := e.round
	e.pending = true
	e.result = nil
	e.lastErr = nil

	if e.session.Disaster == nil {
		e.pending = false
		msg := ErrNoDisaster.Error()
		e.lastErr = &msg
		e.mu.Unlock()
		e.logger.Warn("evaluation skipped", "error", ErrNoDisaster)
		return
	}
	req := types.AidRequest{
		DisasterID:  e.session.Disaster.ID,
		Description: m.Description,
	}
	if loc := e.session.UserLocation; loc != nil {
		req.Lat, req.Lng = loc.Lat, loc.Lng
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer cancel()
		res, err := e.client.Evaluate(ctx, req)
		e.complete(round, res, err)
	}()
}

func (e *Evaluation) complete(round uint64, res types.EvaluationResult, err error) {
	e.mu.Lock()
	if e.closed || round != e.round {
		e.mu.Unlock()
		return
	}
	e.pending = false
	e.cancel = nil

	if err != nil {
		msg := err.Error()
		e.lastErr = &msg
		e.mu.Unlock()
		e.logger.Warn("evaluation failed", "round", round, "error", err)
		return
	}
	e.result = &res

	if res.Status != types.EvaluationProcessed {
		e.mu.Unlock()
		e.logger.Info("evaluation declined", "round", round, "reason", res.Reason)
		e.report(res)
		reason := res.Reason
		e.bus.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{AidRecommendation: &reason})
		return
	}

	script := make([]types.ScriptStep, len(res.Debate))
	for i, line := range res.Debate {
		script[i] = types.ScriptStep{Text: line, Category: types.CategoryInfo}
	}
	engine, err := stream.New(stream.Options{
		Name:       "debate",
		Script:     script,
		Capacity:   max(len(script), debateCapacity),
		Interval:   e.interval,
		Jitter:     e.jitter,
		Clock:      e.clock,
		IDs:        e.ids,
		Logger:     e.logger,
		OnComplete: func(uint64) { e.finish(round) },
	})
	if err != nil {
		e.mu.Unlock()
		e.logger.Error("debate replay not started", "error", err)
		return
	}
	e.debate = engine
	e.mu.Unlock()

	e.report(res)

	// Activate may complete synchronously and call finish.
	engine.Activate()
}

func (e *Evaluation) report(res types.EvaluationResult) {
	if e.onResult != nil {
		e.onResult(res)
	}
}

// finish runs when the debate replay of round has ended.
func (e *Evaluation) finish(round uint64) {
	e.mu.Lock()
	if e.closed || round != e.round || e.result == nil {
		e.mu.Unlock()
		return
	}
	verdict := e.result.FinalVerdict
	e.mu.Unlock()

	e.logger.Info("debate complete", "round", round)
	e.bus.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{AidRecommendation: &verdict})
	e.bus.Publish(types.TopicDebateComplete, types.DebateComplete{})
}

// State returns the latest evaluation.
func (e *Evaluation) State() EvaluationState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EvaluationState{Pending: e.pending, Debate: []types.StreamEvent{}}
	if e.result != nil {
		r := *e.result
		r.Debate = append([]string(nil), e.result.Debate...)
		st.Result = &r
	}
	if e.lastErr != nil {
		msg := *e.lastErr
		st.LastError = &msg
	}
	if e.debate != nil {
		st.Debate = e.debate.Events()
	}
	return st
}

// Wait blocks until no evaluation call is in flight.
func (e *Evaluation) Wait() { e.wg.Wait() }

// Close unsubscribes, cancels any in-flight evaluation and waits for it.
func (e *Evaluation) Close() {
	e.unsub()

	e.mu.Lock()
	e.closed = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.debate != nil {
		e.debate.Stop()
	}
	e.mu.Unlock()

	e.wg.Wait()
}
