// Package app wires the dashboard components into one runtime: the stage
// machine, the orchestrator, the panels with their stream engines, the
// request poller and, when enabled, the in-process backend simulator.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/youmna-rabie/aegis/internal/agent"
	"github.com/youmna-rabie/aegis/internal/api"
	"github.com/youmna-rabie/aegis/internal/bus"
	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/config"
	"github.com/youmna-rabie/aegis/internal/dashboard"
	"github.com/youmna-rabie/aegis/internal/idgen"
	"github.com/youmna-rabie/aegis/internal/ledger"
	"github.com/youmna-rabie/aegis/internal/panel"
	"github.com/youmna-rabie/aegis/internal/poller"
	"github.com/youmna-rabie/aegis/internal/script"
	"github.com/youmna-rabie/aegis/internal/stage"
	"github.com/youmna-rabie/aegis/internal/stream"
	"github.com/youmna-rabie/aegis/internal/types"
)

// requestCostUSD is the cost the simulated ledger assigns on approval.
const requestCostUSD = 150

var ErrUnknownStream = errors.New("unknown stream")

// Options configures an App. Fetcher and Evaluator default to an HTTP
// client for cfg.API; Clock defaults to the wall clock.
type Options struct {
	Config    *config.Config
	Catalog   *script.Catalog
	Clock     clock.Clock
	Logger    *slog.Logger
	Fetcher   poller.Fetcher
	Evaluator agent.Client
}

// App owns every long-lived component. Stage transitions and their side
// effects are serialized.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	bus          *bus.Bus
	ids          *idgen.Sequence
	stage        *stage.Machine
	orchestrator *dashboard.Orchestrator
	poller       *poller.Poller
	drone        *panel.Drone
	verification *panel.Verification
	activity     *panel.Activity
	evaluation   *panel.Evaluation
	engines      map[string]*stream.Engine

	// Simulator; nil when disabled.
	ledger *ledger.Ledger
	swarm  *agent.Swarm

	mu sync.Mutex
}

// New builds an App. Nothing is scheduled until the user reaches the
// dashboard.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Catalog == nil {
		cat, err := script.Load(cfg.Scripts.Path)
		if err != nil {
			return nil, fmt.Errorf("loading scripts: %w", err)
		}
		opts.Catalog = cat
	}

	a := &App{
		cfg:     cfg,
		logger:  opts.Logger,
		bus:     bus.New(opts.Logger),
		ids:     idgen.NewSequence(),
		engines: make(map[string]*stream.Engine),
	}

	if cfg.Simulator.On() {
		debate, err := opts.Catalog.Get(script.Debate)
		if err != nil {
			return nil, err
		}
		a.ledger = ledger.New(opts.Clock, cfg.Simulator.StepDelay, opts.Logger)
		a.swarm = &agent.Swarm{Logger: opts.Logger.With("component", "swarm"), Debate: debate}
	}

	if opts.Fetcher == nil || opts.Evaluator == nil {
		client, err := api.NewClient(api.Options{
			BaseURL:   cfg.API.BaseURL,
			Timeout:   cfg.API.Timeout,
			RateLimit: rate.Limit(cfg.API.RateLimit),
			Burst:     cfg.API.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("creating api client: %w", err)
		}
		if opts.Fetcher == nil {
			opts.Fetcher = client
		}
		if opts.Evaluator == nil {
			opts.Evaluator = client
		}
	}

	streams := []struct {
		name string
		cfg  config.StreamConfig
		bus  *bus.Bus
	}{
		{script.Drone, cfg.Streams.Drone, a.bus},
		{script.Verification, cfg.Streams.Verification, nil},
		{script.Activity, cfg.Streams.Activity, nil},
	}
	for _, s := range streams {
		steps, err := opts.Catalog.Get(s.name)
		if err != nil {
			return nil, err
		}
		e, err := stream.New(stream.Options{
			Name:     s.name,
			Script:   steps,
			Capacity: s.cfg.Capacity,
			Interval: s.cfg.Interval,
			Jitter:   s.cfg.Jitter,
			Clock:    opts.Clock,
			IDs:      a.ids,
			Bus:      s.bus,
			Logger:   opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating %s stream: %w", s.name, err)
		}
		a.engines[s.name] = e
	}

	a.drone = panel.NewDrone(a.engines[script.Drone], opts.Logger)
	a.activity = panel.NewActivity(a.engines[script.Activity])
	a.verification = panel.NewVerification(panel.VerificationOptions{
		Engine:   a.engines[script.Verification],
		Clock:    opts.Clock,
		Interval: cfg.Streams.VerificationProgress,
		Logger:   opts.Logger,
	})
	a.evaluation = panel.NewEvaluation(panel.EvaluationOptions{
		Bus:            a.bus,
		Client:         opts.Evaluator,
		Clock:          opts.Clock,
		IDs:            a.ids,
		Timeout:        cfg.API.EvaluationTimeout,
		DebateInterval: cfg.Streams.Debate.Interval,
		DebateJitter:   cfg.Streams.Debate.Jitter,
		Logger:         opts.Logger,
		OnResult:       a.recordEvaluation,
	})
	a.orchestrator = dashboard.New(dashboard.Options{
		Bus:    a.bus,
		Drone:  a.drone,
		Logger: opts.Logger,
	})
	a.poller = poller.New(poller.Options{
		Fetcher:      opts.Fetcher,
		Clock:        opts.Clock,
		Interval:     cfg.Poller.Interval,
		FetchTimeout: cfg.Poller.FetchTimeout,
		Logger:       opts.Logger,
		OnChange: func(st types.RequestStatus) {
			opts.Logger.Info("request status", "request_id", st.RequestID, "status", st.Status)
		},
	})
	a.stage = stage.New(opts.Logger, nil)

	return a, nil
}

// RequestAssistance moves from the safety check to the intake form. When
// disaster is nil and the simulator is on, the closest disaster zone
// containing loc is used.
func (a *App) RequestAssistance(loc types.UserLocation, disaster *types.Disaster) (stage.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if disaster == nil && a.swarm != nil {
		disaster = a.swarm.Nearby(loc)
	}
	return a.stage.RequestAssistance(loc, disaster)
}

// SubmitResult is the outcome of a submitted request.
type SubmitResult struct {
	stage.Snapshot
	// RequestID is the simulated ledger request being tracked, if any.
	RequestID *int64 `json:"request_id,omitempty"`
}

// Submit moves to the dashboard, starts the ambient panels and announces the
// request on the bus. result is an evaluation the caller already holds; nil
// leaves it to the evaluation panel, which records its answer in the session.
func (a *App) Submit(message string, result *types.EvaluationResult) (SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.stage.Submit(message, result)
	if err != nil {
		return SubmitResult{Snapshot: snap}, err
	}
	res := SubmitResult{Snapshot: snap}

	a.orchestrator.SetSession(snap.Session)
	a.evaluation.SetSession(snap.Session)
	a.activity.Start()
	a.verification.Start()

	if a.ledger != nil {
		id := a.ledger.Submit(message, requestCostUSD).RequestID
		a.poller.Start(&id)
		res.RequestID = &id
	}

	a.bus.Publish(types.TopicNewRequest, types.NewRequest{Description: message})
	return res, nil
}

// recordEvaluation stores the evaluation panel's answer in the session and
// hands the updated session to the orchestrator.
func (a *App) recordEvaluation(res types.EvaluationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.stage.RecordEvaluation(res)
	a.orchestrator.SetSession(snap.Session)
}

// Back returns to the previous stage.
func (a *App) Back() (stage.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage.Back()
}

// Track points the poller at requestID; nil stops polling and clears the
// status.
func (a *App) Track(requestID *int64) {
	a.poller.Start(requestID)
}

// View is everything the dashboard shows.
type View struct {
	Stage      stage.Stage           `json:"stage"`
	Session    types.SessionState    `json:"session"`
	Dashboard  dashboard.Snapshot    `json:"dashboard"`
	Request    poller.State          `json:"request"`
	Evaluation panel.EvaluationState `json:"evaluation"`
	Drone      stream.State          `json:"drone"`
	Verified   int                   `json:"verified_captures"`

	// BusSubscribers counts live subscriptions per topic.
	BusSubscribers map[types.Topic]int `json:"bus_subscribers"`
}

var topics = []types.Topic{
	types.TopicDroneETA,
	types.TopicDebateComplete,
	types.TopicEvaluationResult,
	types.TopicNewRequest,
}

// View returns a snapshot of the dashboard.
func (a *App) View() View {
	snap := a.stage.Snapshot()
	return View{
		Stage:      snap.Stage,
		Session:    snap.Session,
		Dashboard:  a.orchestrator.Snapshot(),
		Request:    a.poller.State(),
		Evaluation: a.evaluation.State(),
		Drone:      a.drone.Engine().State(),
		Verified:   a.verification.Verified(),

		BusSubscribers: a.subscribers(),
	}
}

func (a *App) subscribers() map[types.Topic]int {
	out := make(map[types.Topic]int, len(topics))
	for _, t := range topics {
		out[t] = a.bus.Subscribers(t)
	}
	return out
}

// StreamNames lists the scripted streams in sorted order.
func (a *App) StreamNames() []string {
	names := make([]string, 0, len(a.engines))
	for name := range a.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stream returns the named engine.
func (a *App) Stream(name string) (*stream.Engine, error) {
	e, ok := a.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	return e, nil
}

// Verification returns the verification panel.
func (a *App) Verification() *panel.Verification { return a.verification }

// Activity returns the activity panel.
func (a *App) Activity() *panel.Activity { return a.activity }

// Ledger returns the simulated ledger, or nil when the simulator is off.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Swarm returns the simulated agent swarm, or nil when the simulator is off.
func (a *App) Swarm() *agent.Swarm { return a.swarm }

// Close stops every timer and worker. The App is unusable afterwards.
func (a *App) Close() {
	a.poller.Stop()
	a.evaluation.Close()
	a.orchestrator.Close()
	a.verification.Stop()
	a.activity.Stop()
	a.drone.Stop()
	a.logger.Info("dashboard stopped")
}
