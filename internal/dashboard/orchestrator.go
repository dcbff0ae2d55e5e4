// Package dashboard derives the header and banner flags of the dashboard
// from bus milestones and the session handed over by the stage machine.
package dashboard

import (
	"log/slog"
	"sync"

	"github.com/youmna-rabie/aegis/internal/bus"
	"github.com/youmna-rabie/aegis/internal/types"
)

// DroneController is the drone panel as seen from the orchestrator. Sync is
// called with the current activity flag and reset token every time either
// changes; implementations must tolerate repeated and out-of-order calls.
type DroneController interface {
	Sync(active bool, resetToken uint64)
}

// Options configures an Orchestrator.
type Options struct {
	Bus    *bus.Bus
	Drone  DroneController // may be nil
	Logger *slog.Logger
}

// Snapshot is the derived dashboard state.
type Snapshot struct {
	DebateComplete          bool               `json:"debate_complete"`
	DroneActive             bool               `json:"drone_active"`
	ResetToken              uint64             `json:"reset_token"`
	ETA                     *int               `json:"eta"`
	LatestMessage           string             `json:"latest_message"`
	LatestAidRecommendation string             `json:"latest_aid_recommendation"`
	Session                 types.SessionState `json:"session"`
}

// Orchestrator subscribes to the milestone topics for its whole lifetime;
// call Close to deregister.
type Orchestrator struct {
	drone  DroneController
	logger *slog.Logger

	mu                      sync.Mutex
	debateComplete          bool
	resetToken              uint64
	eta                     *int
	latestMessage           string
	latestAidRecommendation string
	session                 types.SessionState
	unsubs                  []bus.Unsubscribe
}

// New builds an Orchestrator and subscribes it to b.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Orchestrator{
		drone:  opts.Drone,
		logger: opts.Logger.With("component", "dashboard"),
	}
	if opts.Bus != nil {
		o.unsubs = []bus.Unsubscribe{
			opts.Bus.Subscribe(types.TopicDebateComplete, bus.Handle(o.onDebateComplete)),
			opts.Bus.Subscribe(types.TopicDroneETA, bus.Handle(o.onDroneETA)),
			opts.Bus.Subscribe(types.TopicEvaluationResult, bus.Handle(o.onEvaluationResult)),
			opts.Bus.Subscribe(types.TopicNewRequest, bus.Handle(o.onNewRequest)),
		}
	}
	return o
}

// SetSession replaces the session data shown in the header. The latest
// message falls back to the session's user message until the bus says
// otherwise.
func (o *Orchestrator) SetSession(s types.SessionState) {
	o.mu.Lock()
	o.session = s.Clone()
	if o.latestMessage == "" {
		o.latestMessage = s.UserMessage
	}
	active, token := o.debateComplete, o.resetToken
	o.mu.Unlock()

	o.syncDrone(active, token)
}

func (o *Orchestrator) onDebateComplete(types.DebateComplete) {
	o.mu.Lock()
	o.debateComplete = true
	o.resetToken++
	o.eta = nil
	token := o.resetToken
	o.mu.Unlock()

	o.logger.Info("debate complete", "reset_token", token)
	o.syncDrone(true, token)
}

func (o *Orchestrator) onDroneETA(m types.DroneETA) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.debateComplete || m.Generation < o.resetToken {
		o.logger.Debug("drone eta ignored", "eta", m.ETA, "generation", m.Generation, "reset_token", o.resetToken)
		return
	}
	eta := m.ETA
	o.eta = &eta
}

func (o *Orchestrator) onEvaluationResult(m types.EvaluationUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if m.Description != nil {
		o.latestMessage = *m.Description
	}
	if m.AidRecommendation != nil && *m.AidRecommendation != "" {
		o.latestAidRecommendation = *m.AidRecommendation
	}
}

func (o *Orchestrator) onNewRequest(m types.NewRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latestMessage = m.Description
}

// syncDrone must be called without o.mu held: the drone panel may emit a
// step synchronously, which publishes drone-eta back to this orchestrator.
func (o *Orchestrator) syncDrone(active bool, token uint64) {
	if o.drone != nil {
		o.drone.Sync(active, token)
	}
}

// Snapshot returns the derived flags. ETA is nil until the drone stream has
// published one after the latest debate completion.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		DebateComplete:          o.debateComplete,
		DroneActive:             o.debateComplete,
		ResetToken:              o.resetToken,
		LatestMessage:           o.latestMessage,
		LatestAidRecommendation: o.latestAidRecommendation,
		Session:                 o.session.Clone(),
	}
	if o.debateComplete && o.eta != nil {
		eta := *o.eta
		snap.ETA = &eta
	}
	return snap
}

// Close deregisters every subscription. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	unsubs := o.unsubs
	o.unsubs = nil
	o.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}
