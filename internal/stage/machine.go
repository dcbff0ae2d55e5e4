// Package stage implements the top-level safety → intake → dashboard flow
// and owns the session data collected along the way.
package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/youmna-rabie/aegis/internal/metrics"
	"github.com/youmna-rabie/aegis/internal/types"
)

// Stage is a screen of the application flow.
type Stage string

const (
	Safety    Stage = "safety"
	Intake    Stage = "intake"
	Dashboard Stage = "dashboard"
)

// Event triggers a stage transition.
type Event string

const (
	EventRequestAssistance Event = "request_assistance"
	EventSubmit            Event = "submit"
	EventBack              Event = "back"
)

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrEmptyMessage      = errors.New("message must not be empty")
)

type transition struct {
	From  Stage
	Event Event
	To    Stage
}

// The flow is cyclic by user action; there is no terminal stage.
var transitions = []transition{
	{From: Safety, Event: EventRequestAssistance, To: Intake},
	{From: Intake, Event: EventSubmit, To: Dashboard},
	{From: Dashboard, Event: EventBack, To: Intake},
	{From: Intake, Event: EventBack, To: Safety},
}

// Snapshot is the stage together with the session data at that moment.
type Snapshot struct {
	Stage   Stage              `json:"stage"`
	Session types.SessionState `json:"session"`
}

// Machine is safe for concurrent use. Session data is replaced wholesale on
// every transition and handed out as copies.
type Machine struct {
	mu      sync.Mutex
	stage   Stage
	session types.SessionState
	index   map[string]Stage

	logger   *slog.Logger
	onChange func(Snapshot)
}

// New returns a Machine in the Safety stage. onChange, if non-nil, runs after
// every successful transition outside the machine lock.
func New(logger *slog.Logger, onChange func(Snapshot)) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	idx := make(map[string]Stage, len(transitions))
	for _, t := range transitions {
		idx[key(t.From, t.Event)] = t.To
	}
	return &Machine{
		stage:    Safety,
		index:    idx,
		logger:   logger,
		onChange: onChange,
	}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Session returns a copy of the session data.
func (m *Machine) Session() types.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Snapshot returns the stage and session atomically.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Stage: m.stage, Session: m.session.Clone()}
}

// RequestAssistance moves Safety → Intake, recording where the user is and
// which disaster (if any) they are in.
func (m *Machine) RequestAssistance(loc types.UserLocation, disaster *types.Disaster) (Snapshot, error) {
	return m.fire(EventRequestAssistance, func(s *types.SessionState) {
		s.UserLocation = &loc
		if disaster != nil {
			d := *disaster
			s.Disaster = &d
		} else {
			s.Disaster = nil
		}
	})
}

// Submit moves Intake → Dashboard with the user's message and the
// evaluation result (nil while the evaluation is still pending).
func (m *Machine) Submit(message string, result *types.EvaluationResult) (Snapshot, error) {
	if strings.TrimSpace(message) == "" {
		return m.Snapshot(), ErrEmptyMessage
	}
	return m.fire(EventSubmit, func(s *types.SessionState) {
		s.UserMessage = message
		if result != nil {
			r := *result
			r.Debate = append([]string(nil), result.Debate...)
			s.EvaluationResult = &r
		} else {
			s.EvaluationResult = nil
		}
	})
}

// Back returns to the previous stage without discarding session data.
func (m *Machine) Back() (Snapshot, error) {
	return m.fire(EventBack, nil)
}

// RecordEvaluation stores the result of evaluating the current request
// without changing stage. Replaces the session like a transition does.
func (m *Machine) RecordEvaluation(result types.EvaluationResult) Snapshot {
	m.mu.Lock()
	next := m.session.Clone()
	r := result
	r.Debate = append([]string(nil), result.Debate...)
	next.EvaluationResult = &r
	m.session = next
	snap := Snapshot{Stage: m.stage, Session: next.Clone()}
	m.mu.Unlock()

	m.logger.Debug("evaluation recorded", "status", result.Status)
	return snap
}

func (m *Machine) fire(event Event, mutate func(*types.SessionState)) (Snapshot, error) {
	m.mu.Lock()
	from := m.stage
	to, ok := m.index[key(from, event)]
	if !ok {
		snap := Snapshot{Stage: from, Session: m.session.Clone()}
		m.mu.Unlock()
		return snap, fmt.Errorf("%w: stage=%s event=%s", ErrInvalidTransition, from, event)
	}

	next := m.session.Clone()
	if mutate != nil {
		mutate(&next)
	}
	m.session = next
	m.stage = to
	snap := Snapshot{Stage: to, Session: next.Clone()}
	onChange := m.onChange
	m.mu.Unlock()

	metrics.IncStageTransition(string(from), string(to))
	m.logger.Info("stage transition", "from", from, "to", to, "event", event)
	if onChange != nil {
		onChange(snap)
	}
	return snap, nil
}

func key(from Stage, event Event) string {
	return string(from) + "|" + string(event)
}
