package panel

import (
	"time"

	"github.com/youmna-rabie/aegis/internal/stream"
	"github.com/youmna-rabie/aegis/internal/types"
)

// ActivityItem is one line of the agent activity log.
type ActivityItem struct {
	ID        string             `json:"id"`
	Agent     string             `json:"agent"`
	Message   string             `json:"message"`
	Type      types.StepCategory `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// Activity is the agent activity log. It starts with the dashboard and is
// never reset.
type Activity struct {
	engine *stream.Engine
}

func NewActivity(engine *stream.Engine) *Activity {
	return &Activity{engine: engine}
}

// Start begins playback; later calls are no-ops.
func (a *Activity) Start() { a.engine.Activate() }

func (a *Activity) Stop() { a.engine.Stop() }

func (a *Activity) Engine() *stream.Engine { return a.engine }

// Items returns the log oldest-first.
func (a *Activity) Items() []ActivityItem {
	evs := a.engine.Events()
	items := make([]ActivityItem, len(evs))
	for i, ev := range evs {
		agent := ev.Step.Agent
		if agent == "" {
			agent = "SYSTEM"
		}
		items[i] = ActivityItem{
			ID:        ev.ID,
			Agent:     agent,
			Message:   ev.Step.Text,
			Type:      ev.Step.Category,
			Timestamp: ev.EmittedAt,
		}
	}
	return items
}
