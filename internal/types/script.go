package types

import "time"

// StepCategory classifies a script step for display.
type StepCategory string

const (
	CategoryNav     StepCategory = "nav"
	CategoryPin     StepCategory = "pin"
	CategoryAlert   StepCategory = "alert"
	CategoryPackage StepCategory = "package"
	CategoryCheck   StepCategory = "check"
	CategoryInfo    StepCategory = "info"
	CategoryWarning StepCategory = "warning"
	CategorySuccess StepCategory = "success"
	CategoryError   StepCategory = "error"
	CategoryCapture StepCategory = "capturing"
)

// ScriptStep is one immutable entry of a fixed, ordered script.
type ScriptStep struct {
	Text     string       `json:"text" yaml:"text"`
	Category StepCategory `json:"category" yaml:"category"`
	// ETAMinutes is nil when the step carries no delivery estimate.
	ETAMinutes *int   `json:"eta_minutes,omitempty" yaml:"eta"`
	Agent      string `json:"agent,omitempty" yaml:"agent,omitempty"`
	DroneID    string `json:"drone_id,omitempty" yaml:"drone_id,omitempty"`
	Location   string `json:"location,omitempty" yaml:"location,omitempty"`
}

// StreamEvent is a materialized occurrence of a ScriptStep.
type StreamEvent struct {
	ID         string     `json:"id"`
	Seq        uint64     `json:"seq"`
	Stream     string     `json:"stream"`
	Generation uint64     `json:"generation"`
	Index      int        `json:"index"`
	Step       ScriptStep `json:"step"`
	EmittedAt  time.Time  `json:"emitted_at"`
}
