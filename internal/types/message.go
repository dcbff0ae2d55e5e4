package types

// Topic names a category of cross-component message on the bus.
type Topic string

const (
	TopicDroneETA         Topic = "drone-eta"
	TopicDebateComplete   Topic = "debate-complete"
	TopicEvaluationResult Topic = "evaluation-result"
	TopicNewRequest       Topic = "new-request"
)

// DroneETA is published by the drone stream when a step carries an ETA.
// Generation identifies the playback cycle that produced it.
type DroneETA struct {
	ETA        int    `json:"eta"`
	Generation uint64 `json:"generation"`
}

// DebateComplete marks the end of the agent swarm debate.
type DebateComplete struct{}

// EvaluationUpdate carries partial or final evaluation output. Nil fields
// were not part of the update.
type EvaluationUpdate struct {
	Description       *string `json:"description,omitempty"`
	AidRecommendation *string `json:"aid_recommendation,omitempty"`
}

// NewRequest is published when the user submits a description of their emergency.
type NewRequest struct {
	Description string `json:"description"`
}
