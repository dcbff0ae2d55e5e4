package types

// UserLocation is a WGS84 coordinate reported by the user's device.
type UserLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Disaster describes a known disaster zone.
type Disaster struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	RadiusKM   float64  `json:"radius"`
	DistanceKM *float64 `json:"distance_km,omitempty"`
}

// EvaluationStatus is the verdict class returned by the agent swarm.
type EvaluationStatus string

const (
	EvaluationProcessed EvaluationStatus = "PROCESSED"
	EvaluationDeclined  EvaluationStatus = "DECLINED"
)

// EvaluationResult is the agent swarm's answer to an aid request.
type EvaluationResult struct {
	Status       EvaluationStatus `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	DistanceKM   *float64         `json:"distance_km,omitempty"`
	Debate       []string         `json:"debate,omitempty"`
	FinalVerdict string           `json:"final_verdict,omitempty"`
}

// SessionState is the minimal data carried between stages. It is passed by
// value and replaced wholesale on each transition.
type SessionState struct {
	UserLocation     *UserLocation     `json:"user_location,omitempty"`
	Disaster         *Disaster         `json:"disaster"`
	UserMessage      string            `json:"user_message"`
	EvaluationResult *EvaluationResult `json:"evaluation_result,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate the owner's state.
func (s SessionState) Clone() SessionState {
	out := SessionState{UserMessage: s.UserMessage}
	if s.UserLocation != nil {
		loc := *s.UserLocation
		out.UserLocation = &loc
	}
	if s.Disaster != nil {
		d := *s.Disaster
		out.Disaster = &d
	}
	if s.EvaluationResult != nil {
		ev := *s.EvaluationResult
		ev.Debate = append([]string(nil), s.EvaluationResult.Debate...)
		out.EvaluationResult = &ev
	}
	return out
}

// AidRequest is submitted to the agent swarm for evaluation.
type AidRequest struct {
	DisasterID  string  `json:"disaster_id"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	AidType     string  `json:"aid_type,omitempty"`
}
