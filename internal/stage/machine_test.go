package stage

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/youmna-rabie/aegis/internal/types"
)

func TestInitialStage(t *testing.T) {
	m := New(nil, nil)
	if got := m.Stage(); got != Safety {
		t.Errorf("Stage() = %q, want %q", got, Safety)
	}
	if diff := cmp.Diff(types.SessionState{}, m.Session()); diff != "" {
		t.Errorf("initial session not empty (-want +got):\n%s", diff)
	}
}

func TestForwardAndBackKeepsSession(t *testing.T) {
	m := New(nil, nil)

	if _, err := m.RequestAssistance(types.UserLocation{Lat: 1, Lng: 2}, nil); err != nil {
		t.Fatalf("RequestAssistance: %v", err)
	}
	snap, err := m.Submit("help", &types.EvaluationResult{Status: types.EvaluationProcessed})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.Stage != Dashboard {
		t.Fatalf("Stage = %q, want %q", snap.Stage, Dashboard)
	}

	want := types.SessionState{
		UserLocation:     &types.UserLocation{Lat: 1, Lng: 2},
		Disaster:         nil,
		UserMessage:      "help",
		EvaluationResult: &types.EvaluationResult{Status: types.EvaluationProcessed},
	}
	if diff := cmp.Diff(want, m.Session()); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	for _, wantStage := range []Stage{Intake, Safety} {
		snap, err := m.Back()
		if err != nil {
			t.Fatalf("Back: %v", err)
		}
		if snap.Stage != wantStage {
			t.Fatalf("Back → %q, want %q", snap.Stage, wantStage)
		}
	}
	if diff := cmp.Diff(want, m.Session()); diff != "" {
		t.Errorf("session lost by navigating back (-want +got):\n%s", diff)
	}
}

func TestReenterReplacesOnlyForwardPayload(t *testing.T) {
	m := New(nil, nil)
	disaster := &types.Disaster{ID: "d3", Name: "Oxford Flash Flood", Lat: 51.7534, Lon: -1.254, RadiusKM: 100}

	m.RequestAssistance(types.UserLocation{Lat: 51.75, Lng: -1.25}, disaster)
	m.Submit("flooding", nil)
	m.Back()

	snap, err := m.Submit("flooding, need evacuation", nil)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Session.UserMessage != "flooding, need evacuation" {
		t.Errorf("UserMessage = %q", snap.Session.UserMessage)
	}
	if snap.Session.Disaster == nil || snap.Session.Disaster.ID != "d3" {
		t.Errorf("Disaster = %+v, want d3 kept", snap.Session.Disaster)
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := New(nil, nil)

	if _, err := m.Back(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Back from Safety error = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Submit("help", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Submit from Safety error = %v, want ErrInvalidTransition", err)
	}

	m.RequestAssistance(types.UserLocation{}, nil)
	if _, err := m.RequestAssistance(types.UserLocation{}, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RequestAssistance from Intake error = %v, want ErrInvalidTransition", err)
	}
	if got := m.Stage(); got != Intake {
		t.Errorf("Stage after rejected transition = %q, want %q", got, Intake)
	}
}

func TestSubmitRejectsBlankMessage(t *testing.T) {
	m := New(nil, nil)
	m.RequestAssistance(types.UserLocation{}, nil)

	if _, err := m.Submit("   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Submit blank error = %v, want ErrEmptyMessage", err)
	}
	if got := m.Stage(); got != Intake {
		t.Errorf("Stage = %q, want %q", got, Intake)
	}
}

func TestSessionIsACopy(t *testing.T) {
	m := New(nil, nil)
	m.RequestAssistance(types.UserLocation{Lat: 1, Lng: 2}, nil)

	s := m.Session()
	s.UserLocation.Lat = 99

	if got := m.Session().UserLocation.Lat; got != 1 {
		t.Errorf("owner state mutated through copy: Lat = %v", got)
	}
}

func TestOnChange(t *testing.T) {
	var stages []Stage
	m := New(nil, func(s Snapshot) { stages = append(stages, s.Stage) })

	m.RequestAssistance(types.UserLocation{}, nil)
	m.Submit("help", nil)
	m.Back()
	m.Back()
	m.Back() // rejected, no callback

	if diff := cmp.Diff([]Stage{Intake, Dashboard, Intake, Safety}, stages); diff != "" {
		t.Errorf("onChange stages mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordEvaluationKeepsStage(t *testing.T) {
	var changes int
	m := New(nil, func(Snapshot) { changes++ })
	m.RequestAssistance(types.UserLocation{Lat: 1, Lng: 2}, nil)
	m.Submit("help", nil)
	changes = 0

	debate := []string{"Medic: go", "Arbiter: VALID"}
	snap := m.RecordEvaluation(types.EvaluationResult{Status: types.EvaluationProcessed, Debate: debate})
	debate[0] = "mutated"

	if snap.Stage != Dashboard || m.Stage() != Dashboard {
		t.Errorf("stage = %q, want %q", m.Stage(), Dashboard)
	}
	if changes != 0 {
		t.Errorf("OnChange fired %d times for a recorded evaluation", changes)
	}
	want := &types.EvaluationResult{Status: types.EvaluationProcessed, Debate: []string{"Medic: go", "Arbiter: VALID"}}
	if diff := cmp.Diff(want, m.Session().EvaluationResult); diff != "" {
		t.Errorf("evaluation_result mismatch (-want +got):\n%s", diff)
	}
	if m.Session().UserMessage != "help" {
		t.Errorf("UserMessage = %q, want help", m.Session().UserMessage)
	}
}
