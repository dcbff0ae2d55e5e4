package dashboard

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/youmna-rabie/aegis/internal/bus"
	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/idgen"
	"github.com/youmna-rabie/aegis/internal/panel"
	"github.com/youmna-rabie/aegis/internal/stream"
	"github.com/youmna-rabie/aegis/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type syncCall struct {
	Active bool
	Token  uint64
}

type fakeDrone struct {
	mu    sync.Mutex
	calls []syncCall
}

func (f *fakeDrone) Sync(active bool, token uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{active, token})
}

func (f *fakeDrone) Calls() []syncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncCall(nil), f.calls...)
}

func str(s string) *string { return &s }

func TestInitialSnapshot(t *testing.T) {
	o := New(Options{Bus: bus.New(nil)})
	defer o.Close()

	snap := o.Snapshot()
	if snap.DebateComplete || snap.DroneActive {
		t.Error("drone active before debate completed")
	}
	if snap.ETA != nil {
		t.Errorf("ETA = %v, want nil", *snap.ETA)
	}
}

func TestETAHiddenUntilDebateComplete(t *testing.T) {
	b := bus.New(nil)
	o := New(Options{Bus: b})
	defer o.Close()

	b.Publish(types.TopicDroneETA, types.DroneETA{ETA: 7})
	if snap := o.Snapshot(); snap.ETA != nil {
		t.Fatalf("ETA = %d before debate complete, want nil", *snap.ETA)
	}

	b.Publish(types.TopicDebateComplete, types.DebateComplete{})
	b.Publish(types.TopicDroneETA, types.DroneETA{ETA: 5, Generation: 1})

	snap := o.Snapshot()
	if !snap.DebateComplete || !snap.DroneActive {
		t.Error("debate complete did not activate the drone")
	}
	if snap.ETA == nil || *snap.ETA != 5 {
		t.Errorf("ETA = %v, want 5", snap.ETA)
	}
}

func TestDebateCompleteResetsDroneAndClearsETA(t *testing.T) {
	b := bus.New(nil)
	drone := &fakeDrone{}
	o := New(Options{Bus: b, Drone: drone})
	defer o.Close()

	b.Publish(types.TopicDebateComplete, types.DebateComplete{})
	b.Publish(types.TopicDroneETA, types.DroneETA{ETA: 4, Generation: 1})
	b.Publish(types.TopicDebateComplete, types.DebateComplete{})

	snap := o.Snapshot()
	if snap.ResetToken != 2 {
		t.Errorf("ResetToken = %d, want 2", snap.ResetToken)
	}
	if snap.ETA != nil {
		t.Errorf("ETA = %d after second debate, want cleared", *snap.ETA)
	}
	if !snap.DebateComplete {
		t.Error("DebateComplete flipped back")
	}

	// A late ETA from the previous cycle is ignored.
	b.Publish(types.TopicDroneETA, types.DroneETA{ETA: 2, Generation: 1})
	if snap := o.Snapshot(); snap.ETA != nil {
		t.Errorf("stale ETA applied: %d", *snap.ETA)
	}

	want := []syncCall{{true, 1}, {true, 2}}
	if diff := cmp.Diff(want, drone.Calls()); diff != "" {
		t.Errorf("Sync calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAidRecommendationNeverBlanked(t *testing.T) {
	b := bus.New(nil)
	o := New(Options{Bus: b})
	defer o.Close()

	b.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{AidRecommendation: str("Send water")})
	b.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{AidRecommendation: str("")})
	b.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{})

	if got := o.Snapshot().LatestAidRecommendation; got != "Send water" {
		t.Errorf("LatestAidRecommendation = %q, want Send water", got)
	}

	b.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{AidRecommendation: str("Send food")})
	if got := o.Snapshot().LatestAidRecommendation; got != "Send food" {
		t.Errorf("LatestAidRecommendation = %q, want Send food", got)
	}
}

func TestLatestMessage(t *testing.T) {
	b := bus.New(nil)
	o := New(Options{Bus: b})
	defer o.Close()

	o.SetSession(types.SessionState{UserMessage: "help"})
	if got := o.Snapshot().LatestMessage; got != "help" {
		t.Errorf("LatestMessage = %q, want session message", got)
	}

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "roof collapsed"})
	if got := o.Snapshot().LatestMessage; got != "roof collapsed" {
		t.Errorf("LatestMessage = %q after new-request", got)
	}

	b.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{Description: str("two injured")})
	if got := o.Snapshot().LatestMessage; got != "two injured" {
		t.Errorf("LatestMessage = %q after evaluation-result", got)
	}

	b.Publish(types.TopicEvaluationResult, types.EvaluationUpdate{AidRecommendation: str("x")})
	if got := o.Snapshot().LatestMessage; got != "two injured" {
		t.Errorf("LatestMessage = %q, want unchanged without description", got)
	}
}

func TestSetSessionSyncsDroneWithCurrentFlags(t *testing.T) {
	drone := &fakeDrone{}
	o := New(Options{Bus: bus.New(nil), Drone: drone})
	defer o.Close()

	o.SetSession(types.SessionState{UserMessage: "help"})

	if diff := cmp.Diff([]syncCall{{false, 0}}, drone.Calls()); diff != "" {
		t.Errorf("Sync calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b := bus.New(nil)
	o := New(Options{Bus: b})
	o.Close()
	o.Close()

	for _, topic := range []types.Topic{types.TopicDroneETA, types.TopicDebateComplete, types.TopicEvaluationResult, types.TopicNewRequest} {
		if got := b.Subscribers(topic); got != 0 {
			t.Errorf("Subscribers(%s) = %d, want 0", topic, got)
		}
	}

	b.Publish(types.TopicDebateComplete, types.DebateComplete{})
	if o.Snapshot().DebateComplete {
		t.Error("closed orchestrator still reacting")
	}
}

// The drone panel and its engine share the bus with the orchestrator, so a
// debate completion drives a full replay whose ETAs land back in the header.
func TestDroneCycleEndToEnd(t *testing.T) {
	eta := func(n int) *int { return &n }
	fc := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := bus.New(nil)

	engine, err := stream.New(stream.Options{
		Name: "drone",
		Script: []types.ScriptStep{
			{Text: "dispatched", ETAMinutes: eta(10)},
			{Text: "en route", ETAMinutes: eta(5)},
			{Text: "returning"},
		},
		Capacity: 30,
		Interval: 4 * time.Second,
		Clock:    fc,
		IDs:      idgen.NewSequence(),
		Bus:      b,
	})
	if err != nil {
		t.Fatal(err)
	}
	drone := panel.NewDrone(engine, nil)
	defer drone.Stop()

	o := New(Options{Bus: b, Drone: drone})
	defer o.Close()

	o.SetSession(types.SessionState{UserMessage: "help"})
	fc.Advance(time.Minute)
	if n := len(drone.Events()); n != 0 {
		t.Fatalf("drone emitted %d events before debate complete", n)
	}

	b.Publish(types.TopicDebateComplete, types.DebateComplete{})
	if snap := o.Snapshot(); snap.ETA == nil || *snap.ETA != 10 {
		t.Fatalf("ETA after dispatch = %v, want 10", snap.ETA)
	}

	fc.Advance(8 * time.Second)
	if snap := o.Snapshot(); snap.ETA == nil || *snap.ETA != 5 {
		t.Errorf("ETA after playback = %v, want 5 (null step keeps previous)", snap.ETA)
	}
	if n := len(drone.Events()); n != 3 {
		t.Errorf("drone events = %d, want 3", n)
	}

	// A second debate restarts the cycle from the first step.
	b.Publish(types.TopicDebateComplete, types.DebateComplete{})
	evs := drone.Events()
	if len(evs) != 1 || evs[0].Generation != 2 {
		t.Fatalf("events after second debate = %+v, want one event of generation 2", evs)
	}
	if snap := o.Snapshot(); snap.ETA == nil || *snap.ETA != 10 {
		t.Errorf("ETA after restart = %v, want 10", snap.ETA)
	}
}
