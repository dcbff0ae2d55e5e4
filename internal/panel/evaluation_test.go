package panel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/youmna-rabie/aegis/internal/bus"
	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/types"
)

type evalFunc func(ctx context.Context, req types.AidRequest) (types.EvaluationResult, error)

func (f evalFunc) Evaluate(ctx context.Context, req types.AidRequest) (types.EvaluationResult, error) {
	return f(ctx, req)
}

// recorder captures what the panel publishes.
type recorder struct {
	mu              sync.Mutex
	recommendations []string
	descriptions    []string
	debateComplete  int
}

func record(b *bus.Bus) *recorder {
	r := &recorder{}
	b.Subscribe(types.TopicEvaluationResult, bus.Handle(func(m types.EvaluationUpdate) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if m.Description != nil {
			r.descriptions = append(r.descriptions, *m.Description)
		}
		if m.AidRecommendation != nil {
			r.recommendations = append(r.recommendations, *m.AidRecommendation)
		}
	}))
	b.Subscribe(types.TopicDebateComplete, bus.Handle(func(types.DebateComplete) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.debateComplete++
	}))
	return r
}

func (r *recorder) snapshot() (descriptions, recommendations []string, debates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.descriptions...), append([]string(nil), r.recommendations...), r.debateComplete
}

func oxfordSession() types.SessionState {
	return types.SessionState{
		UserLocation: &types.UserLocation{Lat: 51.75, Lng: -1.25},
		Disaster:     &types.Disaster{ID: "d3", Name: "Oxford Flash Flood"},
	}
}

func processed() types.EvaluationResult {
	return types.EvaluationResult{
		Status:       types.EvaluationProcessed,
		Debate:       []string{"Skeptic: fine", "Empath: urgent", "Arbiter: VALID"},
		FinalVerdict: "Arbiter: VALID",
	}
}

func newEvaluation(t *testing.T, client evalFunc) (*Evaluation, *bus.Bus, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(epoch)
	b := bus.New(nil)
	e := NewEvaluation(EvaluationOptions{
		Bus:            b,
		Client:         client,
		Clock:          fc,
		DebateInterval: time.Second,
	})
	t.Cleanup(e.Close)
	return e, b, fc
}

func TestEvaluation_ProcessedReplaysDebateThenCompletes(t *testing.T) {
	var got types.AidRequest
	e, b, fc := newEvaluation(t, func(_ context.Context, req types.AidRequest) (types.EvaluationResult, error) {
		got = req
		return processed(), nil
	})
	rec := record(b)
	e.SetSession(oxfordSession())

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "water rising"})
	e.Wait()

	want := types.AidRequest{DisasterID: "d3", Description: "water rising", Lat: 51.75, Lng: -1.25}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	descs, recs, debates := rec.snapshot()
	if diff := cmp.Diff([]string{"water rising"}, descs); diff != "" {
		t.Errorf("descriptions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{""}, recs); diff != "" {
		t.Errorf("recommendations before debate end mismatch (-want +got):\n%s", diff)
	}
	if debates != 0 {
		t.Fatalf("debate-complete before replay ended: %d", debates)
	}
	if n := len(e.State().Debate); n != 1 {
		t.Fatalf("debate lines after first step = %d, want 1", n)
	}

	fc.Advance(2 * time.Second)

	_, recs, debates = rec.snapshot()
	if debates != 1 {
		t.Errorf("debate-complete count = %d, want 1", debates)
	}
	if diff := cmp.Diff([]string{"", "Arbiter: VALID"}, recs); diff != "" {
		t.Errorf("recommendations mismatch (-want +got):\n%s", diff)
	}

	st := e.State()
	if st.Pending || st.Result == nil || st.Result.Status != types.EvaluationProcessed {
		t.Errorf("State = %+v", st)
	}
	if len(st.Debate) != 3 {
		t.Errorf("debate lines = %d, want 3", len(st.Debate))
	}
}

func TestEvaluation_DeclinedDoesNotCompleteDebate(t *testing.T) {
	e, b, fc := newEvaluation(t, func(context.Context, types.AidRequest) (types.EvaluationResult, error) {
		return types.EvaluationResult{Status: types.EvaluationDeclined, Reason: "outside zone"}, nil
	})
	rec := record(b)
	e.SetSession(oxfordSession())

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "help"})
	e.Wait()
	fc.Advance(time.Minute)

	_, recs, debates := rec.snapshot()
	if debates != 0 {
		t.Errorf("debate-complete count = %d, want 0", debates)
	}
	if diff := cmp.Diff([]string{"", "outside zone"}, recs); diff != "" {
		t.Errorf("recommendations mismatch (-want +got):\n%s", diff)
	}
	if st := e.State(); st.Result == nil || st.Result.Status != types.EvaluationDeclined {
		t.Errorf("Result = %+v, want DECLINED", st.Result)
	}
}

func TestEvaluation_ErrorIsRecorded(t *testing.T) {
	e, b, _ := newEvaluation(t, func(context.Context, types.AidRequest) (types.EvaluationResult, error) {
		return types.EvaluationResult{}, errors.New("HTTP 502")
	})
	rec := record(b)
	e.SetSession(oxfordSession())

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "help"})
	e.Wait()

	st := e.State()
	if st.LastError == nil || *st.LastError != "HTTP 502" {
		t.Errorf("LastError = %v, want HTTP 502", st.LastError)
	}
	if st.Pending {
		t.Error("Pending = true after failure")
	}
	if _, _, debates := rec.snapshot(); debates != 0 {
		t.Errorf("debate-complete count = %d, want 0", debates)
	}
}

func TestEvaluation_NoDisasterSkipsCall(t *testing.T) {
	called := false
	e, b, _ := newEvaluation(t, func(context.Context, types.AidRequest) (types.EvaluationResult, error) {
		called = true
		return processed(), nil
	})

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "help"})
	e.Wait()

	if called {
		t.Error("client called without a disaster")
	}
	if st := e.State(); st.LastError == nil || *st.LastError != ErrNoDisaster.Error() {
		t.Errorf("LastError = %v, want %q", st.LastError, ErrNoDisaster)
	}
}

func TestEvaluation_NewerRequestSupersedes(t *testing.T) {
	first := make(chan struct{})
	e, b, fc := newEvaluation(t, func(ctx context.Context, req types.AidRequest) (types.EvaluationResult, error) {
		if req.Description == "first" {
			close(first)
			<-ctx.Done()
			return types.EvaluationResult{}, ctx.Err()
		}
		return types.EvaluationResult{Status: types.EvaluationProcessed, FinalVerdict: "second verdict"}, nil
	})
	rec := record(b)
	e.SetSession(oxfordSession())

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "first"})
	<-first
	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "second"})
	e.Wait()
	fc.Advance(0)

	st := e.State()
	if st.LastError != nil {
		t.Errorf("LastError = %q, want nil (cancelled call discarded)", *st.LastError)
	}
	if st.Result == nil || st.Result.FinalVerdict != "second verdict" {
		t.Errorf("Result = %+v, want second verdict", st.Result)
	}
	if _, _, debates := rec.snapshot(); debates != 1 {
		t.Errorf("debate-complete count = %d, want 1", debates)
	}
}

func TestEvaluation_CloseCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	fc := clock.Fake(epoch)
	b := bus.New(nil)
	e := NewEvaluation(EvaluationOptions{
		Bus:   b,
		Clock: fc,
		Client: evalFunc(func(ctx context.Context, _ types.AidRequest) (types.EvaluationResult, error) {
			close(started)
			<-ctx.Done()
			return types.EvaluationResult{}, ctx.Err()
		}),
	})
	e.SetSession(oxfordSession())

	b.Publish(types.TopicNewRequest, types.NewRequest{Description: "help"})
	<-started
	e.Close()

	if got := b.Subscribers(types.TopicNewRequest); got != 0 {
		t.Errorf("Subscribers after Close = %d, want 0", got)
	}
	if st := e.State(); st.Result != nil || st.LastError != nil {
		t.Errorf("State after Close = %+v, want no result", st)
	}
}

func TestEvaluation_OnResult(t *testing.T) {
	for name, tc := range map[string]struct {
		res    types.EvaluationResult
		err    error
		status []types.EvaluationStatus
	}{
		"processed": {res: processed(), status: []types.EvaluationStatus{types.EvaluationProcessed}},
		"declined":  {res: types.EvaluationResult{Status: types.EvaluationDeclined}, status: []types.EvaluationStatus{types.EvaluationDeclined}},
		"error":     {err: errors.New("HTTP 502")},
	} {
		t.Run(name, func(t *testing.T) {
			var (
				mu  sync.Mutex
				got []types.EvaluationStatus
			)
			b := bus.New(nil)
			e := NewEvaluation(EvaluationOptions{
				Bus: b,
				Client: evalFunc(func(context.Context, types.AidRequest) (types.EvaluationResult, error) {
					return tc.res, tc.err
				}),
				Clock:          clock.Fake(epoch),
				DebateInterval: time.Second,
				OnResult: func(r types.EvaluationResult) {
					mu.Lock()
					defer mu.Unlock()
					got = append(got, r.Status)
				},
			})
			t.Cleanup(e.Close)
			e.SetSession(oxfordSession())

			b.Publish(types.TopicNewRequest, types.NewRequest{Description: "water rising"})
			e.Wait()

			mu.Lock()
			defer mu.Unlock()
			if diff := cmp.Diff(tc.status, got); diff != "" {
				t.Errorf("reported results mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
