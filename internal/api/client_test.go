package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/youmna-rabie/aegis/internal/types"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "://nope"} {
		if _, err := NewClient(Options{BaseURL: raw}); err == nil {
			t.Errorf("NewClient(%q) error = nil, want error", raw)
		}
	}
}

func TestRequestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/request-status/42" {
			t.Errorf("path = %q, want /request-status/42", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":42,"requester":"0xabc","status":"APPROVED","provider":"0xdef","cost_usd":120.5}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	st, err := c.RequestStatus(context.Background(), 42)
	if err != nil {
		t.Fatalf("RequestStatus: %v", err)
	}
	want := types.RequestStatus{RequestID: 42, Requester: "0xabc", Status: types.StatusApproved, Provider: "0xdef", CostUSD: 120.5}
	if st != want {
		t.Errorf("RequestStatus = %+v, want %+v", st, want)
	}
}

func TestRequestStatusUnknownValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":1,"status":"SOMETHING_NEW"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	st, err := c.RequestStatus(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusUnknown {
		t.Errorf("Status = %q, want UNKNOWN", st.Status)
	}
}

func TestRequestStatusNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chain unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	_, err := c.RequestStatus(context.Background(), 7)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", httpErr.StatusCode)
	}
	if err.Error() != "HTTP 503" {
		t.Errorf("Error() = %q, want %q", err.Error(), "HTTP 503")
	}
}

func TestRequestStatusCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.RequestStatus(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/evaluate" {
			t.Errorf("got %s %s, want POST /evaluate", r.Method, r.URL.Path)
		}
		var req types.AidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Description != "need water" || req.DisasterID != "d3" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"status":"PROCESSED","debate":["The Skeptic: ok","The Arbiter: VALID"],"final_verdict":"The Arbiter: VALID"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Options{BaseURL: srv.URL})
	res, err := c.Evaluate(context.Background(), types.AidRequest{DisasterID: "d3", Description: "need water", Lat: 51.75, Lng: -1.25})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Status != types.EvaluationProcessed || len(res.Debate) != 2 || res.FinalVerdict != "The Arbiter: VALID" {
		t.Errorf("Evaluate = %+v", res)
	}
}
