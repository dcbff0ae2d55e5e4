package types

import (
	"encoding/json"
	"strings"
)

// Status is the on-chain lifecycle state of an aid request.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusEventVerified Status = "EVENT_VERIFIED"
	StatusApproved      Status = "APPROVED"
	StatusFulfilled     Status = "FULFILLED"
	StatusUnknown       Status = "UNKNOWN"
)

// pipeline lists the ordered statuses; UNKNOWN is deliberately absent.
var pipeline = []Status{
	StatusPending,
	StatusEventVerified,
	StatusApproved,
	StatusFulfilled,
}

// ParseStatus maps a wire value to a Status. Anything unrecognised is UNKNOWN.
func ParseStatus(s string) Status {
	up := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range pipeline {
		if st == up {
			return st
		}
	}
	return StatusUnknown
}

// Rank returns the position of s in the pipeline, or -1 for UNKNOWN.
func (s Status) Rank() int {
	for i, st := range pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether polling stops at s.
func (s Status) Terminal() bool {
	return s == StatusFulfilled
}

// Next returns the status following s in the pipeline. FULFILLED and
// UNKNOWN have no successor and are returned unchanged.
func (s Status) Next() Status {
	r := s.Rank()
	if r < 0 || r == len(pipeline)-1 {
		return s
	}
	return pipeline[r+1]
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// RequestStatus is a snapshot of an aid request as reported by the ledger.
type RequestStatus struct {
	RequestID int64   `json:"request_id"`
	Requester string  `json:"requester"`
	Status    Status  `json:"status"`
	Provider  string  `json:"provider"`
	CostUSD   float64 `json:"cost_usd"`
}
