package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll outcomes.
const (
	PollResultOK        = "ok"
	PollResultError     = "error"
	PollResultDiscarded = "discarded"
)

var (
	PollFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_poll_fetch_total",
		Help: "Total number of request-status fetches by outcome",
	}, []string{"result"})

	PollTerminalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_poll_terminal_total",
		Help: "Total number of requests observed reaching a terminal status",
	})

	StreamEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_stream_emitted_total",
		Help: "Total number of scripted stream events emitted by stream",
	}, []string{"stream"})

	StreamResetTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_stream_reset_total",
		Help: "Total number of scripted stream resets by stream",
	}, []string{"stream"})

	StageTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_stage_transitions_total",
		Help: "Total number of stage transitions by source and target stage",
	}, []string{"from", "to"})
)

// IncPollFetch records the outcome of one status fetch.
func IncPollFetch(result string) {
	PollFetchTotal.WithLabelValues(normalize(result)).Inc()
}

// IncPollTerminal records a request reaching its terminal status.
func IncPollTerminal() {
	PollTerminalTotal.Inc()
}

// IncStreamEmitted records one emission on stream.
func IncStreamEmitted(stream string) {
	StreamEmittedTotal.WithLabelValues(normalize(stream)).Inc()
}

// IncStreamReset records a reset of stream.
func IncStreamReset(stream string) {
	StreamResetTotal.WithLabelValues(normalize(stream)).Inc()
}

// IncStageTransition records a stage change.
func IncStageTransition(from, to string) {
	StageTransitionsTotal.WithLabelValues(normalize(from), normalize(to)).Inc()
}
