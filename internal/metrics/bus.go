package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_bus_published_total",
		Help: "Total number of messages published on the in-process bus by topic",
	}, []string{"topic"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_bus_dropped_total",
		Help: "Total number of bus messages that reached no subscriber or whose handler panicked",
	}, []string{"topic"})
)

// IncBusPublished records a publish on topic.
func IncBusPublished(topic string) {
	BusPublishedTotal.WithLabelValues(normalize(topic)).Inc()
}

// IncBusDropped records a publish that reached no subscriber.
func IncBusDropped(topic string) {
	BusDroppedTotal.WithLabelValues(normalize(topic)).Inc()
}

func normalize(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
