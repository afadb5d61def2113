// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_bus_dropped_total",
		Help: "Total number of event bus messages dropped, by topic and reason.",
	}, []string{"topic", "reason"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "emecore_circuit_breaker_state",
		Help: "Circuit breaker state by component: 0 closed, 1 half-open, 2 open.",
	}, []string{"component"})

	CircuitBreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emecore_circuit_breaker_trips_total",
		Help: "Total number of transitions to the open state, by component and reason.",
	}, []string{"component", "reason"})
)

var breakerStateValues = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// RecordBusDrop counts a message a subscriber never received.
func RecordBusDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// SetCircuitBreakerState publishes the state of a component's breaker.
// Unknown states are ignored.
func SetCircuitBreakerState(component, state string) {
	if v, ok := breakerStateValues[state]; ok {
		CircuitBreakerState.WithLabelValues(component).Set(v)
	}
}

func RecordCircuitBreakerTrip(component, reason string) {
	CircuitBreakerTripsTotal.WithLabelValues(component, reason).Inc()
}
