package policy

import (
	"encoding/json"

	"github.com/AbhayRathi/AgenticRefunds/pkg/delivery"
)

// NoViolationTemperature is the temperature reported when no temperature
// violation was recorded. It is deliberately above the default cold-food
// threshold.
const NoViolationTemperature = 100.0

// Metrics are the scalar signals a policy condition can test.
type Metrics struct {
	DeliveryLatency float64 `json:"deliveryLatency"`
	Temperature     float64 `json:"temperature"`
	ErrorCount      float64 `json:"errorCount"`
}

// ExtractMetrics reduces an event history. Latency is the worst (max) delay
// seen anywhere, temperature the coldest (min) violation reading, and the
// error count the number of ERROR_OCCURRED events. An empty history yields
// the defaults.
func ExtractMetrics(events []delivery.SystemEvent) Metrics {
	m := Metrics{Temperature: NoViolationTemperature}
	for _, e := range events {
		if e.Latency != nil && float64(*e.Latency) > m.DeliveryLatency {
			m.DeliveryLatency = float64(*e.Latency)
		}
		switch e.EventType {
		case delivery.EventErrorOccurred:
			m.ErrorCount++
		case delivery.EventTemperatureViolation:
			if t, ok := numeric(e.Metadata["temperature"]); ok && t < m.Temperature {
				m.Temperature = t
			}
		}
	}
	return m
}

// Value returns the metric selected by t. Unsupported metric types report
// false.
func (m Metrics) Value(t MetricType) (float64, bool) {
	switch t {
	case MetricDeliveryLatency:
		return m.DeliveryLatency, true
	case MetricTemperature:
		return m.Temperature, true
	case MetricErrorCount:
		return m.ErrorCount, true
	default:
		return 0, false
	}
}

// numeric reads an opaque metadata value as a number.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
