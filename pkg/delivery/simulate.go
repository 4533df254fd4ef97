package delivery

import (
	"strconv"

	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// IssueKind names a canned delivery incident.
type IssueKind string

const (
	IssueLateDelivery IssueKind = "LATE_DELIVERY"
	IssueColdFood     IssueKind = "COLD_FOOD"
	IssueSystemError  IssueKind = "SYSTEM_ERROR"
)

// DefaultSimulatedLatencyMs is used for LATE_DELIVERY when no latency is given.
const DefaultSimulatedLatencyMs int64 = 2_000_000

// Simulate produces the event history of a canned incident at time now
// (epoch ms). latencyMs only applies to LATE_DELIVERY; zero selects the
// default.
func Simulate(kind IssueKind, latencyMs int64, now int64) ([]SystemEvent, error) {
	if latencyMs < 0 {
		return nil, validation.Errorf("latencyMs", "must be non-negative")
	}
	orderID := "sim-" + strconv.FormatInt(now, 10)

	switch kind {
	case IssueLateDelivery:
		if latencyMs == 0 {
			latencyMs = DefaultSimulatedLatencyMs
		}
		return []SystemEvent{{
			OrderID:   orderID,
			Timestamp: now,
			EventType: EventDeliveryDelayed,
			Latency:   Latency(latencyMs),
			Metadata:  map[string]any{"reason": "Traffic delay"},
		}}, nil
	case IssueColdFood:
		return []SystemEvent{{
			OrderID:   orderID,
			Timestamp: now,
			EventType: EventTemperatureViolation,
			Metadata:  map[string]any{"temperature": 40},
		}}, nil
	case IssueSystemError:
		msgs := []string{"Payment processing error", "Delivery routing error", "API timeout"}
		events := make([]SystemEvent, 0, len(msgs))
		for i, msg := range msgs {
			events = append(events, SystemEvent{
				OrderID:      orderID,
				Timestamp:    now + int64(i)*1000,
				EventType:    EventErrorOccurred,
				ErrorMessage: msg,
			})
		}
		return events, nil
	default:
		return nil, validation.Errorf("issueType", "unknown issue type %q", kind)
	}
}
