package evaluator

import (
	"fmt"
	"strings"

	"github.com/AbhayRathi/AgenticRefunds/pkg/delivery"
)

// excessiveLatencyMs marks a delay worth naming in the retrieval query.
const excessiveLatencyMs = 1_800_000

// BuildQuery describes the delivery's problems in natural language for
// similarity retrieval. Issues appear in event order, one or more per event.
func BuildQuery(orderID string, events []delivery.SystemEvent) string {
	var issues []string
	for _, e := range events {
		switch e.EventType {
		case delivery.EventDeliveryDelayed:
			issues = append(issues, "delivery delayed")
		case delivery.EventTemperatureViolation:
			issues = append(issues, "cold food")
		case delivery.EventErrorOccurred:
			issues = append(issues, "system error")
		}
		if e.Latency != nil && *e.Latency > excessiveLatencyMs {
			issues = append(issues, "excessive latency")
		}
	}
	return fmt.Sprintf("Delivery order %s has issues: %s. What is the appropriate refund policy?",
		orderID, strings.Join(issues, ", "))
}
