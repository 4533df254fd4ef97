package delivery

import (
	"fmt"

	"github.com/AbhayRathi/AgenticRefunds/pkg/validation"
)

// Validate checks the recorded-event invariants.
func (e SystemEvent) Validate() error {
	if err := validation.NonEmpty("orderId", e.OrderID); err != nil {
		return err
	}
	if e.Timestamp <= 0 {
		return validation.Errorf("timestamp", "must be positive")
	}
	if !e.EventType.Valid() {
		return validation.Errorf("eventType", "unknown event type %q", e.EventType)
	}
	if e.Latency != nil && *e.Latency < 0 {
		return validation.Errorf("latency", "must be non-negative")
	}
	return nil
}

// Validate checks the order invariants.
func (o DeliveryOrder) Validate() error {
	required := []struct{ field, value string }{
		{"orderId", o.OrderID},
		{"customerId", o.CustomerID},
		{"restaurantId", o.RestaurantID},
		{"deliveryAddress", o.DeliveryAddress},
	}
	for _, r := range required {
		if err := validation.NonEmpty(r.field, r.value); err != nil {
			return err
		}
	}
	if len(o.Items) == 0 {
		return validation.Errorf("items", "at least one item is required")
	}
	for i, it := range o.Items {
		field := fmt.Sprintf("items[%d]", i)
		if it.Name == "" {
			return validation.Errorf(field+".name", "item name is required")
		}
		if it.Quantity <= 0 {
			return validation.Errorf(field+".quantity", "must be positive")
		}
		if it.Price < 0 {
			return validation.Errorf(field+".price", "must be non-negative")
		}
	}
	if o.TotalAmount <= 0 {
		return validation.Errorf("totalAmount", "must be positive")
	}
	if o.OrderTimestamp <= 0 {
		return validation.Errorf("orderTimestamp", "must be positive")
	}
	if o.DeliveryTimestamp != nil && *o.DeliveryTimestamp <= 0 {
		return validation.Errorf("deliveryTimestamp", "must be positive")
	}
	if !o.Status.Valid() {
		return validation.Errorf("status", "unknown order status %q", o.Status)
	}
	return nil
}

// ValidateEvents rejects an empty sequence and any malformed event.
func ValidateEvents(events []SystemEvent) error {
	if len(events) == 0 {
		return validation.Errorf("systemLogs", "at least one system log is required")
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}
