// Package delivery defines the inputs of a refund evaluation: the order being
// refunded and the timestamped system events recorded while it was delivered.
package delivery

// EventType identifies what happened to an order at a point in time.
type EventType string

const (
	EventOrderCreated         EventType = "ORDER_CREATED"
	EventOrderPrepared        EventType = "ORDER_PREPARED"
	EventDeliveryStarted      EventType = "DELIVERY_STARTED"
	EventDeliveryDelayed      EventType = "DELIVERY_DELAYED"
	EventDeliveryCompleted    EventType = "DELIVERY_COMPLETED"
	EventErrorOccurred        EventType = "ERROR_OCCURRED"
	EventTemperatureViolation EventType = "TEMPERATURE_VIOLATION"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventOrderCreated, EventOrderPrepared, EventDeliveryStarted, EventDeliveryDelayed,
		EventDeliveryCompleted, EventErrorOccurred, EventTemperatureViolation:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of a delivery order.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusPreparing      OrderStatus = "PREPARING"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// SystemEvent is an immutable record emitted by the delivery platform.
// Latency is in milliseconds; a nil Latency means the event carried none.
type SystemEvent struct {
	OrderID      string         `json:"orderId"`
	Timestamp    int64          `json:"timestamp"`
	EventType    EventType      `json:"eventType"`
	Latency      *int64         `json:"latency,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// OrderItem is a single line of an order.
type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// DeliveryOrder is read-only input to an evaluation. TotalAmount is the basis
// for percentage refunds.
type DeliveryOrder struct {
	OrderID           string      `json:"orderId"`
	CustomerID        string      `json:"customerId"`
	RestaurantID      string      `json:"restaurantId"`
	Items             []OrderItem `json:"items"`
	TotalAmount       float64     `json:"totalAmount"`
	DeliveryAddress   string      `json:"deliveryAddress"`
	OrderTimestamp    int64       `json:"orderTimestamp"`
	DeliveryTimestamp *int64      `json:"deliveryTimestamp,omitempty"`
	Status            OrderStatus `json:"status"`
}

// Latency is a helper for building events with a latency value.
func Latency(ms int64) *int64 {
	return &ms
}
