package flows

import "time"

// Frequency is the delivery cadence of a flow. Values match what the mobile
// app writes to the table.
type Frequency string

const (
	FrequencyWeekly   Frequency = "semanal"
	FrequencyBiweekly Frequency = "quincenal"
	FrequencyMonthly  Frequency = "mensual"
	FrequencyCustom   Frequency = "personalizada"
)

// Status of a flow. Only active flows are scheduled.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Item is one product reference with the quantity to deliver every cycle.
type Item struct {
	ProductID string `dynamodbav:"product_id"`
	Quantity  int    `dynamodbav:"quantity"`
}

// Flow represents the item stored in the Flows DynamoDB table.
type Flow struct {
	FlowID         string    `dynamodbav:"flow_id"` // PK
	UserID         string    `dynamodbav:"user_id"`
	Name           string    `dynamodbav:"name,omitempty"`
	Items          []Item    `dynamodbav:"items"`
	Frequency      Frequency `dynamodbav:"frequency"`
	NextDelivery   time.Time `dynamodbav:"next_delivery,unixtime"` // GSI sort key
	Status         Status    `dynamodbav:"status"`                 // GSI partition key
	AddressID      string    `dynamodbav:"address_id,omitempty"`
	DeliveryWindow string    `dynamodbav:"delivery_window,omitempty"` // e.g. "09:00-13:00"

	ConsecutiveFailures int        `dynamodbav:"consecutive_failures,omitempty"`
	LastError           string     `dynamodbav:"last_error,omitempty"`
	LastAttemptAt       *time.Time `dynamodbav:"last_attempt_at,omitempty"`
	LastOrderID         string     `dynamodbav:"last_order_id,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// IsActive reports whether the flow may be scheduled.
func (f Flow) IsActive() bool { return f.Status == StatusActive }
