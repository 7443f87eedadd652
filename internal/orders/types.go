package orders

import "time"

// Order statuses mirror what the delivery partner reports. The partner may
// send others; those are stored verbatim.
const (
	StatusCreated    = "created"
	StatusInProgress = "in_progress"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// IsTerminal reports whether no further partner update may change status.
func IsTerminal(status string) bool {
	return status == StatusDelivered || status == StatusCancelled
}

// LineItem is the snapshot of one product at dispatch time.
type LineItem struct {
	ProductID string  `dynamodbav:"product_id" json:"productId"`
	Name      string  `dynamodbav:"name" json:"name"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	Price     float64 `dynamodbav:"price" json:"price"`
}

// Order represents the item stored in the Orders DynamoDB table. One is
// written per successful dispatch of a flow.
type Order struct {
	OrderID           string     `dynamodbav:"order_id"` // PK
	FlowID            string     `dynamodbav:"flow_id"`
	UserID            string     `dynamodbav:"user_id"`
	ExternalOrderID   string     `dynamodbav:"external_order_id"` // GSI
	Status            string     `dynamodbav:"status"`
	Amount            float64    `dynamodbav:"amount"`
	DeliveryAddress   string     `dynamodbav:"delivery_address"`
	DeliveryWindow    string     `dynamodbav:"delivery_window"`
	Items             []LineItem `dynamodbav:"items"`
	EstimatedDelivery *time.Time `dynamodbav:"estimated_delivery,omitempty"`
	CreatedAt         time.Time  `dynamodbav:"created_at"`
	UpdatedAt         time.Time  `dynamodbav:"updated_at"`
}
