// Package partner is the HTTP client for the delivery partner's order API.
package partner

// LineItem is one product line as the partner expects it.
type LineItem struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
	Name      string  `json:"name" validate:"required"`
	Price     float64 `json:"price" validate:"gt=0"`
}

// OrderRequest is the body of POST {base}/orders.
type OrderRequest struct {
	UserID          string     `json:"userId" validate:"required"`
	FlowID          string     `json:"flowId" validate:"required"`
	LineItems       []LineItem `json:"lineItems" validate:"required,min=1,dive"`
	DeliveryAddress string     `json:"deliveryAddress" validate:"required"`
	DeliveryTime    string     `json:"deliveryTime" validate:"required"`
	// Total is not sent; it is recorded on the Order and checked against the lines.
	Total float64 `json:"-" validate:"gt=0"`
}

// OrderResponse is the partner's success body.
type OrderResponse struct {
	ExternalOrderID       string `json:"externalOrderId" validate:"required"`
	Status                string `json:"status"`
	EstimatedDeliveryTime string `json:"estimatedDeliveryTime,omitempty"`
}
