package main

// StatusUpdate is the partner callback relayed to SQS by the webhook endpoint.
type StatusUpdate struct {
	ExternalOrderID string `json:"external_order_id" validate:"required"`
	Status          string `json:"status" validate:"required"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}
