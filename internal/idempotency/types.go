package idempotency

import (
	"fmt"
	"time"
)

// Status values for dispatch intents
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted in the dispatch-intent DynamoDB table.
// One record exists per flow cycle, written before the partner is called.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	FlowID         string    `dynamodbav:"flow_id,omitempty"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // partner response, replayed on retries
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 200
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// CycleKey identifies one delivery cycle of a flow. It changes as soon as
// next_delivery is advanced.
func CycleKey(flowID string, due time.Time) string {
	return fmt.Sprintf("%s#%d", flowID, due.Unix())
}
