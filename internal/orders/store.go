package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
	"github.com/imrishuroy/go-flow-scheduler/internal/idempotency"
)

// ErrStatusMismatch is returned by UpdateStatus when the condition failed.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// ErrOrderExists is returned when an order with the same order_id is already stored.
var ErrOrderExists = errors.New("order already exists")

// Store encapsulates operations on the orders table.
type Store struct {
	client        aws.DynamoDBAPI
	tableName     string
	externalIndex string
	intentTable   string
	nowFunc       func() time.Time
}

// NewStore creates a new orders Store. externalIndex is the GSI keyed by
// external_order_id; intentTable is the dispatch-intent table completed
// together with the order in CreateWithIntent.
func NewStore(client aws.DynamoDBAPI, tableName, externalIndex, intentTable string) *Store {
	return &Store{
		client:        client,
		tableName:     tableName,
		externalIndex: externalIndex,
		intentTable:   intentTable,
		nowFunc:       time.Now,
	}
}

func (s *Store) stamp(order *Order) {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
}

// Create stores a new order. order.OrderID must be set by caller.
func (s *Store) Create(ctx context.Context, order Order) error {
	s.stamp(&order)
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrOrderExists
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// CreateWithIntent atomically:
//   - puts the order record (attribute_not_exists(order_id))
//   - moves the dispatch intent intentKey from IN_PROGRESS to DONE, storing responseBody
//
// so a later run replays the intent instead of dispatching the same cycle again.
func (s *Store) CreateWithIntent(ctx context.Context, order Order, intentKey, responseBody string) error {
	s.stamp(&order)
	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
		{
			Update: &types.Update{
				TableName: &s.intentTable,
				Key: map[string]types.AttributeValue{
					"idempotency_key": &types.AttributeValueMemberS{Value: intentKey},
				},
				UpdateExpression: awsString("SET #s = :done, order_id = :oid, response_body = :rb, response_status = :rs, updated_at = :ua"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":done":     &types.AttributeValueMemberS{Value: idempotency.StatusDone},
					":inflight": &types.AttributeValueMemberS{Value: idempotency.StatusInProgress},
					":oid":      &types.AttributeValueMemberS{Value: order.OrderID},
					":rb":       &types.AttributeValueMemberS{Value: responseBody},
					":rs":       &types.AttributeValueMemberN{Value: "200"},
					":ua":       &types.AttributeValueMemberS{Value: order.UpdatedAt.UTC().Format(time.RFC3339)},
				},
				ConditionExpression: awsString("#s = :inflight"),
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (order exists or intent not in flight): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByExternalID looks an order up by the partner's order id. Returns
// (nil, nil) if not found.
func (s *Store) GetByExternalID(ctx context.Context, externalOrderID string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.externalIndex,
		KeyConditionExpression: awsString("external_order_id = :eid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":eid": &types.AttributeValueMemberS{Value: externalOrderID},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query by external id: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Items[0], &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsInt32(v int32) *int32    { return &v }
