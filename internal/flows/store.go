package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
)

// ErrScheduleMoved is returned by Advance when next_delivery no longer holds
// the value the caller read, i.e. someone else already moved the flow.
var ErrScheduleMoved = errors.New("flow schedule moved/conditional failed")

// ErrNotForward is returned by Advance when the new date would not move the flow forward.
var ErrNotForward = errors.New("next delivery must move forward")

// Store encapsulates operations on the flows table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	dueIndex  string
	nowFunc   func() time.Time
}

// NewStore creates a new flows Store. dueIndex is a GSI with status as
// partition key and next_delivery as sort key.
func NewStore(client aws.DynamoDBAPI, tableName, dueIndex string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		dueIndex:  dueIndex,
		nowFunc:   time.Now,
	}
}

// ListDue returns every active flow whose next_delivery is at or before
// cutoff, ordered by next_delivery ascending.
func (s *Store) ListDue(ctx context.Context, cutoff time.Time) ([]Flow, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.dueIndex,
		KeyConditionExpression: awsString("#s = :active AND next_delivery <= :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":cutoff": unixValue(cutoff),
		},
		ScanIndexForward: awsBool(true),
	}

	var out []Flow
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query due flows: %w", err)
		}
		var batch []Flow
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal flows: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Get fetches a flow by flow_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, flowID string) (*Flow, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            flowKey(flowID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var f Flow
	if err := attributevalue.UnmarshalMap(out.Item, &f); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}
	return &f, nil
}

// Advance moves next_delivery from prev to next, clears the failure counter
// and remembers the order that closed the cycle. The write only applies if
// next_delivery still equals prev; otherwise ErrScheduleMoved.
func (s *Store) Advance(ctx context.Context, flowID string, prev, next time.Time, orderID string) error {
	if !next.After(prev) {
		return ErrNotForward
	}
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              flowKey(flowID),
		UpdateExpression: awsString("SET next_delivery = :next, consecutive_failures = :zero, last_order_id = :oid, last_attempt_at = :ua, updated_at = :ua REMOVE last_error"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next": unixValue(next),
			":prev": unixValue(prev),
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":oid":  &types.AttributeValueMemberS{Value: orderID},
			":ua":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("next_delivery = :prev"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrScheduleMoved
		}
		return fmt.Errorf("update item (advance): %w", err)
	}
	return nil
}

// RecordFailure increments consecutive_failures and stores the reason. It
// returns the counter after the increment. next_delivery is left untouched so
// the flow is selected again on the next run.
func (s *Store) RecordFailure(ctx context.Context, flowID, reason string) (int, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              flowKey(flowID),
		UpdateExpression: awsString("SET consecutive_failures = if_not_exists(consecutive_failures, :zero) + :inc, last_error = :err, last_attempt_at = :ua, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":err":  &types.AttributeValueMemberS{Value: reason},
			":ua":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(flow_id)"),
		ReturnValues:        types.ReturnValueUpdatedNew,
	}
	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("update item (record failure): %w", err)
	}

	n, ok := out.Attributes["consecutive_failures"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("record failure: consecutive_failures missing from response")
	}
	count, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("record failure: parse counter: %w", err)
	}
	return count, nil
}

func flowKey(flowID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"flow_id": &types.AttributeValueMemberS{Value: flowID},
	}
}

func unixValue(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
