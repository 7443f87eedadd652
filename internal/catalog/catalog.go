// Package catalog resolves product references stored on flows into the
// name and current price used to build an order.
package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
)

// Product is the catalog item as synced from the storefront.
type Product struct {
	ProductID string  `dynamodbav:"product_id"` // PK
	Name      string  `dynamodbav:"name"`
	Price     float64 `dynamodbav:"price"`
	Available bool    `dynamodbav:"available"`
}

// Store reads products from the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a product Store backed by tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// GetProduct fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) GetProduct(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}
