package customers

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
)

// Store reads customer profiles and delivery addresses.
type Store struct {
	client         aws.DynamoDBAPI
	customersTable string
	addressesTable string
}

// NewStore returns a Store over the customers and addresses tables.
func NewStore(client aws.DynamoDBAPI, customersTable, addressesTable string) *Store {
	return &Store{
		client:         client,
		customersTable: customersTable,
		addressesTable: addressesTable,
	}
}

// GetProfile fetches a profile by user id. Returns (nil, nil) if not found.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	found, err := s.get(ctx, s.customersTable, "user_id", userID, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// GetAddress fetches an address by id. Returns (nil, nil) if not found.
func (s *Store) GetAddress(ctx context.Context, addressID string) (*Address, error) {
	var a Address
	found, err := s.get(ctx, s.addressesTable, "address_id", addressID, &a)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

func (s *Store) get(ctx context.Context, table, keyName, keyValue string, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &table,
		Key: map[string]types.AttributeValue{
			keyName: &types.AttributeValueMemberS{Value: keyValue},
		},
	})
	if err != nil {
		return false, fmt.Errorf("get item %s=%s: %w", keyName, keyValue, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", table, err)
	}
	return true, nil
}

// ProfileGetter is what TierPolicy needs from the store.
type ProfileGetter interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// TierPolicy admits users whose plan ranks at or above Minimum. Lookups are
// memoized for the lifetime of the policy, which is one scheduler run.
type TierPolicy struct {
	profiles ProfileGetter
	minimum  Tier

	mu    sync.Mutex
	cache map[string]bool
}

// NewTierPolicy returns a TierPolicy admitting users at or above minimum.
func NewTierPolicy(profiles ProfileGetter, minimum Tier) *TierPolicy {
	return &TierPolicy{
		profiles: profiles,
		minimum:  minimum,
		cache:    map[string]bool{},
	}
}

// Entitled reports whether userID's flows are auto-processed. A missing
// profile is not entitled; a lookup error is returned to the caller.
func (p *TierPolicy) Entitled(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	if ok, hit := p.cache[userID]; hit {
		p.mu.Unlock()
		return ok, nil
	}
	p.mu.Unlock()

	prof, err := p.profiles.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	ok := prof != nil && prof.Tier.Rank() >= p.minimum.Rank()

	p.mu.Lock()
	p.cache[userID] = ok
	p.mu.Unlock()
	return ok, nil
}

// Reset drops memoized lookups so a long-lived policy can serve a new run.
func (p *TierPolicy) Reset() {
	p.mu.Lock()
	p.cache = map[string]bool{}
	p.mu.Unlock()
}
