package customers

import "strings"

// Tier is the subscription plan of a customer.
type Tier string

const (
	TierFree    Tier = "free"
	TierPlus    Tier = "plus"
	TierPremium Tier = "premium"
)

var tierRank = map[Tier]int{
	TierFree:    0,
	TierPlus:    1,
	TierPremium: 2,
}

// Rank orders tiers; unknown tiers rank below free.
func (t Tier) Rank() int {
	r, ok := tierRank[Tier(strings.ToLower(string(t)))]
	if !ok {
		return -1
	}
	return r
}

// Profile is the customers table item.
type Profile struct {
	UserID string `dynamodbav:"user_id"` // PK
	Tier   Tier   `dynamodbav:"tier"`
}

// Address is the addresses table item.
type Address struct {
	AddressID string `dynamodbav:"address_id"` // PK
	UserID    string `dynamodbav:"user_id"`
	Line1     string `dynamodbav:"line1"`
	Line2     string `dynamodbav:"line2,omitempty"`
	City      string `dynamodbav:"city"`
	Notes     string `dynamodbav:"notes,omitempty"`
}

// String formats the address as the single line the partner expects.
func (a Address) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Line1, a.Line2, a.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, ", ")
	if n := strings.TrimSpace(a.Notes); n != "" {
		s += " (" + n + ")"
	}
	return s
}
