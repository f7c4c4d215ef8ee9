package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPlanKey is the free tier every unlinked tenant falls back to.
const DefaultPlanKey = "free"

// PlanCatalog maps remote price references to local plan keys.
type PlanCatalog struct {
	byPrice     map[string]string
	defaultPlan string
}

// NewPlanCatalog builds a catalog from a price id -> plan key map.
func NewPlanCatalog(prices map[string]string, defaultPlan string) *PlanCatalog {
	if defaultPlan == "" {
		defaultPlan = DefaultPlanKey
	}
	byPrice := make(map[string]string, len(prices))
	for price, plan := range prices {
		byPrice[price] = plan
	}
	return &PlanCatalog{byPrice: byPrice, defaultPlan: defaultPlan}
}

// ParsePlanCatalog parses "price_a=starter,price_b=pro" into a catalog.
func ParsePlanCatalog(s, defaultPlan string) (*PlanCatalog, error) {
	prices := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		price, plan, ok := strings.Cut(pair, "=")
		price, plan = strings.TrimSpace(price), strings.TrimSpace(plan)
		if !ok || price == "" || plan == "" {
			return nil, fmt.Errorf("invalid plan price mapping %q: want price_id=plan_key", pair)
		}
		prices[price] = plan
	}
	return NewPlanCatalog(prices, defaultPlan), nil
}

// PlanForPrice returns the plan key configured for a price reference.
func (c *PlanCatalog) PlanForPrice(priceID string) (string, bool) {
	if c == nil || priceID == "" {
		return "", false
	}
	plan, ok := c.byPrice[priceID]
	return plan, ok
}

// PriceForPlan returns the price reference for a plan key. When several
// prices map to the same plan the lexically smallest id wins.
func (c *PlanCatalog) PriceForPlan(planKey string) (string, bool) {
	if c == nil {
		return "", false
	}
	var prices []string
	for price, plan := range c.byPrice {
		if plan == planKey {
			prices = append(prices, price)
		}
	}
	if len(prices) == 0 {
		return "", false
	}
	sort.Strings(prices)
	return prices[0], true
}

// DefaultPlan returns the plan key for tenants without a billing relationship.
func (c *PlanCatalog) DefaultPlan() string {
	if c == nil {
		return DefaultPlanKey
	}
	return c.defaultPlan
}

// ResolvePlanKey picks the plan key for a subscription: the catalog entry for
// its price, then a plan key carried in metadata, then the current plan.
func (c *PlanCatalog) ResolvePlanKey(priceID, metadataPlan, current string) string {
	if plan, ok := c.PlanForPrice(priceID); ok {
		return plan
	}
	if metadataPlan != "" {
		return metadataPlan
	}
	return current
}
