package billing

import (
	"fmt"
	"sort"

	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/entitlements"
	"github.com/go-playground/validator/v10"
)

// Plan describes one paid tier: its monthly price and the entitlements it
// grants. Prices are whole currency units.
type Plan struct {
	ID     string `validate:"required"`
	Name   string `validate:"required"`
	Price  int    `validate:"gt=0"`
	Period string `validate:"oneof=monthly"`
	Limits entitlements.Limits
}

// Catalog is the immutable plan table. It is loaded once at process start and
// passed by injection; nothing mutates it afterwards.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

// defaultPlans is the built-in tier table.
func defaultPlans() []Plan {
	return []Plan{
		{
			ID:     "plan_basic_349",
			Name:   "Basic",
			Price:  349,
			Period: "monthly",
			Limits: entitlements.Limits{
				MaxStorage:  53687091200, // 50 GiB
				MaxDevices:  5,
				MaxFileSize: 2147483648, // 2 GiB
			},
		},
		{
			ID:     "plan_premium_999",
			Name:   "Premium",
			Price:  999,
			Period: "monthly",
			Limits: entitlements.Limits{
				MaxStorage:  214748364800, // 200 GiB
				MaxDevices:  10,
				MaxFileSize: 5368709120, // 5 GiB
			},
		},
		{
			ID:     "plan_ultimate_1999",
			Name:   "Ultimate",
			Price:  1999,
			Period: "monthly",
			Limits: entitlements.Limits{
				MaxStorage:  1099511627776, // 1 TiB
				MaxDevices:  20,
				MaxFileSize: 10737418240, // 10 GiB
			},
		},
	}
}

// NewCatalog validates and indexes a plan table.
func NewCatalog(plans []Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	v := validator.New()
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid plan %q: %w", p.ID, err)
		}
		if p.Limits.MaxStorage <= 0 || p.Limits.MaxDevices <= 0 || p.Limits.MaxFileSize <= 0 {
			return nil, fmt.Errorf("invalid plan %q: limits must be positive", p.ID)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		byID[p.ID] = p
	}

	sorted := append([]Plan(nil), plans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	return &Catalog{plans: sorted, byID: byID}, nil
}

// LoadCatalog builds the catalog from the built-in plan table.
func LoadCatalog() (*Catalog, error) {
	return NewCatalog(defaultPlans())
}

// Plan looks up a plan by id.
func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Plans returns all plans ordered by ascending price.
func (c *Catalog) Plans() []Plan {
	return append([]Plan(nil), c.plans...)
}

// PlansAbove returns plans strictly more expensive than the given price,
// ordered by ascending price.
func (c *Catalog) PlansAbove(price int) []Plan {
	var out []Plan
	for _, p := range c.plans {
		if p.Price > price {
			out = append(out, p)
		}
	}
	return out
}

// TopPlan returns the highest-priced plan.
func (c *Catalog) TopPlan() Plan {
	return c.plans[len(c.plans)-1]
}
