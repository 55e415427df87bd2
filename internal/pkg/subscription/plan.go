package subscription

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanMonthly   = "monthly"
	PlanQuarterly = "quarterly"
	PlanYearly    = "yearly"

	// DefaultPlanID is used when a payment carries no usable plan hint.
	DefaultPlanID = PlanMonthly
)

// Plan is one entry of the fixed catalog.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	DurationDays int             `json:"durationDays"`
}

// Duration is the access window bought by one payment.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

var catalog = []Plan{
	{ID: PlanMonthly, Name: "Mensal", Price: decimal.RequireFromString("99.00"), Currency: "BRL", DurationDays: 30},
	{ID: PlanQuarterly, Name: "Trimestral", Price: decimal.RequireFromString("249.00"), Currency: "BRL", DurationDays: 90},
	{ID: PlanYearly, Name: "Anual", Price: decimal.RequireFromString("899.00"), Currency: "BRL", DurationDays: 365},
}

// Plans returns a copy of the catalog.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPlan finds a plan by id (case-insensitive).
func LookupPlan(id string) (Plan, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	for _, p := range catalog {
		if p.ID == key {
			return p, true
		}
	}
	return Plan{}, false
}

// Covers reports whether amount pays for the plan.
func (p Plan) Covers(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.Price)
}

// ResolvePlan picks the plan a payment paid for: an explicit plan reference
// wins, then an exact price match, then the default plan. paid is false when
// amount is below the chosen plan's price; such a payment buys nothing.
func ResolvePlan(reference string, amount decimal.Decimal) (plan Plan, paid bool) {
	ref := strings.TrimSpace(reference)
	ref = strings.TrimPrefix(ref, "plan:")
	if p, ok := LookupPlan(ref); ok {
		return p, p.Covers(amount)
	}
	for _, p := range catalog {
		if p.Price.Equal(amount) {
			return p, true
		}
	}
	p, _ := LookupPlan(DefaultPlanID)
	return p, p.Covers(amount)
}
