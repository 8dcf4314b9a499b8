// Package billing decides how many scans a user may run and which features
// their subscription plan includes. Payment collection lives elsewhere.
package billing

import (
	"errors"
	"fmt"
	"time"
)

// ErrQuotaExceeded is returned when a user has no scans left this month
var ErrQuotaExceeded = errors.New("monthly scan limit reached")

// ErrFeatureNotIncluded is returned when the user's plan lacks a feature
var ErrFeatureNotIncluded = errors.New("feature not included in plan")

// Unlimited is the scan limit of plans without a cap
const Unlimited = -1

// Plan describes a subscription tier
type Plan struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	PriceCents   int      `json:"price_cents"` // zero for free, negative for custom pricing
	ScanLimit    int      `json:"scan_limit"`
	Verification bool     `json:"verification"`
	Features     []string `json:"features"`
}

// DefaultPlans returns the built-in plans from cheapest to most expensive
func DefaultPlans() []Plan {
	common := []string{
		"Photo uploads",
		"Mobile camera scanning",
		"Full sender extraction",
		"Export to CSV/Excel",
		"Printable address labels",
	}
	paid := append([]string{"Address verification (USPS)", "Advanced categorization"}, common...)

	return []Plan{
		{ID: "free", Name: "Free Trial", PriceCents: 0, ScanLimit: 100, Features: append([]string{"100 scans per month"}, common...)},
		{ID: "starter", Name: "Starter", PriceCents: 19900, ScanLimit: 1000, Verification: true, Features: append([]string{"1,000 scans per month"}, paid...)},
		{ID: "growth", Name: "Growth", PriceCents: 34900, ScanLimit: 3000, Verification: true, Features: append([]string{"3,000 scans per month"}, paid...)},
		{ID: "scale", Name: "Scale", PriceCents: 49900, ScanLimit: 10000, Verification: true, Features: append([]string{"10,000 scans per month"}, paid...)},
		{ID: "enterprise", Name: "Enterprise", PriceCents: -1, ScanLimit: Unlimited, Verification: true, Features: append([]string{"10,000+ scans per month"}, paid...)},
	}
}

// FindPlan returns the default plan with the given id
func FindPlan(id string) (Plan, error) {
	for _, p := range DefaultPlans() {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("unknown plan: %s", id)
}

// Remaining returns how many scans are left given the usage so far
func (p Plan) Remaining(used int) int {
	if p.ScanLimit == Unlimited {
		return Unlimited
	}
	if used >= p.ScanLimit {
		return 0
	}
	return p.ScanLimit - used
}

// UsageStore persists monthly scan counts per user
type UsageStore interface {
	Usage(userID, period string) (int, error)
	// IncrementUsage adds n, which may be negative, to the count
	IncrementUsage(userID, period string, n int) error
	// ReserveUsage atomically adds n unless the count would pass limit.
	// A negative limit means no cap. It returns the count before the call.
	ReserveUsage(userID, period string, n, limit int) (used int, ok bool, err error)
}

// PlanResolver finds the plan a user is subscribed to
type PlanResolver interface {
	PlanFor(userID string) (Plan, error)
}

// StaticPlan subscribes every user to the same plan
type StaticPlan struct {
	Plan Plan
}

// PlanFor returns the configured plan
func (s StaticPlan) PlanFor(string) (Plan, error) {
	return s.Plan, nil
}

// Usage is a snapshot of a user's consumption in the current period
type Usage struct {
	Plan      Plan   `json:"plan"`
	Period    string `json:"period"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}

// Gate enforces plan limits before scans run
type Gate struct {
	store UsageStore
	plans PlanResolver
	now   func() time.Time
}

// NewGate creates a Gate
func NewGate(store UsageStore, plans PlanResolver) *Gate {
	return &Gate{store: store, plans: plans, now: time.Now}
}

// NewGateWithClock creates a Gate with a custom clock for testing
func NewGateWithClock(store UsageStore, plans PlanResolver, now func() time.Time) *Gate {
	return &Gate{store: store, plans: plans, now: now}
}

// period is the calendar month usage is counted in
func (g *Gate) period() string {
	return g.now().UTC().Format("2006-01")
}

// Reservation is a block of scans claimed against a user's monthly quota
type Reservation struct {
	Plan   Plan
	gate   *Gate
	userID string
	period string
	n      int
}

// Reserve claims n scans of the user's quota for this month and returns their
// plan. Concurrent reservations never take the user past the plan limit.
func (g *Gate) Reserve(userID string, n int) (*Reservation, error) {
	plan, err := g.plans.PlanFor(userID)
	if err != nil {
		return nil, fmt.Errorf("resolving plan: %w", err)
	}
	period := g.period()
	used, ok, err := g.store.ReserveUsage(userID, period, n, plan.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("reserving usage: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d scans used on the %s plan", ErrQuotaExceeded, used, plan.ScanLimit, plan.Name)
	}
	return &Reservation{Plan: plan, gate: g, userID: userID, period: period, n: n}, nil
}

// Settle hands back the reserved scans that were not used. It is counted in
// the month the reservation was made.
func (r *Reservation) Settle(used int) error {
	unused := r.n - used
	if unused <= 0 {
		return nil
	}
	if err := r.gate.store.IncrementUsage(r.userID, r.period, -unused); err != nil {
		return fmt.Errorf("releasing usage: %w", err)
	}
	return nil
}

// Usage returns the user's plan and consumption for the current month
func (g *Gate) Usage(userID string) (*Usage, error) {
	plan, err := g.plans.PlanFor(userID)
	if err != nil {
		return nil, fmt.Errorf("resolving plan: %w", err)
	}
	period := g.period()
	used, err := g.store.Usage(userID, period)
	if err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}
	return &Usage{
		Plan:      plan,
		Period:    period,
		Used:      used,
		Remaining: plan.Remaining(used),
	}, nil
}

// RequireVerification returns ErrFeatureNotIncluded unless the user's plan
// includes address verification
func (g *Gate) RequireVerification(userID string) error {
	plan, err := g.plans.PlanFor(userID)
	if err != nil {
		return fmt.Errorf("resolving plan: %w", err)
	}
	if !plan.Verification {
		return fmt.Errorf("%w: address verification is not available on the %s plan", ErrFeatureNotIncluded, plan.Name)
	}
	return nil
}
