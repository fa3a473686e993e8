package services

import "strings"

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"

	// Unlimited marks a limit that is never enforced.
	Unlimited = -1
)

type PlanLimits struct {
	DailyPosts int `json:"daily_posts"`
	Accounts   int `json:"accounts"`
}

var planLimits = map[string]PlanLimits{
	PlanFree:     {DailyPosts: 1, Accounts: 2},
	PlanPro:      {DailyPosts: 5, Accounts: 4},
	PlanBusiness: {DailyPosts: 25, Accounts: Unlimited},
}

// LimitsFor returns the limits of tier. Unknown or empty tiers get the free
// limits.
func LimitsFor(tier string) PlanLimits {
	if l, ok := planLimits[strings.ToLower(tier)]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// IsValidPlan reports whether plan can be bought through checkout.
func IsValidPlan(plan string) bool {
	p := strings.ToLower(plan)
	return p == PlanPro || p == PlanBusiness
}

// AllowsAnotherAccount reports whether a user on tier with connected accounts
// may connect one more.
func AllowsAnotherAccount(tier string, connected int) bool {
	l := LimitsFor(tier)
	return l.Accounts == Unlimited || connected < l.Accounts
}
