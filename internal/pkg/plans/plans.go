package plans

import (
	"strings"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/env"
)

type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// TrialPeriodDays is the trial length applied to every new subscription.
const TrialPeriodDays = 14

// PriceID resolves a plan to its Stripe price identifier. Price ids are an
// environment concern so test and live mode can use different catalogs.
func PriceID(plan Plan) string {
	switch Normalize(string(plan)) {
	case PlanPro:
		return env.GetEnv("STRIPE_PRICE_PRO", "price_titan_pro")
	case PlanEnterprise:
		return env.GetEnv("STRIPE_PRICE_ENTERPRISE", "price_titan_enterprise")
	default:
		return env.GetEnv("STRIPE_PRICE_STARTER", "price_titan_starter")
	}
}

// FromPriceID maps a Stripe price identifier back to the plan it sells.
func FromPriceID(priceID string) Plan {
	switch strings.TrimSpace(priceID) {
	case PriceID(PlanEnterprise):
		return PlanEnterprise
	case PriceID(PlanPro):
		return PlanPro
	default:
		return PlanStarter
	}
}

// Normalize maps arbitrary input to a known plan, defaulting to starter.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPro):
		return PlanPro
	case string(PlanEnterprise):
		return PlanEnterprise
	default:
		return PlanStarter
	}
}

// IsKnown reports whether the given plan id names a sellable plan.
func IsKnown(plan string) bool {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanStarter), string(PlanPro), string(PlanEnterprise):
		return true
	default:
		return false
	}
}
