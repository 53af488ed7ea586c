package plans

// Default pricing table. Overridable per deployment through config, but the
// shape of the tiers is fixed: a free tier with no billing fields, and two
// paid tiers whose yearly price carries a built-in two-month discount.
var defaults = map[PlanType]Pricing{
	PlanFree: {
		Plan:               PlanFree,
		MonthlyPriceCents:  0,
		YearlyPriceCents:   0,
		StorageLimitBytes:  2 * 1024 * 1024 * 1024, // 2GB
		MaxUploadSizeBytes: 200 * 1024 * 1024,
		MonthlyFreeCredits: 100,
		TrialDays:          0,
	},
	PlanPro: {
		Plan:               PlanPro,
		MonthlyPriceCents:  1490000, // 14,900 KRW in hundredths
		YearlyPriceCents:   14900000,
		StorageLimitBytes:  100 * 1024 * 1024 * 1024, // 100GB
		MaxUploadSizeBytes: 5 * 1024 * 1024 * 1024,
		MonthlyFreeCredits: 1000,
		TrialDays:          14,
	},
	PlanBusiness: {
		Plan:               PlanBusiness,
		MonthlyPriceCents:  4990000,
		YearlyPriceCents:   49900000,
		StorageLimitBytes:  1024 * 1024 * 1024 * 1024, // 1TB
		MaxUploadSizeBytes: 20 * 1024 * 1024 * 1024,
		MonthlyFreeCredits: 5000,
		TrialDays:          14,
	},
}

// Get returns the pricing for a plan. Unknown plans fall back to the free
// tier so a corrupt record degrades to the most restrictive entitlement.
func Get(plan PlanType) Pricing {
	if p, ok := defaults[plan]; ok {
		return p
	}
	return defaults[PlanFree]
}

// All returns the pricing table keyed by plan tier.
func All() map[PlanType]Pricing {
	out := make(map[PlanType]Pricing, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}
