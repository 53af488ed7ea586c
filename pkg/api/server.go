package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rambozzang/ongo-sub007/pkg/cache"
	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/credit"
	"github.com/rambozzang/ongo-sub007/pkg/httputil"
	"github.com/rambozzang/ongo-sub007/pkg/observability"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

// QuotaService resolves storage entitlement for quota endpoints
type QuotaService interface {
	EffectiveStorageLimit(userID int64) (int64, error)
	CheckQuota(ctx context.Context, userID int64, additionalBytes int64) error
}

// EntitlementCache serves and invalidates cached entitlement snapshots
type EntitlementCache interface {
	Get(ctx context.Context, userID int64) (*cache.Snapshot, error)
	Invalidate(ctx context.Context, userID int64) error
}

// UpgradeCharger collects the prorated charge for an immediate upgrade
type UpgradeCharger interface {
	ChargeUpgrade(ctx context.Context, sub *subscription.Subscription, quote *subscription.ChangeQuote) error
}

// Deps bundles the services the API server exposes
type Deps struct {
	Subscriptions subscription.Service
	Coupons       coupon.Service
	Credits       credit.Service
	Quota         QuotaService
	Entitlements  EntitlementCache
	Charger       UpgradeCharger
	Logger        *observability.Logger
	Metrics       *observability.Metrics

	// FreshAllowanceOnReactivate re-grants the monthly free allowance when
	// a canceled subscription reactivates mid-period.
	FreshAllowanceOnReactivate bool
}

// Server is the entitlement API server
type Server struct {
	deps   Deps
	router *mux.Router
}

// NewServer creates a new API server with all routes registered
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, router: mux.NewRouter()}

	s.router.Use(httputil.RequestIDMiddleware)
	if deps.Logger != nil {
		s.router.Use(httputil.LoggingMiddleware(deps.Logger, deps.Metrics))
		s.router.Use(httputil.RecoveryMiddleware(deps.Logger))
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Plan catalog
	s.router.HandleFunc("/plans", s.listPlans).Methods("GET")

	// Subscription lifecycle
	s.router.HandleFunc("/users/{user_id}/subscription", s.createSubscription).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription", s.getSubscription).Methods("GET")
	s.router.HandleFunc("/users/{user_id}/subscription/trial", s.startTrial).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/change", s.quoteChange).Methods("GET")
	s.router.HandleFunc("/users/{user_id}/subscription/change", s.changePlan).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/cancel", s.cancelSubscription).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/pause", s.pauseSubscription).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/resume", s.resumeSubscription).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/reactivate", s.reactivateSubscription).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/payment-method", s.confirmPaymentMethod).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/subscription/storage-override", s.setStorageOverride).Methods("PUT")

	// Coupons
	s.router.HandleFunc("/coupons/{code}/validate", s.validateCoupon).Methods("GET")
	s.router.HandleFunc("/users/{user_id}/coupons", s.applyCoupon).Methods("POST")

	// Credits
	s.router.HandleFunc("/users/{user_id}/credits", s.getCredits).Methods("GET")
	s.router.HandleFunc("/users/{user_id}/credits/spend", s.spendCredits).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/credits/purchase", s.purchaseCredits).Methods("POST")
	s.router.HandleFunc("/users/{user_id}/credits/transactions", s.listCreditTransactions).Methods("GET")

	// Quota
	s.router.HandleFunc("/users/{user_id}/quota", s.getQuota).Methods("GET")
	s.router.HandleFunc("/users/{user_id}/quota/check", s.checkQuota).Methods("POST")

	// Entitlement snapshot
	s.router.HandleFunc("/users/{user_id}/entitlement", s.getEntitlement).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// invalidate drops the cached snapshot after an entitlement mutation.
// Cache staleness never blocks the mutation itself.
func (s *Server) invalidate(ctx context.Context, userID int64) {
	if s.deps.Entitlements == nil {
		return
	}
	if err := s.deps.Entitlements.Invalidate(ctx, userID); err != nil && s.deps.Logger != nil {
		s.deps.Logger.WithError(err).WithUser(userID).Warn("failed to invalidate entitlement cache")
	}
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, plans.All())
}

// parsePlanCycle validates the plan and cycle fields shared by several
// subscription endpoints.
func parsePlanCycle(w http.ResponseWriter, plan, cycle string) (plans.PlanType, plans.BillingCycle, bool) {
	p := plans.PlanType(plan)
	if !p.Valid() {
		httputil.WriteBadRequest(w, "invalid plan: "+plan)
		return "", "", false
	}
	c := plans.BillingCycle(cycle)
	if cycle == "" {
		c = plans.CycleMonthly
	} else if !c.Valid() {
		httputil.WriteBadRequest(w, "invalid billing cycle: "+cycle)
		return "", "", false
	}
	return p, c, true
}
