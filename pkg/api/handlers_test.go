package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rambozzang/ongo-sub007/pkg/billing"
	"github.com/rambozzang/ongo-sub007/pkg/cache"
	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/credit"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
	"github.com/rambozzang/ongo-sub007/pkg/quota"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

type mockSubscriptionService struct {
	createFunc        func(int64) (*subscription.Subscription, error)
	getByUserFunc     func(int64) (*subscription.Subscription, error)
	startTrialFunc    func(int64, plans.PlanType, plans.BillingCycle) (*subscription.Subscription, error)
	quoteChangeFunc   func(int64, plans.PlanType, plans.BillingCycle) (*subscription.ChangeQuote, error)
	applyChangeFunc   func(int64, *subscription.ChangeQuote) (*subscription.Subscription, error)
	cancelFunc        func(int64) (*subscription.Subscription, error)
	pauseFunc         func(int64, *time.Time) (*subscription.Subscription, error)
	resumeFunc        func(int64) (*subscription.Subscription, error)
	reactivateFunc    func(int64) (*subscription.Subscription, error)
	attachCouponFunc  func(int64, string) error
	setOverrideFunc   func(int64, *int64) error
	confirmFunc       func(int64) error
}

func (m *mockSubscriptionService) Create(userID int64) (*subscription.Subscription, error) {
	return m.createFunc(userID)
}

func (m *mockSubscriptionService) GetByUser(userID int64) (*subscription.Subscription, error) {
	return m.getByUserFunc(userID)
}

func (m *mockSubscriptionService) StartTrial(userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*subscription.Subscription, error) {
	return m.startTrialFunc(userID, plan, cycle)
}

func (m *mockSubscriptionService) QuoteChange(userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*subscription.ChangeQuote, error) {
	return m.quoteChangeFunc(userID, plan, cycle)
}

func (m *mockSubscriptionService) ApplyChange(userID int64, quote *subscription.ChangeQuote) (*subscription.Subscription, error) {
	return m.applyChangeFunc(userID, quote)
}

func (m *mockSubscriptionService) Cancel(userID int64) (*subscription.Subscription, error) {
	return m.cancelFunc(userID)
}

func (m *mockSubscriptionService) Pause(userID int64, resumeAt *time.Time) (*subscription.Subscription, error) {
	return m.pauseFunc(userID, resumeAt)
}

func (m *mockSubscriptionService) Resume(userID int64) (*subscription.Subscription, error) {
	return m.resumeFunc(userID)
}

func (m *mockSubscriptionService) Reactivate(userID int64) (*subscription.Subscription, error) {
	return m.reactivateFunc(userID)
}

func (m *mockSubscriptionService) ConfirmPaymentMethod(userID int64) error {
	return m.confirmFunc(userID)
}

func (m *mockSubscriptionService) AttachCoupon(userID int64, code string) error {
	return m.attachCouponFunc(userID, code)
}

func (m *mockSubscriptionService) SetStorageOverride(userID int64, limitBytes *int64) error {
	return m.setOverrideFunc(userID, limitBytes)
}

func (m *mockSubscriptionService) Save(sub *subscription.Subscription) error { return nil }

func (m *mockSubscriptionService) ListDueForBilling(limit int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) ListTrialsEnding(limit int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) ListGraceExpired(limit int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) ListPastDueRetries(limit int) ([]*subscription.Subscription, error) {
	return nil, nil
}

func (m *mockSubscriptionService) ListDueResumes(limit int) ([]*subscription.Subscription, error) {
	return nil, nil
}

type mockCouponService struct {
	getFunc      func(string) (*coupon.Coupon, error)
	validateFunc func(string, int64, plans.PlanType, plans.BillingCycle) (*coupon.Validation, error)
	applyFunc    func(string, int64, int64) (*coupon.Usage, error)
}

func (m *mockCouponService) GetCoupon(code string) (*coupon.Coupon, error) { return m.getFunc(code) }

func (m *mockCouponService) Validate(code string, userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*coupon.Validation, error) {
	return m.validateFunc(code, userID, plan, cycle)
}

func (m *mockCouponService) Apply(code string, userID, subscriptionID int64) (*coupon.Usage, error) {
	return m.applyFunc(code, userID, subscriptionID)
}

type mockCreditService struct {
	getLedgerFunc func(int64) (*credit.Ledger, error)
	spendFunc     func(int64, int64, string) (*credit.Transaction, error)
	purchaseFunc  func(int64, string, string) (*credit.Batch, error)
	listFunc      func(int64, int) ([]*credit.Transaction, error)
	grants        []int64
}

func (m *mockCreditService) GetLedger(userID int64) (*credit.Ledger, error) {
	return m.getLedgerFunc(userID)
}

func (m *mockCreditService) Balance(userID int64) (int64, error) { return 0, nil }

func (m *mockCreditService) Spend(userID int64, amount int64, feature string) (*credit.Transaction, error) {
	return m.spendFunc(userID, amount, feature)
}

func (m *mockCreditService) Purchase(userID int64, packageType, paymentRef string) (*credit.Batch, error) {
	return m.purchaseFunc(userID, packageType, paymentRef)
}

func (m *mockCreditService) GrantFreeAllowance(userID int64, amount int64) error {
	m.grants = append(m.grants, amount)
	return nil
}

func (m *mockCreditService) ExpireBatches() (int64, error) { return 0, nil }

func (m *mockCreditService) ListTransactions(userID int64, limit int) ([]*credit.Transaction, error) {
	return m.listFunc(userID, limit)
}

type mockQuota struct {
	limitFunc func(int64) (int64, error)
	checkFunc func(context.Context, int64, int64) error
}

func (m *mockQuota) EffectiveStorageLimit(userID int64) (int64, error) { return m.limitFunc(userID) }

func (m *mockQuota) CheckQuota(ctx context.Context, userID int64, additionalBytes int64) error {
	return m.checkFunc(ctx, userID, additionalBytes)
}

type mockEntitlements struct {
	getFunc       func(context.Context, int64) (*cache.Snapshot, error)
	invalidations []int64
}

func (m *mockEntitlements) Get(ctx context.Context, userID int64) (*cache.Snapshot, error) {
	return m.getFunc(ctx, userID)
}

func (m *mockEntitlements) Invalidate(ctx context.Context, userID int64) error {
	m.invalidations = append(m.invalidations, userID)
	return nil
}

type mockCharger struct {
	err   error
	calls int
}

func (m *mockCharger) ChargeUpgrade(ctx context.Context, sub *subscription.Subscription, quote *subscription.ChangeQuote) error {
	m.calls++
	return m.err
}

func activeProSub() *subscription.Subscription {
	return &subscription.Subscription{
		ID:     10,
		UserID: 1,
		Plan:   plans.PlanPro,
		Status: subscription.StatusActive,
		Cycle:  plans.CycleMonthly,
	}
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestGetSubscription(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s := NewServer(Deps{Subscriptions: &mockSubscriptionService{
			getByUserFunc: func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
		}})

		w := doRequest(s, "GET", "/users/1/subscription", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"plan":"pro"`)
	})

	t.Run("missing subscription returns 404", func(t *testing.T) {
		s := NewServer(Deps{Subscriptions: &mockSubscriptionService{
			getByUserFunc: func(int64) (*subscription.Subscription, error) { return nil, subscription.ErrNotFound },
		}})

		w := doRequest(s, "GET", "/users/1/subscription", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("non-numeric user id returns 400", func(t *testing.T) {
		s := NewServer(Deps{Subscriptions: &mockSubscriptionService{}})

		w := doRequest(s, "GET", "/users/abc/subscription", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChangePlan(t *testing.T) {
	upgradeQuote := &subscription.ChangeQuote{
		TargetPlan:     plans.PlanBusiness,
		TargetCycle:    plans.CycleMonthly,
		Immediate:      true,
		ProrationCents: 100000,
	}

	t.Run("immediate upgrade charges before applying", func(t *testing.T) {
		charger := &mockCharger{}
		ents := &mockEntitlements{}
		applied := false
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				getByUserFunc:   func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
				quoteChangeFunc: func(int64, plans.PlanType, plans.BillingCycle) (*subscription.ChangeQuote, error) { return upgradeQuote, nil },
				applyChangeFunc: func(userID int64, quote *subscription.ChangeQuote) (*subscription.Subscription, error) {
					applied = true
					sub := activeProSub()
					sub.Plan = quote.TargetPlan
					return sub, nil
				},
			},
			Charger:      charger,
			Entitlements: ents,
		})

		w := doRequest(s, "POST", "/users/1/subscription/change", changePlanRequest{Plan: "business", Cycle: "monthly"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, charger.calls)
		assert.True(t, applied)
		assert.Equal(t, []int64{1}, ents.invalidations)
	})

	t.Run("declined upgrade charge leaves subscription untouched", func(t *testing.T) {
		charger := &mockCharger{err: &billing.ChargeDeclinedError{UserID: 1, Reason: "card_declined"}}
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				getByUserFunc:   func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
				quoteChangeFunc: func(int64, plans.PlanType, plans.BillingCycle) (*subscription.ChangeQuote, error) { return upgradeQuote, nil },
				applyChangeFunc: func(int64, *subscription.ChangeQuote) (*subscription.Subscription, error) {
					t.Fatal("ApplyChange must not run after a declined charge")
					return nil, nil
				},
			},
			Charger: charger,
		})

		w := doRequest(s, "POST", "/users/1/subscription/change", changePlanRequest{Plan: "business", Cycle: "monthly"})

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Contains(t, w.Body.String(), "CHARGE_DECLINED")
	})

	t.Run("downgrade applies without charging", func(t *testing.T) {
		charger := &mockCharger{}
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				quoteChangeFunc: func(int64, plans.PlanType, plans.BillingCycle) (*subscription.ChangeQuote, error) {
					return &subscription.ChangeQuote{TargetPlan: plans.PlanFree, TargetCycle: plans.CycleMonthly}, nil
				},
				applyChangeFunc: func(int64, *subscription.ChangeQuote) (*subscription.Subscription, error) {
					return activeProSub(), nil
				},
			},
			Charger: charger,
		})

		w := doRequest(s, "POST", "/users/1/subscription/change", changePlanRequest{Plan: "free"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, charger.calls)
	})

	t.Run("unknown plan returns 400", func(t *testing.T) {
		s := NewServer(Deps{Subscriptions: &mockSubscriptionService{}})

		w := doRequest(s, "POST", "/users/1/subscription/change", changePlanRequest{Plan: "platinum"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSpendCredits(t *testing.T) {
	t.Run("insufficient balance returns 402 with the numbers", func(t *testing.T) {
		s := NewServer(Deps{Credits: &mockCreditService{
			spendFunc: func(int64, int64, string) (*credit.Transaction, error) {
				return nil, &credit.InsufficientCreditError{Balance: 10, Required: 25}
			},
		}})

		w := doRequest(s, "POST", "/users/1/credits/spend", spendCreditsRequest{Amount: 25, Feature: "video_export"})

		assert.Equal(t, http.StatusPaymentRequired, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "INSUFFICIENT_CREDITS", body["error"])
		details := body["details"].(map[string]interface{})
		assert.Equal(t, float64(10), details["balance"])
		assert.Equal(t, float64(25), details["required"])
	})

	t.Run("successful spend invalidates the snapshot", func(t *testing.T) {
		ents := &mockEntitlements{}
		s := NewServer(Deps{
			Credits: &mockCreditService{
				spendFunc: func(userID, amount int64, feature string) (*credit.Transaction, error) {
					return &credit.Transaction{UserID: userID, Amount: -amount, Feature: feature}, nil
				},
			},
			Entitlements: ents,
		})

		w := doRequest(s, "POST", "/users/1/credits/spend", spendCreditsRequest{Amount: 5, Feature: "thumbnail"})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, []int64{1}, ents.invalidations)
	})

	t.Run("non-positive amount returns 400", func(t *testing.T) {
		s := NewServer(Deps{Credits: &mockCreditService{}})

		w := doRequest(s, "POST", "/users/1/credits/spend", spendCreditsRequest{Amount: 0})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCheckQuota(t *testing.T) {
	t.Run("within limit returns 204", func(t *testing.T) {
		s := NewServer(Deps{Quota: &mockQuota{
			checkFunc: func(context.Context, int64, int64) error { return nil },
		}})

		w := doRequest(s, "POST", "/users/1/quota/check", quotaCheckRequest{AdditionalBytes: 100})

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("over limit returns 403 with arithmetic", func(t *testing.T) {
		s := NewServer(Deps{Quota: &mockQuota{
			checkFunc: func(context.Context, int64, int64) error {
				return &quota.StorageQuotaExceededError{LimitBytes: 1000, UsedBytes: 950, RequiredBytes: 100}
			},
		}})

		w := doRequest(s, "POST", "/users/1/quota/check", quotaCheckRequest{AdditionalBytes: 100})

		assert.Equal(t, http.StatusForbidden, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "STORAGE_QUOTA_EXCEEDED", body["error"])
		details := body["details"].(map[string]interface{})
		assert.Equal(t, float64(1000), details["limit_bytes"])
	})
}

func TestApplyCoupon(t *testing.T) {
	t.Run("applies and attaches for renewal", func(t *testing.T) {
		attached := ""
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				getByUserFunc: func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
				attachCouponFunc: func(userID int64, code string) error {
					attached = code
					return nil
				},
			},
			Coupons: &mockCouponService{
				applyFunc: func(code string, userID, subID int64) (*coupon.Usage, error) {
					assert.Equal(t, int64(10), subID)
					return &coupon.Usage{CouponID: 1, UserID: userID, SubscriptionID: subID}, nil
				},
			},
		})

		w := doRequest(s, "POST", "/users/1/coupons", applyCouponRequest{Code: "LAUNCH20"})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "LAUNCH20", attached)
	})

	t.Run("exhausted coupon returns 422 with reason", func(t *testing.T) {
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				getByUserFunc: func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
			},
			Coupons: &mockCouponService{
				applyFunc: func(string, int64, int64) (*coupon.Usage, error) {
					return nil, &coupon.CouponInvalidError{Code: "LAUNCH20", Reason: coupon.ReasonExhausted}
				},
			},
		})

		w := doRequest(s, "POST", "/users/1/coupons", applyCouponRequest{Code: "LAUNCH20"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "EXHAUSTED")
	})
}

func TestValidateCoupon(t *testing.T) {
	s := NewServer(Deps{Coupons: &mockCouponService{
		validateFunc: func(code string, userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*coupon.Validation, error) {
			assert.Equal(t, plans.PlanPro, plan)
			return &coupon.Validation{Valid: true, DiscountCents: 298000}, nil
		},
	}})

	w := doRequest(s, "GET", "/coupons/LAUNCH20/validate?user_id=1&plan=pro&billing_cycle=monthly", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"discount_cents":298000`)
}

func TestGetEntitlement(t *testing.T) {
	s := NewServer(Deps{Entitlements: &mockEntitlements{
		getFunc: func(ctx context.Context, userID int64) (*cache.Snapshot, error) {
			return &cache.Snapshot{UserID: userID, Plan: plans.PlanPro, CreditBalance: 750}, nil
		},
	}})

	w := doRequest(s, "GET", "/users/1/entitlement", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"credit_balance":750`)
}

func TestReactivateSubscription(t *testing.T) {
	t.Run("grants a fresh allowance when enabled", func(t *testing.T) {
		credits := &mockCreditService{}
		ents := &mockEntitlements{}
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				reactivateFunc: func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
			},
			Credits:                    credits,
			Entitlements:               ents,
			FreshAllowanceOnReactivate: true,
		})

		w := doRequest(s, "POST", "/users/1/subscription/reactivate", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []int64{plans.Get(plans.PlanPro).MonthlyFreeCredits}, credits.grants)
		assert.Equal(t, []int64{1}, ents.invalidations)
	})

	t.Run("skips the allowance by default", func(t *testing.T) {
		credits := &mockCreditService{}
		s := NewServer(Deps{
			Subscriptions: &mockSubscriptionService{
				reactivateFunc: func(int64) (*subscription.Subscription, error) { return activeProSub(), nil },
			},
			Credits: credits,
		})

		w := doRequest(s, "POST", "/users/1/subscription/reactivate", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, credits.grants)
	})
}
