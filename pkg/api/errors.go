package api

import (
	"errors"
	"net/http"

	"github.com/rambozzang/ongo-sub007/pkg/billing"
	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/credit"
	"github.com/rambozzang/ongo-sub007/pkg/httputil"
	"github.com/rambozzang/ongo-sub007/pkg/quota"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

// writeDomainError maps typed domain errors onto HTTP responses. The body
// always carries the machine-readable fields callers need to render an
// actionable message, never just prose.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *credit.InsufficientCreditError
	if errors.As(err, &insufficient) {
		httputil.WriteTypedError(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", insufficient)
		return
	}

	var exceeded *quota.StorageQuotaExceededError
	if errors.As(err, &exceeded) {
		httputil.WriteTypedError(w, http.StatusForbidden, "STORAGE_QUOTA_EXCEEDED", exceeded)
		return
	}

	var invalidCoupon *coupon.CouponInvalidError
	if errors.As(err, &invalidCoupon) {
		httputil.WriteTypedError(w, http.StatusUnprocessableEntity, "COUPON_INVALID", map[string]string{
			"code":   invalidCoupon.Code,
			"reason": string(invalidCoupon.Reason),
		})
		return
	}

	var declined *billing.ChargeDeclinedError
	if errors.As(err, &declined) {
		httputil.WriteTypedError(w, http.StatusPaymentRequired, "CHARGE_DECLINED", map[string]string{
			"reason": declined.Reason,
		})
		return
	}

	var badTransition *subscription.InvalidStateTransitionError
	if errors.As(err, &badTransition) {
		httputil.WriteTypedError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", map[string]string{
			"from": string(badTransition.From),
			"to":   string(badTransition.To),
		})
		return
	}

	switch {
	case errors.Is(err, subscription.ErrNotFound):
		httputil.WriteNotFoundError(w, "subscription not found")
	case errors.Is(err, coupon.ErrNotFound):
		httputil.WriteNotFoundError(w, "coupon not found")
	case errors.Is(err, subscription.ErrVersionConflict):
		httputil.WriteConflict(w, "subscription modified concurrently, retry")
	default:
		httputil.WriteInternalError(w, err)
	}
}
