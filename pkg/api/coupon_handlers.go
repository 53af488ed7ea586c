package api

import (
	"net/http"

	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/httputil"
)

type applyCouponRequest struct {
	Code string `json:"code"`
}

// validateCoupon checks a coupon against a user and plan without consuming
// a use
func (s *Server) validateCoupon(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	userID, err := httputil.ParseQueryInt64(r, "user_id", 0)
	if err != nil || userID <= 0 {
		httputil.WriteBadRequest(w, "user_id query parameter is required")
		return
	}
	plan, cycle, ok := parsePlanCycle(w, r.URL.Query().Get("plan"), r.URL.Query().Get("billing_cycle"))
	if !ok {
		return
	}

	validation, err := s.deps.Coupons.Validate(code, userID, plan, cycle)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, validation)
}

// applyCoupon consumes a coupon use against the user's subscription and
// attaches the code for renewal-time re-validation.
func (s *Server) applyCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req applyCouponRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") {
		return
	}

	sub, err := s.deps.Subscriptions.GetByUser(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	usage, err := s.deps.Coupons.Apply(req.Code, userID, sub.ID)
	if err != nil {
		if s.deps.Metrics != nil && coupon.IsCouponInvalid(err) {
			s.deps.Metrics.CouponAppliesTotal.WithLabelValues("rejected").Inc()
		}
		writeDomainError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CouponAppliesTotal.WithLabelValues("applied").Inc()
	}
	if err := s.deps.Subscriptions.AttachCoupon(userID, req.Code); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, usage)
}
