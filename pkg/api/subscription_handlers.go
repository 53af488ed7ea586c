package api

import (
	"net/http"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/httputil"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
)

type changePlanRequest struct {
	Plan  string `json:"plan"`
	Cycle string `json:"billing_cycle"`
}

type pauseRequest struct {
	ResumeAt *time.Time `json:"resume_at,omitempty"`
}

type storageOverrideRequest struct {
	LimitBytes *int64 `json:"limit_bytes"`
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	sub, err := s.deps.Subscriptions.Create(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	sub, err := s.deps.Subscriptions.GetByUser(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

func (s *Server) startTrial(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req changePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	plan, cycle, ok := parsePlanCycle(w, req.Plan, req.Cycle)
	if !ok {
		return
	}

	sub, err := s.deps.Subscriptions.StartTrial(userID, plan, cycle)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteSuccess(w, sub)
}

// quoteChange previews a plan change without applying it
func (s *Server) quoteChange(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	plan, cycle, ok := parsePlanCycle(w, r.URL.Query().Get("plan"), r.URL.Query().Get("billing_cycle"))
	if !ok {
		return
	}

	quote, err := s.deps.Subscriptions.QuoteChange(userID, plan, cycle)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, quote)
}

// changePlan quotes and applies a plan change. Immediate upgrades collect
// the prorated charge before anything is persisted, so a declined card
// leaves the subscription untouched.
func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req changePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	plan, cycle, ok := parsePlanCycle(w, req.Plan, req.Cycle)
	if !ok {
		return
	}

	quote, err := s.deps.Subscriptions.QuoteChange(userID, plan, cycle)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if quote.Immediate && quote.ProrationCents > 0 && s.deps.Charger != nil {
		sub, err := s.deps.Subscriptions.GetByUser(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.deps.Charger.ChargeUpgrade(r.Context(), sub, quote); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	sub, err := s.deps.Subscriptions.ApplyChange(userID, quote)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteSuccess(w, sub)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	sub, err := s.deps.Subscriptions.Cancel(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteSuccess(w, sub)
}

func (s *Server) pauseSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req pauseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := s.deps.Subscriptions.Pause(userID, req.ResumeAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteSuccess(w, sub)
}

func (s *Server) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	sub, err := s.deps.Subscriptions.Resume(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteSuccess(w, sub)
}

func (s *Server) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	sub, err := s.deps.Subscriptions.Reactivate(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.deps.FreshAllowanceOnReactivate {
		amount := plans.Get(sub.Plan).MonthlyFreeCredits
		if amount > 0 {
			if err := s.deps.Credits.GrantFreeAllowance(userID, amount); err != nil && s.deps.Logger != nil {
				s.deps.Logger.WithError(err).WithUser(userID).Warn("failed to grant reactivation allowance")
			}
		}
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteSuccess(w, sub)
}

func (s *Server) confirmPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.deps.Subscriptions.ConfirmPaymentMethod(userID); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) setStorageOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req storageOverrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.LimitBytes != nil && *req.LimitBytes <= 0 {
		httputil.WriteBadRequest(w, "limit_bytes must be positive")
		return
	}

	if err := s.deps.Subscriptions.SetStorageOverride(userID, req.LimitBytes); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteNoContent(w)
}
