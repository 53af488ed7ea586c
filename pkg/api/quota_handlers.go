package api

import (
	"net/http"

	"github.com/rambozzang/ongo-sub007/pkg/httputil"
	"github.com/rambozzang/ongo-sub007/pkg/quota"
)

type quotaCheckRequest struct {
	AdditionalBytes int64 `json:"additional_bytes"`
}

type quotaResponse struct {
	LimitBytes int64 `json:"limit_bytes"`
}

func (s *Server) getQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	limit, err := s.deps.Quota.EffectiveStorageLimit(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, quotaResponse{LimitBytes: limit})
}

// checkQuota pre-checks an upload. 204 means the bytes fit; 403 carries
// the limit arithmetic when they do not.
func (s *Server) checkQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req quotaCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.AdditionalBytes, "additional_bytes") {
		return
	}

	if err := s.deps.Quota.CheckQuota(r.Context(), userID, req.AdditionalBytes); err != nil {
		if s.deps.Metrics != nil && quota.IsStorageQuotaExceeded(err) {
			s.deps.Metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
		}
		writeDomainError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
	}
	httputil.WriteNoContent(w)
}

func (s *Server) getEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	snap, err := s.deps.Entitlements.Get(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, snap)
}
