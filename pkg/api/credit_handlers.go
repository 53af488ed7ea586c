package api

import (
	"net/http"

	"github.com/rambozzang/ongo-sub007/pkg/httputil"
)

type spendCreditsRequest struct {
	Amount  int64  `json:"amount"`
	Feature string `json:"feature"`
}

type purchaseCreditsRequest struct {
	Package    string `json:"package"`
	PaymentRef string `json:"payment_ref"`
}

func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	ledger, err := s.deps.Credits.GetLedger(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, ledger)
}

func (s *Server) spendCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req spendCreditsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.Amount, "amount") {
		return
	}

	txn, err := s.deps.Credits.Spend(userID, req.Amount, req.Feature)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CreditSpendTotal.WithLabelValues(req.Feature).Add(float64(req.Amount))
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteCreated(w, txn)
}

func (s *Server) purchaseCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req purchaseCreditsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Package, "package") {
		return
	}

	batch, err := s.deps.Credits.Purchase(userID, req.Package, req.PaymentRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidate(r.Context(), userID)
	httputil.WriteCreated(w, batch)
}

func (s *Server) listCreditTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	txns, err := s.deps.Credits.ListTransactions(userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, txns)
}
