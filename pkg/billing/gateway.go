package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// StubGateway is a PaymentGateway that approves every charge. It stands in
// for the real payment provider integration; deployments wire the provider
// adapter here.
type StubGateway struct{}

// NewStubGateway creates a new StubGateway
func NewStubGateway() *StubGateway {
	return &StubGateway{}
}

// Charge approves the charge with a generated transaction reference
func (g *StubGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{
		Success:        true,
		TransactionRef: fmt.Sprintf("txn_%s", uuid.New().String()),
	}, nil
}
