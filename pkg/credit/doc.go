// Package credit implements the usage-credit ledger: a monthly free
// allowance plus purchased credit batches, with an append-only transaction
// log.
//
// # Balance model
//
// A user's balance is the free allowance remainder plus the sum of all
// unexpired purchased batches. The free allowance resets once per billing
// period and never rolls over. Each purchased batch expires on its own
// schedule regardless of spend order.
//
// Spending consumes the free allowance first, then batches in expiry order
// (soonest-expiring first) so that credit about to lapse is used before
// credit with time left.
//
// # Usage Example
//
// Spend credits on a feature:
//
//	txn, err := service.Spend(userID, 25, "ai-thumbnail")
//	if credit.IsInsufficientCredit(err) {
//		// surface balance vs required to the caller
//	}
//
// # Related Packages
//
//   - pkg/billing: grants the free allowance on renewal and drives batch expiry
package credit
