// Package api provides the HTTP REST API for the entitlement engine.
//
// # Overview
//
// This package exposes subscription lifecycle, coupon, credit, quota, and
// entitlement snapshot operations as RESTful endpoints. It is the inner
// service surface consumed by the platform's edge; authentication and
// tenant resolution happen upstream, so handlers trust the user ID in the
// path.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into domain-specific handler groups:
//
//   - Subscription: create, trial, plan change, cancel, pause, resume, reactivate
//   - Coupons: validation and application against a user's subscription
//   - Credits: balance, spend, purchase, transaction history
//   - Quota: effective storage limit and upload pre-checks
//   - Entitlement: the cached denormalized snapshot for hot-path gates
//
// Typed domain errors map to structured JSON error responses: an
// insufficient credit balance returns 402 with the balance and required
// amount, a quota breach returns 403 with the limit arithmetic, and an
// invalid coupon returns 422 with the machine-readable reason.
//
// # Usage Example
//
//	server := api.NewServer(api.Deps{
//		Subscriptions: subService,
//		Coupons:       couponService,
//		Credits:       creditService,
//		Quota:         guard,
//		Entitlements:  entitlementCache,
//		Charger:       processor,
//		Logger:        logger,
//		Metrics:       metrics,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/httputil: response and request helpers the handlers build on
//   - pkg/billing: out-of-cycle upgrade charges
package api
