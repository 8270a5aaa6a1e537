// Package chi provides Chi-compatible middleware for x402 payment gating.
// Chi consumes stdlib func(http.Handler) http.Handler middleware directly, so
// this package re-exports the shared gate and adds router-mounting helpers.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httpx402 "github.com/mark3labs/x402-gate/http"
)

// NewMiddleware creates an x402 gate middleware in Chi's middleware shape.
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Use(chix402.NewMiddleware(cfg))
//	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
//	    payment, _ := httpx402.PaymentFromContext(r.Context())
//	    w.Write([]byte("Access granted! Payer: " + payment.Payer))
//	})
func NewMiddleware(cfg *httpx402.Config) func(http.Handler) http.Handler {
	return httpx402.NewMiddleware(cfg)
}

// Protect returns a router group with the gate applied, leaving the parent
// router's other routes unpaywalled.
func Protect(router chi.Router, cfg *httpx402.Config) chi.Router {
	return router.With(NewMiddleware(cfg))
}
