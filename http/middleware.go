// Package http provides HTTP middleware that gates handlers behind x402
// payments. Requirements are resolved per request, the payment pipeline runs
// against the facilitator, and admitted requests carry the payer and
// transaction hash in their context.
package http

import (
	"context"
	"log/slog"
	"net/http"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/http/internal/helpers"
	"github.com/mark3labs/x402-gate/server"
)

// RequirementsResolver supplies the payment terms for a request: which token,
// how much, and to whom. Implementations may also satisfy the optional
// observer interfaces to be notified of payment outcomes.
type RequirementsResolver interface {
	Resolve(r *http.Request) (server.RequirementsConfig, error)
}

// PaymentObserver is notified after a payment settles and before the
// downstream handler runs.
type PaymentObserver interface {
	OnPaymentSuccess(r *http.Request, payer, txHash string)
}

// ChallengeObserver is notified whenever a 402 body is written.
type ChallengeObserver interface {
	On402(r *http.Request, response *x402gate.PaymentRequiredResponse)
}

// ErrorObserver is notified of configuration and unexpected errors.
type ErrorObserver interface {
	OnError(err error, r *http.Request)
}

// StaticResolver resolves every request to the same payment terms.
type StaticResolver struct {
	Config server.RequirementsConfig
}

func (s StaticResolver) Resolve(*http.Request) (server.RequirementsConfig, error) {
	return s.Config, nil
}

// Config holds the gate middleware configuration.
type Config struct {
	// Server runs the payment pipeline. Required.
	Server *server.Server

	// Resolver supplies per-request payment terms. Required.
	Resolver RequirementsResolver

	Logger *slog.Logger
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing settled payment information.
const PaymentContextKey = contextKey("x402_payment")

// Payment is the request-scoped record of a settled payment.
type Payment struct {
	Payer  string
	TxHash string
}

// PaymentFromContext returns the settled payment attached by the middleware.
func PaymentFromContext(ctx context.Context) (*Payment, bool) {
	payment, ok := ctx.Value(PaymentContextKey).(*Payment)
	return payment, ok
}

// NewMiddleware creates the x402 gate middleware. OPTIONS requests pass
// through untouched for CORS preflight support.
func NewMiddleware(cfg *Config) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			reqConfig, err := cfg.Resolver.Resolve(r)
			if err != nil {
				notifyError(cfg.Resolver, err, r)
				logger.Error("requirements resolution failed", "path", r.URL.Path, "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if reqConfig.Resource == "" {
				reqConfig.Resource = helpers.ResourceURL(r)
			}
			if reqConfig.Description == "" {
				reqConfig.Description = "Payment required for " + r.URL.Path
			}

			requirements, err := cfg.Server.CreateRequirements(r.Context(), reqConfig)
			if err != nil {
				notifyError(cfg.Resolver, err, r)
				if ve, ok := x402gate.AsValidationError(err); ok {
					logger.Warn("invalid payment configuration", "path", r.URL.Path, "error", err)
					helpers.WriteValidationError(w, ve)
					return
				}
				logger.Error("failed to build payment requirements", "path", r.URL.Path, "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			paymentHeader := r.Header.Get("X-PAYMENT")
			result := cfg.Server.Process(r.Context(), paymentHeader, *requirements)
			if !result.Success {
				if result.Status == http.StatusPaymentRequired {
					if observer, ok := cfg.Resolver.(ChallengeObserver); ok {
						observer.On402(r, result.Response)
					}
				}
				helpers.WriteProcessFailure(w, result)
				return
			}

			// A cancelled request is not admitted and fires no success hook.
			if r.Context().Err() != nil {
				return
			}

			if err := helpers.AddPaymentResponseHeader(w, x402gate.SettleResult{
				Success:     true,
				Transaction: result.TxHash,
				Network:     requirements.Network,
			}); err != nil {
				logger.Warn("failed to add payment response header", "error", err)
			}

			if observer, ok := cfg.Resolver.(PaymentObserver); ok {
				observer.OnPaymentSuccess(r, result.Payer, result.TxHash)
			}

			payment := &Payment{Payer: result.Payer, TxHash: result.TxHash}
			ctx := context.WithValue(r.Context(), PaymentContextKey, payment)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func notifyError(resolver RequirementsResolver, err error, r *http.Request) {
	if observer, ok := resolver.(ErrorObserver); ok {
		observer.OnError(err, r)
	}
}
