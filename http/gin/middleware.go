// Package gin provides Gin-compatible middleware for x402 payment gating.
// It is a thin adapter over the stdlib gate: requirements resolution, the
// payment pipeline, and response shapes are shared with the http package.
package gin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402gate "github.com/mark3labs/x402-gate"
	httpx402 "github.com/mark3labs/x402-gate/http"
	"github.com/mark3labs/x402-gate/http/internal/helpers"
)

// PaymentKey is the Gin context key holding the settled *httpx402.Payment.
const PaymentKey = "x402_payment"

// NewMiddleware creates an x402 gate middleware for Gin.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Resolves payment requirements per request
//   - Runs the parse, verify, settle pipeline against the facilitator
//   - Writes 402/500 pipeline failures and 400 configuration failures
//   - Stores the settled payment via c.Set(PaymentKey, payment) and in the
//     request context, then calls c.Next()
func NewMiddleware(cfg *httpx402.Config) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		r := c.Request

		reqConfig, err := cfg.Resolver.Resolve(r)
		if err != nil {
			notifyError(cfg, err, r)
			logger.Error("requirements resolution failed", "path", r.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
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
			notifyError(cfg, err, r)
			if ve, ok := x402gate.AsValidationError(err); ok {
				logger.Warn("invalid payment configuration", "path", r.URL.Path, "error", err)
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "Invalid payment configuration",
					"message": ve.Message,
					"details": ve.Issues,
				})
				return
			}
			logger.Error("failed to build payment requirements", "path", r.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		result := cfg.Server.Process(r.Context(), c.GetHeader("X-PAYMENT"), *requirements)
		if !result.Success {
			if result.Status == http.StatusPaymentRequired {
				if observer, ok := cfg.Resolver.(httpx402.ChallengeObserver); ok {
					observer.On402(r, result.Response)
				}
			}
			c.AbortWithStatusJSON(result.Status, result.Response)
			return
		}

		// A cancelled request is not admitted and fires no success hook.
		if r.Context().Err() != nil {
			c.Abort()
			return
		}

		if err := helpers.AddPaymentResponseHeader(c.Writer, x402gate.SettleResult{
			Success:     true,
			Transaction: result.TxHash,
			Network:     requirements.Network,
		}); err != nil {
			logger.Warn("failed to add payment response header", "error", err)
		}
		if observer, ok := cfg.Resolver.(httpx402.PaymentObserver); ok {
			observer.OnPaymentSuccess(r, result.Payer, result.TxHash)
		}

		payment := &httpx402.Payment{Payer: result.Payer, TxHash: result.TxHash}
		c.Set(PaymentKey, payment)
		ctx := context.WithValue(r.Context(), httpx402.PaymentContextKey, payment)
		c.Request = r.WithContext(ctx)
		c.Next()
	}
}

func notifyError(cfg *httpx402.Config, err error, r *http.Request) {
	if observer, ok := cfg.Resolver.(httpx402.ErrorObserver); ok {
		observer.OnError(err, r)
	}
}
