// Package helpers provides shared functions for the x402 HTTP middleware
// implementations so the stdlib, Gin, and Chi gates behave identically.
package helpers

import (
	"encoding/json"
	"net/http"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/encoding"
)

// ResourceURL reconstructs the absolute URL of the protected resource.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

// WriteJSON writes status and a JSON body. Encoding errors are ignored; the
// status line is already committed.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteProcessFailure writes the pipeline's 402 or 500 outcome.
func WriteProcessFailure(w http.ResponseWriter, result x402gate.ProcessResult) {
	WriteJSON(w, result.Status, result.Response)
}

// validationErrorBody is the 400 response for server-side config problems.
type validationErrorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// WriteValidationError writes a 400 with the schema-validation issues.
func WriteValidationError(w http.ResponseWriter, ve *x402gate.ValidationError) {
	WriteJSON(w, http.StatusBadRequest, validationErrorBody{
		Error:   "Invalid payment configuration",
		Message: ve.Message,
		Details: ve.Issues,
	})
}

// AddPaymentResponseHeader sets the X-PAYMENT-RESPONSE header carrying the
// base64-encoded settlement outcome.
//
// Returns an error if encoding fails.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement x402gate.SettleResult) error {
	encoded, err := encoding.EncodeSettlement(settlement)
	if err != nil {
		return err
	}
	w.Header().Set("X-PAYMENT-RESPONSE", encoded)
	return nil
}
