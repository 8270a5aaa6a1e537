// Package encoding converts x402 wire values between Go structs and the
// base64-JSON strings carried in HTTP headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402gate "github.com/mark3labs/x402-gate"
)

// base64JSONPrefix is tolerated at the front of an X-PAYMENT header value and
// stripped before decoding.
const base64JSONPrefix = "data:application/json;base64,"

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for an X-PAYMENT header.
//
// Returns an error if JSON marshaling fails.
func EncodePayment(payment x402gate.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts an X-PAYMENT header value to a PaymentPayload. A
// leading "data:application/json;base64," prefix is stripped.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodePayment(encoded string) (x402gate.PaymentPayload, error) {
	var payment x402gate.PaymentPayload

	encoded = strings.TrimPrefix(encoded, base64JSONPrefix)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EncodeSettlement converts a SettleResult to a base64-encoded JSON string
// for the X-PAYMENT-RESPONSE header.
//
// Returns an error if JSON marshaling fails.
func EncodeSettlement(settlement x402gate.SettleResult) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettleResult.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodeSettlement(encoded string) (x402gate.SettleResult, error) {
	var settlement x402gate.SettleResult

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}

// EncodeRequirements converts a PaymentRequiredResponse to base64-encoded JSON.
//
// Returns an error if JSON marshaling fails.
func EncodeRequirements(response x402gate.PaymentRequiredResponse) (string, error) {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(responseJSON), nil
}

// DecodeRequirements converts base64-encoded JSON to a PaymentRequiredResponse.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodeRequirements(encoded string) (x402gate.PaymentRequiredResponse, error) {
	var response x402gate.PaymentRequiredResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return response, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &response); err != nil {
		return response, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	return response, nil
}
