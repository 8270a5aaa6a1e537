package x402gate

import (
	"errors"
	"fmt"
)

// Standard x402 error definitions.

var (
	// ErrMissingPaymentHeader indicates the X-PAYMENT header was absent or empty.
	ErrMissingPaymentHeader = errors.New("missing_payment_header")

	// ErrInvalidPaymentHeader indicates the X-PAYMENT header failed to decode or validate.
	ErrInvalidPaymentHeader = errors.New("invalid_payment_header")

	// ErrPayerNotFound indicates the facilitator verified the payment but
	// returned no recovered payer address.
	ErrPayerNotFound = errors.New("Payer address not found in verification result")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("unsupported x402 version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unsupported blockchain network.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrNoAdvancedMethods indicates the token supports none of the
	// signature-based transfer methods.
	ErrNoAdvancedMethods = errors.New("token does not support advanced payment methods")

	// ErrPaymentTypeRequired indicates auto-detection was disabled without an
	// explicit payment type.
	ErrPaymentTypeRequired = errors.New("must specify paymentType when autoDetect is false")

	// ErrFacilitatorUnavailable indicates the facilitator service is unreachable.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("verification failed")
)

// ValidationError reports a server-side configuration value that failed
// schema validation. The gate middleware maps it to HTTP 400 rather than 402.
type ValidationError struct {
	// Message summarizes the failure.
	Message string

	// Issues lists the individual field problems.
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Issues)
}

// NewValidationError creates a ValidationError with the given summary and issues.
func NewValidationError(message string, issues ...string) *ValidationError {
	return &ValidationError{Message: message, Issues: issues}
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// SupportError reports that the facilitator's declared support matrix has no
// entry for the requested (network, asset, paymentType) combination. It is a
// fatal configuration error; Supported enumerates what the facilitator offers.
type SupportError struct {
	Network     string
	Asset       string
	PaymentType PaymentType
	Supported   []string
}

func (e *SupportError) Error() string {
	msg := fmt.Sprintf("facilitator does not support %s for %s on %s", e.PaymentType, e.Asset, e.Network)
	if len(e.Supported) > 0 {
		msg += fmt.Sprintf("; supported combinations: %v", e.Supported)
	}
	return msg
}
