// Package validation checks x402 wire values and server-side payment
// configuration before they reach the facilitator.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/gagliardetto/solana-go"

	x402gate "github.com/mark3labs/x402-gate"
)

// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAmount validates that an amount string is a non-negative decimal
// integer. Amounts are base units of the token and may exceed 64-bit range.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() < 0 {
		return fmt.Errorf("amount cannot be negative, got: %s", amount)
	}

	return nil
}

// ValidateAddress validates an address for the given network. EVM networks
// expect a 20-byte hex address; Solana networks expect a base58 public key.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch x402gate.NetworkTypeOf(network) {
	case x402gate.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case x402gate.NetworkTypeSVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address format: %s: %w", address, err)
		}
		return nil

	default:
		return fmt.Errorf("cannot validate address: unsupported network %q", network)
	}
}

// ValidateEVMAddress validates a 20-byte hex address independent of network.
func ValidateEVMAddress(address string) error {
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
	}
	return nil
}

// ValidateRequirements performs full validation of an emitted payment
// requirement: amount, network, addresses, scheme, payment type, timeout, and
// the EIP-712 domain fields when present.
func ValidateRequirements(req x402gate.PaymentRequirements) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Network == "" {
		return fmt.Errorf("invalid requirement: network cannot be empty")
	}

	networkType := x402gate.NetworkTypeOf(req.Network)
	if networkType == x402gate.NetworkTypeUnknown {
		return fmt.Errorf("invalid requirement: unsupported network %q", req.Network)
	}

	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}

	if req.Asset == "" {
		return fmt.Errorf("invalid requirement: asset address cannot be empty")
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.Scheme != x402gate.SchemeExact {
		if req.Scheme == "" {
			return fmt.Errorf("invalid requirement: scheme cannot be empty")
		}
		return fmt.Errorf("invalid requirement: unsupported scheme %s", req.Scheme)
	}

	switch req.PaymentType {
	case x402gate.PaymentTypePermit, x402gate.PaymentTypeEIP3009, x402gate.PaymentTypePermit2:
		// Concrete types only; "auto" must be resolved before emission.
	default:
		return fmt.Errorf("invalid requirement: unsupported paymentType %s", req.PaymentType)
	}

	if req.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid requirement: timeout must be positive: %d", req.MaxTimeoutSeconds)
	}

	if networkType == x402gate.NetworkTypeEVM && req.Extra != nil {
		if name, ok := req.Extra["name"].(string); ok && name == "" {
			return fmt.Errorf("invalid requirement: EIP-712 domain name cannot be empty")
		}
		if version, ok := req.Extra["version"].(string); ok && version == "" {
			return fmt.Errorf("invalid requirement: EIP-712 domain version cannot be empty")
		}
	}

	return nil
}

// ValidatePayload validates a decoded client payment payload: protocol
// version, scheme, network, and the typed authorization variant.
func ValidatePayload(payment x402gate.PaymentPayload) error {
	if payment.X402Version != x402gate.ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", payment.X402Version)
	}

	if payment.Scheme != x402gate.SchemeExact {
		if payment.Scheme == "" {
			return fmt.Errorf("scheme cannot be empty")
		}
		return fmt.Errorf("unsupported scheme: %s", payment.Scheme)
	}

	if payment.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}

	switch payment.Payload.Type {
	case x402gate.PaymentTypePermit:
		return validatePermit(payment.Payload.Permit, payment.Network)
	case x402gate.PaymentTypeEIP3009:
		return validateEIP3009(payment.Payload.EIP3009, payment.Network)
	case x402gate.PaymentTypePermit2:
		return validatePermit2(payment.Payload.Permit2, payment.Network)
	case "":
		return fmt.Errorf("payload missing authorizationType")
	default:
		return fmt.Errorf("unsupported authorizationType: %s", payment.Payload.Type)
	}
}

func validatePermit(p *x402gate.PermitAuthorization, network string) error {
	if p == nil {
		return fmt.Errorf("permit payload cannot be nil")
	}
	if err := ValidateAddress(p.Owner, network); err != nil {
		return fmt.Errorf("permit owner: %w", err)
	}
	if err := ValidateAddress(p.Spender, network); err != nil {
		return fmt.Errorf("permit spender: %w", err)
	}
	if err := ValidateAmount(p.Value); err != nil {
		return fmt.Errorf("permit value: %w", err)
	}
	if p.Signature == "" {
		return fmt.Errorf("permit signature cannot be empty")
	}
	return nil
}

func validateEIP3009(p *x402gate.EIP3009Authorization, network string) error {
	if p == nil {
		return fmt.Errorf("eip3009 payload cannot be nil")
	}
	if err := ValidateAddress(p.From, network); err != nil {
		return fmt.Errorf("eip3009 from: %w", err)
	}
	if err := ValidateAddress(p.To, network); err != nil {
		return fmt.Errorf("eip3009 to: %w", err)
	}
	if err := ValidateAmount(p.Value); err != nil {
		return fmt.Errorf("eip3009 value: %w", err)
	}
	if p.Nonce == "" {
		return fmt.Errorf("eip3009 nonce cannot be empty")
	}
	if p.Signature == "" {
		return fmt.Errorf("eip3009 signature cannot be empty")
	}
	return nil
}

func validatePermit2(p *x402gate.Permit2Authorization, network string) error {
	if p == nil {
		return fmt.Errorf("permit2 payload cannot be nil")
	}
	if err := ValidateAddress(p.From, network); err != nil {
		return fmt.Errorf("permit2 from: %w", err)
	}
	if err := ValidateAddress(p.Spender, network); err != nil {
		return fmt.Errorf("permit2 spender: %w", err)
	}
	if err := ValidateAddress(p.Permitted.Token, network); err != nil {
		return fmt.Errorf("permit2 token: %w", err)
	}
	if err := ValidateAmount(p.Permitted.Amount); err != nil {
		return fmt.Errorf("permit2 amount: %w", err)
	}
	if p.Signature == "" {
		return fmt.Errorf("permit2 signature cannot be empty")
	}
	return nil
}
