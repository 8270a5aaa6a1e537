package x402gate

import (
	"context"
	"math/big"
)

// WaitUntil selects how far the facilitator waits before answering /settle.
// Only "confirmed" is sent today; "simulated" and "submitted" are reserved.
type WaitUntil string

const (
	WaitConfirmed WaitUntil = "confirmed"
	WaitSimulated WaitUntil = "simulated"
	WaitSubmitted WaitUntil = "submitted"
)

// Facilitator is the remote service that cryptographically verifies payment
// authorizations and submits on-chain settlement. The HTTP implementation
// lives in the facilitator package.
type Facilitator interface {
	// Verify checks a payment authorization without executing the transfer.
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResult, error)

	// Settle executes a verified payment on-chain.
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, waitUntil WaitUntil) (*SettleResult, error)

	// Supported queries the facilitator's declared support matrix.
	Supported(ctx context.Context, chainID *big.Int, tokenAddress string) (*SupportedResponse, error)
}

// VerifyResult is the facilitator's answer to /verify.
type VerifyResult struct {
	Success      bool   `json:"success"`
	Payer        string `json:"payer,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Reason returns the most specific failure text the facilitator provided.
func (r *VerifyResult) Reason() string {
	if r.Error != "" {
		return r.Error
	}
	return r.ErrorMessage
}

// SettleResult is the facilitator's answer to /settle.
type SettleResult struct {
	Success      bool                   `json:"success"`
	Transaction  string                 `json:"transaction,omitempty"`
	Network      string                 `json:"network,omitempty"`
	Receipt      map[string]interface{} `json:"receipt,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
}

// Reason returns the most specific failure text the facilitator provided.
func (r *SettleResult) Reason() string {
	if r.Error != "" {
		return r.Error
	}
	return r.ErrorMessage
}

// SupportedEIP712 is the EIP-712 domain the facilitator knows for an asset.
type SupportedEIP712 struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	PrimaryType string `json:"primaryType"`
}

// SupportedAsset is one asset entry inside a supported kind.
type SupportedAsset struct {
	Address string          `json:"address"`
	EIP712  SupportedEIP712 `json:"eip712"`
}

// SupportedKindExtra carries the per-kind asset list.
type SupportedKindExtra struct {
	Assets []SupportedAsset `json:"assets,omitempty"`
}

// SupportedKind describes one (scheme, network) combination the facilitator accepts.
type SupportedKind struct {
	X402Version int                `json:"x402Version"`
	Scheme      string             `json:"scheme"`
	Network     string             `json:"network"`
	Extra       SupportedKindExtra `json:"extra,omitempty"`
}

// SupportedResponse lists every payment kind the facilitator accepts.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
