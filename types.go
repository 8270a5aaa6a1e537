package x402gate

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the x402 protocol version carried in every payload and response.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme this server supports.
const SchemeExact = "exact"

// PaymentType identifies the EIP-712 authorization flavor a token transfer uses.
type PaymentType string

const (
	// PaymentTypePermit uses EIP-2612 permit authorizations.
	PaymentTypePermit PaymentType = "permit"

	// PaymentTypeEIP3009 uses EIP-3009 transferWithAuthorization.
	PaymentTypeEIP3009 PaymentType = "eip3009"

	// PaymentTypePermit2 uses the universal Permit2 contract.
	PaymentTypePermit2 PaymentType = "permit2"

	// PaymentTypeAuto requests detector-based selection in CreateRequirements.
	PaymentTypeAuto PaymentType = "auto"
)

// PrimaryType returns the EIP-712 primary type name the facilitator advertises
// for this payment type in its /supported response.
func (t PaymentType) PrimaryType() string {
	switch t {
	case PaymentTypePermit:
		return "Permit"
	case PaymentTypeEIP3009:
		return "TransferWithAuthorization"
	case PaymentTypePermit2:
		return "Permit2"
	default:
		return ""
	}
}

// PaymentRequirements describes the terms under which the server admits a request.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier; always "exact".
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "bsc", "base").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in base units of the token,
	// as a decimal string (may exceed 64-bit range).
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the ERC-20 token contract address.
	Asset string `json:"asset"`

	// PayTo is the merchant's receiving contract address.
	PayTo string `json:"payTo"`

	// PaymentType is the authorization flavor the server expects.
	PaymentType PaymentType `json:"paymentType"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource,omitempty"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// OutputSchema is an optional opaque mapping returned to the client.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Extra carries scheme-specific data. The detector injects the EIP-712
	// domain "name" and "version" here when known.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Stage identifies which pipeline stage produced a failure.
type Stage string

const (
	StageParse  Stage = "parse"
	StageVerify Stage = "verify"
	StageSettle Stage = "settle"
)

// PaymentRequiredResponse is the machine-readable body of a 402 (or
// settle-stage 500) response.
type PaymentRequiredResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Accepts lists the payment terms the server will admit.
	Accepts []PaymentRequirements `json:"accepts"`

	// Error is a human-readable failure reason, empty on a plain 402 challenge.
	Error string `json:"error,omitempty"`

	// ErrorStage names the pipeline stage that failed.
	ErrorStage Stage `json:"errorStage,omitempty"`
}

// PaymentPayload is the client-signed payment carried base64-JSON in the
// X-PAYMENT header.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier; must be "exact".
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload is the typed authorization, discriminated by authorizationType.
	Payload AuthorizationPayload `json:"payload"`
}

// AuthorizationPayload is a tagged union over the three EIP-712 authorization
// flavors. Exactly one of Permit, EIP3009, Permit2 is non-nil, matching Type.
type AuthorizationPayload struct {
	Type    PaymentType
	Permit  *PermitAuthorization
	EIP3009 *EIP3009Authorization
	Permit2 *Permit2Authorization
}

// PermitAuthorization carries EIP-2612 permit parameters plus the owner's signature.
type PermitAuthorization struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
}

// EIP3009Authorization carries transferWithAuthorization parameters plus the
// payer's signature.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// Permit2TokenPermissions is the permitted token and amount of a Permit2 transfer.
type Permit2TokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Permit2Authorization carries PermitTransferFrom parameters plus the owner's
// signature.
type Permit2Authorization struct {
	From      string                  `json:"from"`
	Permitted Permit2TokenPermissions `json:"permitted"`
	Spender   string                  `json:"spender"`
	Nonce     string                  `json:"nonce"`
	Deadline  string                  `json:"deadline"`
	Signature string                  `json:"signature"`
}

type authorizationEnvelope struct {
	Type PaymentType `json:"authorizationType"`
}

// MarshalJSON flattens the active variant alongside its authorizationType tag.
func (a AuthorizationPayload) MarshalJSON() ([]byte, error) {
	var inner interface{}
	switch a.Type {
	case PaymentTypePermit:
		if a.Permit == nil {
			return nil, fmt.Errorf("authorization payload missing %s variant", a.Type)
		}
		inner = a.Permit
	case PaymentTypeEIP3009:
		if a.EIP3009 == nil {
			return nil, fmt.Errorf("authorization payload missing %s variant", a.Type)
		}
		inner = a.EIP3009
	case PaymentTypePermit2:
		if a.Permit2 == nil {
			return nil, fmt.Errorf("authorization payload missing %s variant", a.Type)
		}
		inner = a.Permit2
	default:
		return nil, fmt.Errorf("unknown authorizationType: %q", a.Type)
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["authorizationType"] = json.RawMessage(fmt.Sprintf("%q", a.Type))
	return json.Marshal(fields)
}

// UnmarshalJSON dispatches on the authorizationType tag and decodes the
// matching typed variant.
func (a *AuthorizationPayload) UnmarshalJSON(data []byte) error {
	var env authorizationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Type {
	case PaymentTypePermit:
		var p PermitAuthorization
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.Permit = &p
	case PaymentTypeEIP3009:
		var p EIP3009Authorization
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.EIP3009 = &p
	case PaymentTypePermit2:
		var p Permit2Authorization
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		a.Permit2 = &p
	case "":
		return fmt.Errorf("payload missing authorizationType")
	default:
		return fmt.Errorf("unsupported authorizationType: %q", env.Type)
	}
	a.Type = env.Type
	return nil
}

// ProcessResult is the outcome of running the parse → verify → settle pipeline.
type ProcessResult struct {
	// Success reports whether the payment settled and the request may proceed.
	Success bool

	// Status is the HTTP status to write: 200 on success, 402 for parse and
	// verify failures, 500 for settle failures.
	Status int

	// Payer is the address recovered by the facilitator during verification.
	Payer string

	// TxHash is the settlement transaction hash.
	TxHash string

	// Response is the structured body to return when Success is false.
	Response *PaymentRequiredResponse
}
