package server

import (
	"context"
	"fmt"
	"strings"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/detect"
	"github.com/mark3labs/x402-gate/validation"
)

// Default field values for assembled requirements.
const (
	DefaultMaxTimeoutSeconds = 300
	DefaultMimeType          = "application/json"
)

// RequirementsConfig is the caller-supplied input to CreateRequirements.
// Asset and MaxAmountRequired are required; everything else has a default.
type RequirementsConfig struct {
	// Asset is the ERC-20 token contract address.
	Asset string

	// MaxAmountRequired is the payment amount in base units, as a decimal string.
	MaxAmountRequired string

	// PayTo is the merchant's receiving contract address.
	PayTo string

	// Network overrides the server's network resolution.
	Network string

	// Scheme must be empty or "exact".
	Scheme string

	// PaymentType pins the authorization flavor. Empty or "auto" defers to
	// detection.
	PaymentType x402gate.PaymentType

	// AutoDetect controls whether the token detector runs. Nil means true.
	AutoDetect *bool

	Resource          string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	OutputSchema      map[string]interface{}
	Extra             map[string]interface{}
}

// CreateRequirements validates the config, resolves the payment type
// (auto-detecting when unspecified), cross-checks facilitator support, and
// emits a validated PaymentRequirements.
func (s *Server) CreateRequirements(ctx context.Context, cfg RequirementsConfig) (*x402gate.PaymentRequirements, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	network, err := s.resolveNetwork(ctx, cfg.Network)
	if err != nil {
		return nil, err
	}

	paymentType, detected, err := s.resolvePaymentType(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := s.checkFacilitatorSupport(ctx, network, cfg.Asset, paymentType); err != nil {
		return nil, err
	}

	req := &x402gate.PaymentRequirements{
		Scheme:            x402gate.SchemeExact,
		Network:           network,
		MaxAmountRequired: cfg.MaxAmountRequired,
		Asset:             cfg.Asset,
		PayTo:             cfg.PayTo,
		PaymentType:       paymentType,
		Resource:          cfg.Resource,
		Description:       cfg.Description,
		MimeType:          cfg.MimeType,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		OutputSchema:      cfg.OutputSchema,
		Extra:             cloneExtra(cfg.Extra),
	}
	if req.MimeType == "" {
		req.MimeType = DefaultMimeType
	}
	if req.MaxTimeoutSeconds == 0 {
		req.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}

	// EIP-712 domain data from detection, without clobbering explicit values.
	if detected != nil {
		if req.Extra == nil {
			req.Extra = make(map[string]interface{})
		}
		if _, ok := req.Extra["name"]; !ok && detected.Name != "" {
			req.Extra["name"] = detected.Name
		}
		if _, ok := req.Extra["version"]; !ok && detected.Version != "" {
			req.Extra["version"] = detected.Version
		}
	}

	if issues := validation.CheckRequirements(*req); len(issues) > 0 {
		return nil, x402gate.NewValidationError("invalid payment configuration", issues...)
	}
	if err := validation.ValidateRequirements(*req); err != nil {
		return nil, x402gate.NewValidationError("invalid payment configuration", err.Error())
	}

	return req, nil
}

func validateConfig(cfg RequirementsConfig) error {
	var issues []string

	if err := validation.ValidateEVMAddress(cfg.Asset); err != nil {
		issues = append(issues, fmt.Sprintf("asset: %v", err))
	}
	if err := validation.ValidateAmount(cfg.MaxAmountRequired); err != nil {
		issues = append(issues, fmt.Sprintf("maxAmountRequired: %v", err))
	}
	if cfg.PayTo == "" {
		issues = append(issues, "payTo: address cannot be empty")
	} else if err := validation.ValidateEVMAddress(cfg.PayTo); err != nil {
		issues = append(issues, fmt.Sprintf("payTo: %v", err))
	}
	if cfg.Scheme != "" && cfg.Scheme != x402gate.SchemeExact {
		issues = append(issues, fmt.Sprintf("scheme: unsupported scheme %s", cfg.Scheme))
	}
	if cfg.MaxTimeoutSeconds < 0 {
		issues = append(issues, fmt.Sprintf("maxTimeoutSeconds: cannot be negative: %d", cfg.MaxTimeoutSeconds))
	}
	switch cfg.PaymentType {
	case "", x402gate.PaymentTypeAuto, x402gate.PaymentTypePermit,
		x402gate.PaymentTypeEIP3009, x402gate.PaymentTypePermit2:
	default:
		issues = append(issues, fmt.Sprintf("paymentType: unsupported value %s", cfg.PaymentType))
	}

	if len(issues) > 0 {
		return x402gate.NewValidationError("invalid payment configuration", issues...)
	}
	return nil
}

// resolveNetwork picks the network: explicit config, server override, then a
// live chain-id lookup.
func (s *Server) resolveNetwork(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		if _, err := x402gate.ValidateNetwork(explicit); err != nil {
			return "", x402gate.NewValidationError("invalid payment configuration", err.Error())
		}
		return explicit, nil
	}
	if s.network != "" {
		return s.network, nil
	}

	chainID, err := s.rpcClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve network: %w", err)
	}
	return x402gate.NetworkFromChainID(chainID), nil
}

// resolvePaymentType returns the concrete payment type and, when the detector
// ran, its result for EIP-712 domain injection.
func (s *Server) resolvePaymentType(ctx context.Context, cfg RequirementsConfig) (x402gate.PaymentType, *detect.Result, error) {
	autoDetect := cfg.AutoDetect == nil || *cfg.AutoDetect

	if !autoDetect {
		if cfg.PaymentType == "" || cfg.PaymentType == x402gate.PaymentTypeAuto {
			return "", nil, x402gate.ErrPaymentTypeRequired
		}
		return cfg.PaymentType, nil, nil
	}

	detected, err := s.detector.Detect(ctx, cfg.Asset)
	if err != nil {
		return "", nil, fmt.Errorf("token detection for %s: %w", cfg.Asset, err)
	}

	if cfg.PaymentType != "" && cfg.PaymentType != x402gate.PaymentTypeAuto {
		return cfg.PaymentType, detected, nil
	}

	recommended := detected.Recommended()
	if recommended == "" {
		return "", nil, fmt.Errorf("%w: %s", x402gate.ErrNoAdvancedMethods, cfg.Asset)
	}
	return x402gate.PaymentType(recommended), detected, nil
}

// checkFacilitatorSupport confirms the facilitator accepts the (network,
// asset, paymentType) tuple. An empty or unreachable support matrix is
// permissive; a populated matrix with no match is a configuration error.
func (s *Server) checkFacilitatorSupport(ctx context.Context, network, asset string, paymentType x402gate.PaymentType) error {
	supported, err := s.facilitator.Supported(ctx, x402gate.ChainIDForNetwork(network), strings.ToLower(asset))
	if err != nil {
		s.logger.Warn("facilitator support lookup failed, skipping cross-check", "error", err)
		return nil
	}
	if supported == nil || len(supported.Kinds) == 0 {
		s.logger.Debug("facilitator declared no supported kinds, skipping cross-check")
		return nil
	}

	primaryType := paymentType.PrimaryType()
	assetLower := strings.ToLower(asset)
	var combinations []string

	for _, kind := range supported.Kinds {
		for _, entry := range kind.Extra.Assets {
			combinations = append(combinations, fmt.Sprintf("%s/%s/%s",
				kind.Network, strings.ToLower(entry.Address), entry.EIP712.PrimaryType))
			if kind.Network == network &&
				strings.ToLower(entry.Address) == assetLower &&
				entry.EIP712.PrimaryType == primaryType {
				return nil
			}
		}
	}

	return &x402gate.SupportError{
		Network:     network,
		Asset:       asset,
		PaymentType: paymentType,
		Supported:   combinations,
	}
}

func cloneExtra(extra map[string]interface{}) map[string]interface{} {
	if extra == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(extra))
	for k, v := range extra {
		clone[k] = v
	}
	return clone
}
