// Package x402gate implements the server-side core of the x402 HTTP
// payment-gating protocol: a resource server requires clients to attach a
// signed token-transfer authorization to protected requests, answers 402
// Payment Required with machine-readable terms when it is missing or invalid,
// and admits the request once a remote facilitator confirms on-chain
// settlement.
package x402gate

import (
	"fmt"
	"math/big"
	"strings"
)

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// Supported network identifiers. The set is closed; CreateRequirements
// rejects anything else unless it was resolved from a live chain ID.
const (
	NetworkBase          = "base"
	NetworkBaseSepolia   = "base-sepolia"
	NetworkAvalanche     = "avalanche"
	NetworkAvalancheFuji = "avalanche-fuji"
	NetworkIoTeX         = "iotex"
	NetworkSei           = "sei"
	NetworkSeiTestnet    = "sei-testnet"
	NetworkPolygon       = "polygon"
	NetworkPolygonAmoy   = "polygon-amoy"
	NetworkPeaq          = "peaq"
	NetworkBSC           = "bsc"
	NetworkBSCTestnet    = "bsc-testnet"
	NetworkSolana        = "solana"
	NetworkSolanaDevnet  = "solana-devnet"
)

// networkTypes maps every supported network identifier to its VM type.
var networkTypes = map[string]NetworkType{
	NetworkBase:          NetworkTypeEVM,
	NetworkBaseSepolia:   NetworkTypeEVM,
	NetworkAvalanche:     NetworkTypeEVM,
	NetworkAvalancheFuji: NetworkTypeEVM,
	NetworkIoTeX:         NetworkTypeEVM,
	NetworkSei:           NetworkTypeEVM,
	NetworkSeiTestnet:    NetworkTypeEVM,
	NetworkPolygon:       NetworkTypeEVM,
	NetworkPolygonAmoy:   NetworkTypeEVM,
	NetworkPeaq:          NetworkTypeEVM,
	NetworkBSC:           NetworkTypeEVM,
	NetworkBSCTestnet:    NetworkTypeEVM,
	NetworkSolana:        NetworkTypeSVM,
	NetworkSolanaDevnet:  NetworkTypeSVM,
}

// chainIDNetworks maps EVM chain IDs to network identifiers.
var chainIDNetworks = map[uint64]string{
	56:    NetworkBSC,
	97:    NetworkBSCTestnet,
	137:   NetworkPolygon,
	80001: NetworkPolygonAmoy,
	8453:  NetworkBase,
	84531: NetworkBaseSepolia,
	43114: NetworkAvalanche,
	43113: NetworkAvalancheFuji,
	4689:  NetworkIoTeX,
	1329:  NetworkSei,
	1328:  NetworkSeiTestnet,
	3338:  NetworkPeaq,
}

// ValidateNetwork validates a network identifier and returns its VM type.
func ValidateNetwork(networkID string) (NetworkType, error) {
	if networkID == "" {
		return NetworkTypeUnknown, fmt.Errorf("networkID: cannot be empty")
	}
	netType, ok := networkTypes[networkID]
	if !ok {
		return NetworkTypeUnknown, fmt.Errorf("networkID: unsupported network %q", networkID)
	}
	return netType, nil
}

// NetworkTypeOf returns the VM type for a network identifier. Synthetic
// "chain-<id>" identifiers produced by NetworkFromChainID count as EVM so
// that requirements resolved from a live chain ID still validate.
func NetworkTypeOf(network string) NetworkType {
	if netType, ok := networkTypes[network]; ok {
		return netType
	}
	if strings.HasPrefix(network, "chain-") {
		return NetworkTypeEVM
	}
	return NetworkTypeUnknown
}

// NetworkFromChainID maps an EVM chain ID to its network identifier.
// Unknown chain IDs yield a synthetic "chain-<id>" identifier so that a
// server pointed at an unlisted chain still produces stable requirements.
func NetworkFromChainID(chainID *big.Int) string {
	if chainID == nil {
		return ""
	}
	if chainID.IsUint64() {
		if network, ok := chainIDNetworks[chainID.Uint64()]; ok {
			return network
		}
	}
	return "chain-" + chainID.String()
}

// ChainIDForNetwork returns the chain ID for a supported EVM network, or nil
// when the network has no fixed chain ID (SVM chains, synthetic identifiers).
func ChainIDForNetwork(network string) *big.Int {
	for id, name := range chainIDNetworks {
		if name == network {
			return new(big.Int).SetUint64(id)
		}
	}
	return nil
}
