// Package rpc defines the blockchain read interface the payment server
// consumes and provides a go-ethereum backed implementation. The server core
// never submits transactions; settlement is the facilitator's job.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Client is the read-only contract surface the detector and server consume.
type Client interface {
	// GetCode returns the deployed bytecode at the given address.
	// An EOA or empty account yields an empty slice.
	GetCode(ctx context.Context, address common.Address) ([]byte, error)

	// GetStorageAt reads a raw 32-byte storage slot.
	GetStorageAt(ctx context.Context, address common.Address, slot common.Hash) ([]byte, error)

	// ReadContract calls a view function described by an ABI fragment and
	// returns the unpacked outputs.
	ReadContract(ctx context.Context, address common.Address, abiJSON string, fn string, args ...interface{}) ([]interface{}, error)

	// ChainID returns the chain ID of the connected network.
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthClient implements Client over a go-ethereum ethclient connection.
type EthClient struct {
	client *ethclient.Client
}

// DialTimeout bounds the HTTP round-trip of every RPC read.
const DialTimeout = 30 * time.Second

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(rpcURL string) (*EthClient, error) {
	httpClient := &http.Client{Timeout: DialTimeout}
	rpcClient, err := gethrpc.DialHTTPWithClient(rpcURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return &EthClient{client: ethclient.NewClient(rpcClient)}, nil
}

// NewEthClient wraps an existing ethclient connection.
func NewEthClient(client *ethclient.Client) *EthClient {
	return &EthClient{client: client}
}

// GetCode implements Client.
func (c *EthClient) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	code, err := c.client.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("getCode %s: %w", address.Hex(), err)
	}
	return code, nil
}

// GetStorageAt implements Client.
func (c *EthClient) GetStorageAt(ctx context.Context, address common.Address, slot common.Hash) ([]byte, error) {
	value, err := c.client.StorageAt(ctx, address, slot, nil)
	if err != nil {
		return nil, fmt.Errorf("getStorageAt %s %s: %w", address.Hex(), slot.Hex(), err)
	}
	return value, nil
}

// ReadContract implements Client. The ABI fragment must describe fn.
func (c *EthClient) ReadContract(ctx context.Context, address common.Address, abiJSON string, fn string, args ...interface{}) ([]interface{}, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ABI for %s: %w", fn, err)
	}

	data, err := parsed.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", fn, err)
	}

	msg := ethereum.CallMsg{To: &address, Data: data}
	result, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", fn, address.Hex(), err)
	}

	outputs, err := parsed.Unpack(fn, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s result: %w", fn, err)
	}
	return outputs, nil
}

// ChainID implements Client.
func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chainId: %w", err)
	}
	return id, nil
}
