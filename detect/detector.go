// Package detect probes ERC-20 tokens for the signature-based transfer
// methods the payment server can request: EIP-3009 transferWithAuthorization,
// EIP-2612 permit, and Uniswap's universal Permit2 contract. Results are
// cached per (chainId, address) for the life of the process.
package detect

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mark3labs/x402-gate/rpc"
)

// Method is a signature-based transfer method a token supports.
type Method string

const (
	MethodEIP3009        Method = "eip3009"
	MethodPermit         Method = "permit"
	MethodPermit2        Method = "permit2"
	MethodPermit2Witness Method = "permit2-witness"
)

// defaultVersion is assumed when neither eip712Domain() nor version() is readable.
const defaultVersion = "1"

// Result holds the detected capabilities and EIP-712 domain of one token.
type Result struct {
	// SupportedMethods lists capabilities in recommendation priority order.
	SupportedMethods []Method

	HasEIP3009 bool
	HasPermit  bool
	HasPermit2 bool

	// Name and Version form the token's EIP-712 signing domain.
	Name    string
	Version string
}

// Supports reports whether m is among the detected methods.
func (r *Result) Supports(m Method) bool {
	for _, method := range r.SupportedMethods {
		if method == m {
			return true
		}
	}
	return false
}

// Recommended returns the preferred payment method, or "" when the token
// supports none. Priority: eip3009 > permit > permit2 (permit2-witness counts
// as permit2).
func (r *Result) Recommended() Method {
	switch {
	case r.HasEIP3009:
		return MethodEIP3009
	case r.HasPermit:
		return MethodPermit
	case r.HasPermit2:
		return MethodPermit2
	}
	return ""
}

// SettleMethods reports which settlement entry points a receiving contract
// advertises via ERC-165.
type SettleMethods struct {
	SupportsSettleWithPermit  bool
	SupportsSettleWithERC3009 bool
	SupportsSettleWithPermit2 bool
}

// CacheStats is a snapshot of the detector cache.
type CacheStats struct {
	Entries int
	Keys    []string
}

// Detector probes token capabilities over an RPC client and caches the
// results. It is safe for concurrent use; concurrent misses on the same token
// are coalesced so the chain is probed once.
type Detector struct {
	client rpc.Client
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Result
	group singleflight.Group

	chainMu sync.Mutex
	chainID *big.Int
}

// New creates a Detector over the given RPC client.
func New(client rpc.Client, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		client: client,
		logger: logger,
		cache:  make(map[string]*Result),
	}
}

// Detect returns the token's capabilities and EIP-712 domain, probing the
// chain on a cache miss. It fails only when the token name cannot be read.
func (d *Detector) Detect(ctx context.Context, address string) (*Result, error) {
	chainID, err := d.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey(chainID, address)

	d.mu.RLock()
	cached, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		d.mu.RLock()
		cached, ok := d.cache[key]
		d.mu.RUnlock()
		if ok {
			return cached, nil
		}

		result, err := d.detectUncached(ctx, chainID, common.HexToAddress(address))
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.cache[key] = result
		d.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// RecommendedMethod returns the preferred payment method for the token, or ""
// when it supports none of the advanced methods.
func (d *Detector) RecommendedMethod(ctx context.Context, address string) (Method, error) {
	result, err := d.Detect(ctx, address)
	if err != nil {
		return "", err
	}
	return result.Recommended(), nil
}

// DetectSettleMethods probes the merchant's receiving contract for its
// ERC-165 settlement interfaces. Individual probe failures read as false.
func (d *Detector) DetectSettleMethods(ctx context.Context, recipient string) *SettleMethods {
	addr := common.HexToAddress(recipient)
	methods := &SettleMethods{}

	var wg sync.WaitGroup
	probe := func(id [4]byte, out *bool) {
		defer wg.Done()
		supported, err := d.supportsInterface(ctx, addr, id)
		if err != nil {
			d.logger.Debug("settle interface probe failed",
				"recipient", recipient, "interface", hex.EncodeToString(id[:]), "error", err)
			return
		}
		*out = supported
	}

	wg.Add(3)
	go probe(interfaceSettleWithPermit, &methods.SupportsSettleWithPermit)
	go probe(interfaceSettleWithERC3009, &methods.SupportsSettleWithERC3009)
	go probe(interfaceSettleWithPermit2, &methods.SupportsSettleWithPermit2)
	wg.Wait()

	return methods
}

// Initialize warms the cache for a batch of tokens in parallel. Per-address
// failures are logged and do not abort the batch.
func (d *Detector) Initialize(ctx context.Context, addresses []string) {
	var wg sync.WaitGroup
	for _, address := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			if _, err := d.Detect(ctx, address); err != nil {
				d.logger.Warn("token warm-up failed", "address", address, "error", err)
			}
		}(address)
	}
	wg.Wait()
}

// ClearCache removes the cached entries for one token, or every entry when
// address is empty.
func (d *Detector) ClearCache(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if address == "" {
		d.cache = make(map[string]*Result)
		return
	}
	suffix := ":" + strings.ToLower(common.HexToAddress(address).Hex())
	for key := range d.cache {
		if strings.HasSuffix(key, suffix) {
			delete(d.cache, key)
		}
	}
}

// Stats returns a snapshot of the cache contents.
func (d *Detector) Stats() CacheStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.cache))
	for key := range d.cache {
		keys = append(keys, key)
	}
	return CacheStats{Entries: len(d.cache), Keys: keys}
}

func (d *Detector) resolveChainID(ctx context.Context) (*big.Int, error) {
	d.chainMu.Lock()
	defer d.chainMu.Unlock()

	if d.chainID != nil {
		return d.chainID, nil
	}
	id, err := d.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	d.chainID = id
	return id, nil
}

func (d *Detector) detectUncached(ctx context.Context, chainID *big.Int, addr common.Address) (*Result, error) {
	if p, ok := presets[strings.ToLower(addr.Hex())]; ok {
		if !chainID.IsUint64() || !p.supportsChain(chainID.Uint64()) {
			return &Result{Name: p.Name, Version: p.Version}, nil
		}
		return presetResult(p), nil
	}

	var (
		tokenCode   []byte
		permit2Code []byte
		name        string
		nameErr     error
		version     string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		code, err := d.client.GetCode(gctx, addr)
		if err != nil {
			d.logger.Debug("bytecode fetch failed", "address", addr.Hex(), "error", err)
			return nil
		}
		tokenCode = code
		return nil
	})
	g.Go(func() error {
		code, err := d.client.GetCode(gctx, Permit2Address)
		if err != nil {
			d.logger.Debug("permit2 probe failed", "chainId", chainID.String(), "error", err)
			return nil
		}
		permit2Code = code
		return nil
	})
	g.Go(func() error {
		name, nameErr = d.readString(gctx, addr, nameABI, "name")
		return nil
	})
	g.Go(func() error {
		version = d.readVersion(gctx, addr)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hasEIP3009 := containsSelector(tokenCode, selectorTransferWithAuthorization) ||
		containsSelector(tokenCode, selectorReceiveWithAuthorization)
	hasPermit := containsSelector(tokenCode, selectorPermit)
	hasPermit2 := len(permit2Code) > 0

	// One proxy escalation per miss: rescan the implementation bytecode for
	// selectors the proxy shell hides, and retry name there if the direct
	// read failed.
	if !hasEIP3009 || !hasPermit || nameErr != nil {
		if impl, ok := d.resolveImplementation(ctx, addr); ok {
			implCode, err := d.client.GetCode(ctx, impl)
			if err != nil {
				d.logger.Debug("implementation bytecode fetch failed",
					"address", addr.Hex(), "implementation", impl.Hex(), "error", err)
			} else {
				hasEIP3009 = hasEIP3009 ||
					containsSelector(implCode, selectorTransferWithAuthorization) ||
					containsSelector(implCode, selectorReceiveWithAuthorization)
				hasPermit = hasPermit || containsSelector(implCode, selectorPermit)
			}
			if nameErr != nil {
				name, nameErr = d.readString(ctx, impl, nameABI, "name")
			}
		}
	}

	if nameErr != nil {
		return nil, fmt.Errorf("read token name for %s: %w", addr.Hex(), nameErr)
	}

	result := &Result{
		HasEIP3009: hasEIP3009,
		HasPermit:  hasPermit,
		HasPermit2: hasPermit2,
		Name:       name,
		Version:    version,
	}
	if hasEIP3009 {
		result.SupportedMethods = append(result.SupportedMethods, MethodEIP3009)
	}
	if hasPermit {
		result.SupportedMethods = append(result.SupportedMethods, MethodPermit)
	}
	if hasPermit2 {
		result.SupportedMethods = append(result.SupportedMethods, MethodPermit2, MethodPermit2Witness)
	}
	return result, nil
}

// resolveImplementation tries the EIP-1967 slot, the EIP-1822 slot, then an
// implementation() call. Individual failures are swallowed; all three failing
// means the address is not a recognizable proxy.
func (d *Detector) resolveImplementation(ctx context.Context, addr common.Address) (common.Address, bool) {
	for _, slot := range []common.Hash{slotEIP1967, slotEIP1822} {
		value, err := d.client.GetStorageAt(ctx, addr, slot)
		if err != nil {
			continue
		}
		impl := common.BytesToAddress(value)
		if impl != (common.Address{}) {
			return impl, true
		}
	}

	outputs, err := d.client.ReadContract(ctx, addr, implementationABI, "implementation")
	if err == nil && len(outputs) == 1 {
		if impl, ok := outputs[0].(common.Address); ok && impl != (common.Address{}) {
			return impl, true
		}
	}
	return common.Address{}, false
}

// readVersion resolves the EIP-712 domain version: eip712Domain() first
// (EIP-5267), then version(), then "1".
func (d *Detector) readVersion(ctx context.Context, addr common.Address) string {
	outputs, err := d.client.ReadContract(ctx, addr, eip712DomainABI, "eip712Domain")
	if err == nil && len(outputs) >= 3 {
		if version, ok := outputs[2].(string); ok && version != "" {
			return version
		}
	}

	if version, err := d.readString(ctx, addr, versionABI, "version"); err == nil && version != "" {
		return version
	}
	return defaultVersion
}

func (d *Detector) readString(ctx context.Context, addr common.Address, abiJSON, fn string) (string, error) {
	outputs, err := d.client.ReadContract(ctx, addr, abiJSON, fn)
	if err != nil {
		return "", err
	}
	if len(outputs) != 1 {
		return "", fmt.Errorf("%s returned %d values", fn, len(outputs))
	}
	s, ok := outputs[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned %T, want string", fn, outputs[0])
	}
	return s, nil
}

func (d *Detector) supportsInterface(ctx context.Context, addr common.Address, id [4]byte) (bool, error) {
	outputs, err := d.client.ReadContract(ctx, addr, supportsInterfaceABI, "supportsInterface", id)
	if err != nil {
		return false, err
	}
	if len(outputs) != 1 {
		return false, fmt.Errorf("supportsInterface returned %d values", len(outputs))
	}
	supported, ok := outputs[0].(bool)
	if !ok {
		return false, fmt.Errorf("supportsInterface returned %T, want bool", outputs[0])
	}
	return supported, nil
}

func presetResult(p preset) *Result {
	result := &Result{
		SupportedMethods: append([]Method(nil), p.Methods...),
		Name:             p.Name,
		Version:          p.Version,
	}
	for _, m := range p.Methods {
		switch m {
		case MethodEIP3009:
			result.HasEIP3009 = true
		case MethodPermit:
			result.HasPermit = true
		case MethodPermit2, MethodPermit2Witness:
			result.HasPermit2 = true
		}
	}
	return result
}

// cacheKey normalizes the address through common.HexToAddress so every
// spelling of a token (checksummed, lowercase, missing 0x) shares one entry.
func cacheKey(chainID *big.Int, address string) string {
	return chainID.String() + ":" + strings.ToLower(common.HexToAddress(address).Hex())
}

func containsSelector(code []byte, selector string) bool {
	if len(code) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(hex.EncodeToString(code)), selector)
}
