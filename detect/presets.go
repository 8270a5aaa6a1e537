package detect

// preset declares capabilities for a token whose on-chain heuristics are known
// to misreport. A preset matching the current chain short-circuits detection
// entirely; a preset whose chain list excludes the current chain yields empty
// capabilities without issuing RPC probes.
type preset struct {
	// Name and Version form the EIP-712 domain.
	Name    string
	Version string

	// ChainIDs lists the chains this preset applies on.
	ChainIDs []uint64

	// Methods are the declared capabilities on a matching chain.
	Methods []Method
}

// presets is keyed by lowercase token address.
var presets = map[string]preset{
	// WLFI advertises EIP-3009 selectors in its bytecode but its facilitator
	// path only accepts permit authorizations on BSC.
	"0x8d0d000ee44948fc98c9b98a4fa4921476f08b0d": {
		Name:     "World Liberty Financial",
		Version:  "1",
		ChainIDs: []uint64{56},
		Methods:  []Method{MethodPermit},
	},
}

func (p preset) supportsChain(chainID uint64) bool {
	for _, id := range p.ChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}
