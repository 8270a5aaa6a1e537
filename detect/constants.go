package detect

import "github.com/ethereum/go-ethereum/common"

// Permit2Address is the universal Permit2 contract, deployed at the same
// address on every chain that has it. Its presence is a chain property, not a
// token property.
var Permit2Address = common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3")

// Function selectors probed against token bytecode.
const (
	// selectorTransferWithAuthorization is transferWithAuthorization (EIP-3009).
	selectorTransferWithAuthorization = "e3ee160e"

	// selectorReceiveWithAuthorization is receiveWithAuthorization (EIP-3009).
	selectorReceiveWithAuthorization = "cf092995"

	// selectorPermit is permit (EIP-2612).
	selectorPermit = "d505accf"
)

// Proxy storage slots, tried in order during implementation resolution.
var (
	// slotEIP1967 holds the implementation address of an EIP-1967 proxy.
	slotEIP1967 = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

	// slotEIP1822 holds the implementation address of an EIP-1822 (UUPS) proxy.
	slotEIP1822 = common.HexToHash("0x7050c9e0f4ca769c69bd3a8ef740bc37934f8e2c036e5a723fd8ee048ed3f8c3")
)

// ERC-165 interface IDs probed on the merchant's receiving contract.
var (
	interfaceSettleWithPermit  = [4]byte{0x02, 0xcc, 0xc2, 0x3e}
	interfaceSettleWithERC3009 = [4]byte{0x1f, 0xe2, 0x00, 0xd9}
	interfaceSettleWithPermit2 = [4]byte{0xa7, 0xfc, 0xaf, 0xbb}
)

// ABI fragments for the view functions the detector reads.
const (
	nameABI = `[{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}]`

	versionABI = `[{"inputs":[],"name":"version","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}]`

	eip712DomainABI = `[{"inputs":[],"name":"eip712Domain","outputs":[{"internalType":"bytes1","name":"fields","type":"bytes1"},{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"version","type":"string"},{"internalType":"uint256","name":"chainId","type":"uint256"},{"internalType":"address","name":"verifyingContract","type":"address"},{"internalType":"bytes32","name":"salt","type":"bytes32"},{"internalType":"uint256[]","name":"extensions","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

	implementationABI = `[{"inputs":[],"name":"implementation","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

	supportsInterfaceABI = `[{"inputs":[{"internalType":"bytes4","name":"interfaceId","type":"bytes4"}],"name":"supportsInterface","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`
)
