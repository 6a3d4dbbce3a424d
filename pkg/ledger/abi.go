package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// bridgeABIJSON covers the subset of the contract surface the bridge
// touches: the four request events, the three confirmation entry points
// and the two read-only views.
const bridgeABIJSON = `[
	{
		"type": "event",
		"name": "RegistrationRequest",
		"inputs": [
			{"name": "account", "type": "address", "indexed": false},
			{"name": "userId", "type": "string", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "ReleaseRequest",
		"inputs": [
			{"name": "claimId", "type": "uint256", "indexed": false},
			{"name": "issueId", "type": "string", "indexed": false},
			{"name": "account", "type": "address", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "ClaimRequest",
		"inputs": [
			{"name": "claimId", "type": "uint256", "indexed": false},
			{"name": "prId", "type": "string", "indexed": false},
			{"name": "account", "type": "address", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "Deposit",
		"inputs": [
			{"name": "from", "type": "address", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "issueId", "type": "string", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "function",
		"name": "confirmRegistration",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "userId", "type": "string"},
			{"name": "account", "type": "address"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "confirmRelease",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "claimId", "type": "uint256"},
			{"name": "issueId", "type": "string"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "confirmClaim",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "claimId", "type": "uint256"},
			{"name": "prId", "type": "string"},
			{"name": "score", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "jobIds",
		"stateMutability": "view",
		"inputs": [{"name": "kind", "type": "uint8"}],
		"outputs": [{"name": "", "type": "bytes32"}]
	},
	{
		"type": "function",
		"name": "claimConfirmed",
		"stateMutability": "view",
		"inputs": [
			{"name": "kind", "type": "uint8"},
			{"name": "claimId", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`

// BridgeABI is the parsed contract ABI shared by the gateway and the
// event listener.
var BridgeABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid bridge ABI: %v", err))
	}
	return parsed
}()

// Event names as they appear in the ABI.
const (
	EventRegistrationRequest = "RegistrationRequest"
	EventReleaseRequest      = "ReleaseRequest"
	EventClaimRequest        = "ClaimRequest"
	EventDeposit             = "Deposit"
)

// EventTopics returns the topic0 hash for every request event the
// listener subscribes to.
func EventTopics() []common.Hash {
	return []common.Hash{
		BridgeABI.Events[EventRegistrationRequest].ID,
		BridgeABI.Events[EventReleaseRequest].ID,
		BridgeABI.Events[EventClaimRequest].ID,
		BridgeABI.Events[EventDeposit].ID,
	}
}
