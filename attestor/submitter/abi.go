package submitter

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	HubMethod    = "requestAttestation"
	LedgerMethod = "recordVerifiedAction"
)

// HubABI covers the single hub entry point used by the relayer.
const HubABI = `[{
	"type": "function",
	"name": "requestAttestation",
	"stateMutability": "payable",
	"inputs": [{"name": "data", "type": "bytes"}],
	"outputs": []
}]`

// LedgerABI covers the single ledger entry point used by the relayer.
const LedgerABI = `[{
	"type": "function",
	"name": "recordVerifiedAction",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "user", "type": "address"},
		{"name": "actionType", "type": "bytes32"},
		{"name": "timestamp", "type": "uint256"},
		{"name": "proofData", "type": "bytes"}
	],
	"outputs": []
}]`

var (
	hubABI    = mustParseABI(HubABI)
	ledgerABI = mustParseABI(LedgerABI)

	proofArgs = mustProofArgs()
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid contract abi: %v", err))
	}
	return parsed
}

func mustProofArgs() abi.Arguments {
	bytes32, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	str, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "hubTxHash", Type: bytes32},
		{Name: "sourceId", Type: str},
		{Name: "value", Type: str},
	}
}

// Proof is the ledger's proofData payload. HubTxHash is zero for direct records.
type Proof struct {
	HubTxHash common.Hash
	SourceID  string
	Value     string
}

func (p Proof) Encode() ([]byte, error) {
	return proofArgs.Pack([32]byte(p.HubTxHash), p.SourceID, p.Value)
}

func DecodeProof(data []byte) (Proof, error) {
	values, err := proofArgs.Unpack(data)
	if err != nil {
		return Proof{}, fmt.Errorf("unpack proof: %w", err)
	}
	if len(values) != 3 {
		return Proof{}, fmt.Errorf("unpack proof: expected 3 values, got %d", len(values))
	}
	hash, ok := values[0].([32]byte)
	if !ok {
		return Proof{}, fmt.Errorf("unpack proof: hubTxHash has type %T", values[0])
	}
	source, _ := values[1].(string)
	value, _ := values[2].(string)
	return Proof{HubTxHash: common.Hash(hash), SourceID: source, Value: value}, nil
}
