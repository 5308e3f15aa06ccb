package escrow

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveCustodian maps a label to a deterministic account by taking the low
// 20 bytes of its keccak256 hash. Labels are trimmed and lower-cased first.
func DeriveCustodian(label string) common.Address {
	normalized := strings.ToLower(strings.TrimSpace(label))
	return common.BytesToAddress(crypto.Keccak256([]byte(normalized))[12:])
}
