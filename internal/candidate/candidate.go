// Package candidate defines the unit of work flowing through the bridge:
// one verified contract on one chain, as materialized by the join layer.
package candidate

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Record is a transient candidate produced by the batch source. It is
// consumed by the tag mapper and discarded once the submission outcome is
// recorded; it is never persisted itself.
type Record struct {
	Address common.Address
	ChainID int64

	// Optional deployment metadata. Absence is an empty string or nil,
	// never a sentinel value.
	DeploymentTx    string
	DeploymentBlock *int64
	Deployer        string

	// Optional compilation metadata.
	Language string
	Compiler string
	Name     string
}

// Key identifies a submission: one contract address on one chain.
// The address is stored lower-cased so keys compare consistently
// regardless of how the source rendered them.
type Key struct {
	Address string
	ChainID int64
}

// Key returns the ledger key for the record.
func (r Record) Key() Key {
	return Key{
		Address: strings.ToLower(r.Address.Hex()),
		ChainID: r.ChainID,
	}
}

// ChecksumAddress returns the EIP-55 checksummed form used on the wire.
func (r Record) ChecksumAddress() string {
	return r.Address.Hex()
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d", k.Address, k.ChainID)
}

// ParseAddress converts a 0x-prefixed hex address into a Record address.
// It rejects anything that is not a well-formed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// IsZeroAddress reports whether the address is the zero address, which the
// source excludes (it marks genesis allocations, not deployments).
func IsZeroAddress(a common.Address) bool {
	return a == (common.Address{})
}
