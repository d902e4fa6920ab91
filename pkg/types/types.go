// Package types defines the shared value types for the chainspan simulator.
package types

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// Hash is a 32-byte message or state hash.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Address is a 20-byte account address.
type Address [20]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ChainID uniquely identifies a chain within the simulator.
type ChainID string

// HashFromString parses a hex-encoded hash.
func HashFromString(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrap(err, "invalid hash encoding")
	}
	if len(b) != len(h) {
		return h, errors.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// AddressFromString parses a hex-encoded address.
func AddressFromString(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, errors.Wrap(err, "invalid address encoding")
	}
	if len(b) != len(a) {
		return a, errors.Errorf("invalid address length: %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Protocol identifies one of the supported bridge protocols.
type Protocol uint8

const (
	// ProtocolQuorum delivers through quorum-gated attestor verification.
	ProtocolQuorum Protocol = iota
	// ProtocolLiquidity delivers immediately against a destination liquidity buffer.
	ProtocolLiquidity
	// ProtocolDomain delivers immediately through a registered domain mapping.
	ProtocolDomain
)

func (p Protocol) String() string {
	switch p {
	case ProtocolQuorum:
		return "quorum"
	case ProtocolLiquidity:
		return "liquidity"
	case ProtocolDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// ProtocolFromString parses a protocol name.
func ProtocolFromString(s string) (Protocol, error) {
	switch s {
	case "quorum":
		return ProtocolQuorum, nil
	case "liquidity":
		return ProtocolLiquidity, nil
	case "domain":
		return ProtocolDomain, nil
	default:
		return 0, errors.Errorf("unknown protocol %q", s)
	}
}

// ChainDescriptor is the immutable identity of a chain, created at simulator
// construction. Index is the chain's position in the ledger arena and doubles
// as the global lock-ordering key.
type ChainDescriptor struct {
	ID           ChainID
	Name         string
	Index        int
	Endpoint     uint32 // quorum-protocol routing identifier
	LiquidityHub string // liquidity-protocol routing identifier
	Domain       uint32 // domain-protocol routing identifier
}
