// Package token defines the external token-contract collaborator consumed by
// the simulator, plus an in-memory fake for tests.
package token

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/chainspan/go-chainspan/pkg/types"
)

// Contract is the narrow query interface onto the external token contract.
// The simulator core only ever reads the aggregate supply and mirrors its own
// mint/burn settlements into it. The ledger mirrors before mutating its own
// state, so a Mint or Burn rejection aborts the operation with the ledger
// unchanged; implementations should reject only operations that would also be
// invalid on the ledger side, or the two views drift apart.
type Contract interface {
	AggregateSupply() uint64
	Mint(chain types.ChainID, account types.Address, amount uint64) error
	Burn(chain types.ChainID, account types.Address, amount uint64) error
	GasPrice(chain types.ChainID) uint64
}

// Fake is an in-memory Contract for tests. It tracks per-chain minted and
// burned totals and serves a flat base gas price.
type Fake struct {
	mu      sync.RWMutex
	minted  map[types.ChainID]uint64
	burned  map[types.ChainID]uint64
	baseGas uint64
}

// NewFake creates an empty fake contract.
func NewFake(baseGas uint64) *Fake {
	return &Fake{
		minted:  make(map[types.ChainID]uint64),
		burned:  make(map[types.ChainID]uint64),
		baseGas: baseGas,
	}
}

// AggregateSupply reports minted minus burned across all chains.
func (f *Fake) AggregateSupply() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var total uint64
	for chain, minted := range f.minted {
		total += minted - f.burned[chain]
	}
	return total
}

// Mint records newly minted units on a chain.
func (f *Fake) Mint(chain types.ChainID, account types.Address, amount uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minted[chain] += amount
	return nil
}

// Burn records burned units on a chain.
func (f *Fake) Burn(chain types.ChainID, account types.Address, amount uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.burned[chain]+amount > f.minted[chain] {
		return errors.Errorf("burn of %d exceeds minted supply on chain %s", amount, chain)
	}
	f.burned[chain] += amount
	return nil
}

// GasPrice returns the configured base gas price.
func (f *Fake) GasPrice(chain types.ChainID) uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.baseGas
}

// ChainSupply reports minted minus burned for one chain.
func (f *Fake) ChainSupply(chain types.ChainID) uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.minted[chain] - f.burned[chain]
}
