// Package netcond models per-chain network congestion and the delivery
// latency and gas-price multipliers it induces. The model is a pure function
// of configured state; routers consult it for the delay applied before a
// delivery step begins. Congestion never causes message loss.
package netcond

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/chainspan/go-chainspan/pkg/types"
)

// CongestionLevel grades how congested a chain currently is.
type CongestionLevel int

const (
	CongestionNone CongestionLevel = iota
	CongestionLight
	CongestionModerate
	CongestionHeavy
	CongestionSevere
)

func (c CongestionLevel) String() string {
	switch c {
	case CongestionNone:
		return "none"
	case CongestionLight:
		return "light"
	case CongestionModerate:
		return "moderate"
	case CongestionHeavy:
		return "heavy"
	case CongestionSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// LevelFromString parses a congestion level name.
func LevelFromString(s string) (CongestionLevel, error) {
	switch s {
	case "none":
		return CongestionNone, nil
	case "light":
		return CongestionLight, nil
	case "moderate":
		return CongestionModerate, nil
	case "heavy":
		return CongestionHeavy, nil
	case "severe":
		return CongestionSevere, nil
	default:
		return 0, errors.Errorf("unknown congestion level %q", s)
	}
}

// latencyMultiplier scales the chain's base latency; an uncongested chain
// adds no delay at all.
func (c CongestionLevel) latencyMultiplier() time.Duration {
	switch c {
	case CongestionLight:
		return 1
	case CongestionModerate:
		return 2
	case CongestionHeavy:
		return 5
	case CongestionSevere:
		return 10
	default:
		return 0
	}
}

// GasMultiplier scales the chain's base gas price. Light congestion already
// adds latency but does not move the fee market yet, so it pays the base
// price like an uncongested chain.
func (c CongestionLevel) GasMultiplier() uint64 {
	switch c {
	case CongestionModerate:
		return 2
	case CongestionHeavy:
		return 5
	case CongestionSevere:
		return 10
	default:
		return 1
	}
}

// Model holds the congestion level and base delivery latency per chain.
type Model struct {
	mu       sync.RWMutex
	baseline map[types.ChainID]time.Duration
	levels   map[types.ChainID]CongestionLevel
}

// New builds a model from per-chain base latencies. Chains absent from the
// map have zero base latency and are never delayed.
func New(baseline map[types.ChainID]time.Duration) *Model {
	m := &Model{
		baseline: make(map[types.ChainID]time.Duration, len(baseline)),
		levels:   make(map[types.ChainID]CongestionLevel),
	}
	for chain, base := range baseline {
		m.baseline[chain] = base
	}
	return m
}

// SetCongestion sets a chain's congestion level.
func (m *Model) SetCongestion(chain types.ChainID, level CongestionLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[chain] = level
}

// Level returns a chain's current congestion level.
func (m *Model) Level(chain types.ChainID) CongestionLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[chain]
}

// Delay returns the added latency before delivery to the chain begins.
func (m *Model) Delay(chain types.ChainID) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseline[chain] * m.levels[chain].latencyMultiplier()
}

// GasMultiplier returns the chain's current gas-price multiplier.
func (m *Model) GasMultiplier(chain types.ChainID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[chain].GasMultiplier()
}
