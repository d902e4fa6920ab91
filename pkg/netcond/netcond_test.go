package netcond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainspan/go-chainspan/pkg/types"
)

func TestDefaultsUncongested(t *testing.T) {
	require := require.New(t)
	m := New(map[types.ChainID]time.Duration{"chain-a": 10 * time.Millisecond})

	require.Equal(CongestionNone, m.Level("chain-a"))
	require.Equal(time.Duration(0), m.Delay("chain-a"))
	require.Equal(uint64(1), m.GasMultiplier("chain-a"))
}

func TestCongestionScalesDelay(t *testing.T) {
	require := require.New(t)
	m := New(map[types.ChainID]time.Duration{"chain-a": 10 * time.Millisecond})

	m.SetCongestion("chain-a", CongestionLight)
	require.Equal(10*time.Millisecond, m.Delay("chain-a"))
	// Light congestion delays delivery but leaves the gas price at base.
	require.Equal(uint64(1), m.GasMultiplier("chain-a"))

	m.SetCongestion("chain-a", CongestionModerate)
	require.Equal(20*time.Millisecond, m.Delay("chain-a"))
	require.Equal(uint64(2), m.GasMultiplier("chain-a"))

	m.SetCongestion("chain-a", CongestionSevere)
	require.Equal(100*time.Millisecond, m.Delay("chain-a"))
	require.Equal(uint64(10), m.GasMultiplier("chain-a"))
}

func TestUnknownChainNeverDelayed(t *testing.T) {
	require := require.New(t)
	m := New(nil)

	m.SetCongestion("chain-x", CongestionSevere)
	require.Equal(time.Duration(0), m.Delay("chain-x")) // no base latency
	require.Equal(uint64(10), m.GasMultiplier("chain-x"))
}

func TestLevelRoundTrip(t *testing.T) {
	require := require.New(t)
	levels := []CongestionLevel{
		CongestionNone, CongestionLight, CongestionModerate, CongestionHeavy, CongestionSevere,
	}
	for _, level := range levels {
		parsed, err := LevelFromString(level.String())
		require.NoError(err)
		require.Equal(level, parsed)
	}
	_, err := LevelFromString("gridlock")
	require.Error(err)
}
