package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsistencyOK(t *testing.T) {
	require := require.New(t)
	l, contract := newTestLedger(t)
	v := NewConsistencyValidator(l, contract)

	require.NoError(l.Mint(chainA, alice, 1_000_000))
	require.NoError(l.Settle(chainA, chainB, alice, bob, 1000))

	report := v.Check(1_000_000)
	require.True(report.OK, report.Divergence)
	require.Equal(uint64(1_000_000), report.Aggregate)
	require.Equal(uint64(1_000_000), report.Reported)
	require.Len(report.PerChain, 2)
	require.Equal(uint64(999_000), report.PerChain[0].TotalSupply)
	require.Equal(uint64(1000), report.PerChain[1].TotalSupply)
}

func TestConsistencyWrongExpectation(t *testing.T) {
	require := require.New(t)
	l, contract := newTestLedger(t)
	v := NewConsistencyValidator(l, contract)

	require.NoError(l.Mint(chainA, alice, 500))
	report := v.Check(501)
	require.False(report.OK)
	require.Contains(report.Divergence, "expected")
}

func TestConsistencyContractDivergence(t *testing.T) {
	require := require.New(t)
	l, contract := newTestLedger(t)
	v := NewConsistencyValidator(l, contract)

	require.NoError(l.Mint(chainA, alice, 500))
	// A mint the ledger never saw makes the external report diverge.
	require.NoError(contract.Mint(chainB, bob, 42))

	report := v.Check(500)
	require.False(report.OK)
	require.Contains(report.Divergence, "reported")
	require.Equal(uint64(542), report.Reported)
}
