package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/chainspan/go-chainspan/internal/config"
	"github.com/chainspan/go-chainspan/pkg/attestor"
	"github.com/chainspan/go-chainspan/pkg/netcond"
	"github.com/chainspan/go-chainspan/pkg/token"
	"github.com/chainspan/go-chainspan/pkg/types"
)

const (
	chainA = types.ChainID("chain-a")
	chainB = types.ChainID("chain-b")
)

func genesisA(t *testing.T) types.Address {
	t.Helper()
	a, err := types.AddressFromString("0000000000000000000000000000000000000a11")
	require.NoError(t, err)
	return a
}

func recipientB(t *testing.T) types.Address {
	t.Helper()
	a, err := types.AddressFromString("00000000000000000000000000000000000000bb")
	require.NoError(t, err)
	return a
}

func newSimulator(t *testing.T) *Simulator {
	t.Helper()
	sim, err := NewSimulator(config.Default(), token.NewFake(1))
	require.NoError(t, err)
	return sim
}

func TestTransferQuorumSettles(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)
	sender := genesisA(t)
	recipient := recipientB(t)

	msg, err := sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, sender, recipient, 1000)
	require.NoError(err)
	require.Equal(types.StatusVerified, msg.Status())
	require.Equal(uint64(1), msg.Nonce)

	stateA, err := sim.ChainState(chainA)
	require.NoError(err)
	require.Equal(uint64(999_000), stateA.TotalSupply)
	stateB, err := sim.ChainState(chainB)
	require.NoError(err)
	require.Equal(uint64(1000), stateB.TotalSupply)
	require.Equal(uint64(1000), stateB.Balances[recipient])

	pending, err := sim.PendingMessages(chainB)
	require.NoError(err)
	require.Empty(pending)

	report := sim.ValidateConsistency(1_000_000)
	require.True(report.OK)
	require.Equal(uint64(1_000_000), report.Aggregate)
}

func TestTransferQuorumFaultedAttestors(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	require.NoError(sim.InjectAttestorFault("att-1", attestor.FaultInvalidSignature))
	require.NoError(sim.InjectAttestorFault("att-2", attestor.FaultConflictingVote))

	msg, err := sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, genesisA(t), recipientB(t), 1000)
	require.ErrorIs(err, types.ErrVerificationFailed)
	require.NotNil(msg)
	require.Equal(types.StatusFailed, msg.Status())

	// Failed verification leaves both ledgers untouched.
	stateA, err := sim.ChainState(chainA)
	require.NoError(err)
	require.Equal(uint64(1_000_000), stateA.TotalSupply)
	stateB, err := sim.ChainState(chainB)
	require.NoError(err)
	require.Equal(uint64(0), stateB.TotalSupply)
	require.True(sim.ValidateConsistency(1_000_000).OK)

	// Healthy again after a reset.
	sim.ClearAttestorFaults()
	msg, err = sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, genesisA(t), recipientB(t), 1000)
	require.NoError(err)
	require.Equal(types.StatusVerified, msg.Status())
}

func TestTransferRejectsUnknownChainAndZero(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)
	sender := genesisA(t)

	_, err := sim.Transfer(context.Background(), types.ProtocolQuorum, "chain-x", chainB, sender, recipientB(t), 1)
	require.ErrorIs(err, types.ErrUnknownChain)
	_, err = sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, "chain-x", sender, recipientB(t), 1)
	require.ErrorIs(err, types.ErrUnknownChain)
	_, err = sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, sender, recipientB(t), 0)
	require.ErrorIs(err, types.ErrInvalidAmount)
	require.Empty(sim.MessageLog())
}

func TestTransferLiquidityProtocol(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	require.Equal(uint64(100_000), sim.Liquidity(chainB))
	require.NoError(sim.SetLiquidity(chainB, 500))

	msg, err := sim.Transfer(context.Background(), types.ProtocolLiquidity, chainA, chainB, genesisA(t), recipientB(t), 1000)
	require.ErrorIs(err, types.ErrInsufficientLiquidity)
	require.Equal(types.StatusFailed, msg.Status())

	require.NoError(sim.SetLiquidity(chainB, 5000))
	msg, err = sim.Transfer(context.Background(), types.ProtocolLiquidity, chainA, chainB, genesisA(t), recipientB(t), 1000)
	require.NoError(err)
	require.Equal(types.StatusVerified, msg.Status())
	require.Equal(uint64(4000), sim.Liquidity(chainB))
	require.True(sim.ValidateConsistency(1_000_000).OK)
}

func TestTransferDomainProtocol(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)
	trusted := genesisA(t)

	// Default config trusts each chain's genesis account for its domain.
	msg, err := sim.Transfer(context.Background(), types.ProtocolDomain, chainA, chainB, trusted, recipientB(t), 250)
	require.NoError(err)
	require.Equal(types.StatusVerified, msg.Status())

	_, err = sim.Transfer(context.Background(), types.ProtocolDomain, chainA, chainB, recipientB(t), trusted, 250)
	require.ErrorIs(err, types.ErrUntrustedSender)
}

func TestTransferNonceMonotonic(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)
	sender := genesisA(t)
	recipient := recipientB(t)

	const transfers = 16
	var g errgroup.Group
	for i := 0; i < transfers; i++ {
		g.Go(func() error {
			_, err := sim.Transfer(context.Background(), types.ProtocolLiquidity, chainA, chainB, sender, recipient, 10)
			return err
		})
	}
	require.NoError(g.Wait())

	log := sim.MessageLog()
	require.Len(log, transfers)
	seen := make(map[uint64]bool, transfers)
	for _, msg := range log {
		require.False(seen[msg.Nonce], "nonce %d assigned twice", msg.Nonce)
		require.True(msg.Nonce >= 1 && msg.Nonce <= transfers)
		seen[msg.Nonce] = true
	}
	require.True(sim.ValidateConsistency(1_000_000).OK)
}

func TestCongestionDelaysDelivery(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	require.Equal(netcond.CongestionNone, sim.Congestion(chainB))
	require.NoError(sim.SetCongestion(chainB, netcond.CongestionSevere))
	require.Equal(netcond.CongestionSevere, sim.Congestion(chainB))

	// Severe is ten times the 10ms base latency.
	start := time.Now()
	msg, err := sim.Transfer(context.Background(), types.ProtocolLiquidity, chainA, chainB, genesisA(t), recipientB(t), 100)
	require.NoError(err)
	require.Equal(types.StatusVerified, msg.Status())
	require.GreaterOrEqual(time.Since(start), 100*time.Millisecond)
}

func TestCongestionScalesGasPrice(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	price, err := sim.GasPrice(chainB)
	require.NoError(err)
	require.Equal(uint64(1), price)

	require.NoError(sim.SetCongestion(chainB, netcond.CongestionHeavy))
	price, err = sim.GasPrice(chainB)
	require.NoError(err)
	require.Equal(uint64(5), price)

	_, err = sim.GasPrice("chain-x")
	require.ErrorIs(err, types.ErrUnknownChain)
}

func TestForceComplete(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	require.NoError(sim.InjectAttestorFault("att-1", attestor.FaultInvalidSignature))
	require.NoError(sim.InjectAttestorFault("att-2", attestor.FaultInvalidSignature))

	msg, err := sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, genesisA(t), recipientB(t), 1000)
	require.ErrorIs(err, types.ErrVerificationFailed)

	require.NoError(sim.ForceComplete(msg.Hash))
	require.Equal(types.StatusVerified, msg.Status())

	stateB, err := sim.ChainState(chainB)
	require.NoError(err)
	require.Equal(uint64(1000), stateB.TotalSupply)
	require.True(sim.ValidateConsistency(1_000_000).OK)

	// Idempotent, no double settlement.
	require.NoError(sim.ForceComplete(msg.Hash))
	stateB, err = sim.ChainState(chainB)
	require.NoError(err)
	require.Equal(uint64(1000), stateB.TotalSupply)

	var unknown types.Hash
	unknown[0] = 0xff
	require.Error(sim.ForceComplete(unknown))
}

func TestSetRequiredConfirmations(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	// One faulted attestor out of three still clears a threshold of two but
	// not of three.
	require.NoError(sim.InjectAttestorFault("att-3", attestor.FaultInvalidSignature))
	require.NoError(sim.SetRequiredConfirmations(chainB, 3))
	_, err := sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, genesisA(t), recipientB(t), 100)
	require.ErrorIs(err, types.ErrVerificationFailed)

	require.NoError(sim.SetRequiredConfirmations(chainB, 2))
	msg, err := sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, genesisA(t), recipientB(t), 100)
	require.NoError(err)
	require.Equal(types.StatusVerified, msg.Status())

	require.Error(sim.SetRequiredConfirmations(chainB, 0))
	require.Error(sim.SetRequiredConfirmations(chainB, 4))
	require.ErrorIs(sim.SetRequiredConfirmations("chain-x", 2), types.ErrUnknownChain)
}

func TestMessageLookupAndStats(t *testing.T) {
	require := require.New(t)
	sim := newSimulator(t)

	msg, err := sim.Transfer(context.Background(), types.ProtocolQuorum, chainA, chainB, genesisA(t), recipientB(t), 100)
	require.NoError(err)

	got, ok := sim.Message(msg.Hash)
	require.True(ok)
	require.Equal(msg.Hash, got.Hash)
	_, ok = sim.Message(types.Hash{})
	require.False(ok)

	stats := sim.AttestorStats()
	require.Len(stats, 3)
	var polls uint64
	for _, st := range stats {
		polls += st.Polls
	}
	require.NotZero(polls)

	require.Len(sim.Descriptors(), 2)
	require.Equal(chainA, sim.Descriptors()[0].ID)
}
