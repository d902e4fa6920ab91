// Package bridge implements the cross-chain orchestrator: the public facade
// that accepts transfer requests, routes them through a protocol-specific
// router, and exposes the simulator's inspection and control operations.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/internal/config"
	"github.com/chainspan/go-chainspan/pkg/attestor"
	"github.com/chainspan/go-chainspan/pkg/ledger"
	"github.com/chainspan/go-chainspan/pkg/netcond"
	"github.com/chainspan/go-chainspan/pkg/quorum"
	"github.com/chainspan/go-chainspan/pkg/router"
	"github.com/chainspan/go-chainspan/pkg/token"
	"github.com/chainspan/go-chainspan/pkg/types"
)

var transfersMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "chainspan_transfers_total",
	Help: "Number of transfer requests, by protocol and outcome.",
}, []string{"protocol", "outcome"})

func init() {
	prometheus.MustRegister(transfersMtc)
}

// Simulator is the cross-chain orchestrator. It owns the message nonce
// counter, the global append-only message log, and the wiring between the
// ledger arena, attestor pool, verification engine, and protocol routers.
type Simulator struct {
	descriptors map[types.ChainID]*types.ChainDescriptor
	ledger      *ledger.Ledger
	pool        *attestor.Pool
	engine      *quorum.Engine
	conditions  *netcond.Model
	routers     map[types.Protocol]router.Router
	liquidity   *router.LiquidityRouter
	domains     *router.DomainRouter
	validator   *ledger.ConsistencyValidator
	contract    token.Contract
	clock       clock.Clock
	logger      *zap.Logger

	nonce *atomic.Uint64

	mu     sync.RWMutex
	log    []*types.CrossChainMessage
	byHash map[types.Hash]*types.CrossChainMessage
}

// Option overrides a Simulator default.
type Option func(*Simulator)

// WithClock injects the clock used for congestion and attestor delays.
func WithClock(c clock.Clock) Option {
	return func(s *Simulator) { s.clock = c }
}

// WithLogger injects the simulator logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// NewSimulator wires a simulator from configuration and the external token
// contract collaborator. Initial supplies are minted to each chain's genesis
// account, mirrored into the contract.
func NewSimulator(cfg *config.Config, contract token.Contract, opts ...Option) (*Simulator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		descriptors: make(map[types.ChainID]*types.ChainDescriptor, len(cfg.Chains)),
		contract:    contract,
		clock:       clock.New(),
		logger:      zap.NewNop(),
		nonce:       atomic.NewUint64(0),
		byHash:      make(map[types.Hash]*types.CrossChainMessage),
	}
	for _, opt := range opts {
		opt(s)
	}

	descs := make([]*types.ChainDescriptor, 0, len(cfg.Chains))
	baseline := make(map[types.ChainID]time.Duration, len(cfg.Chains))
	buffers := make(map[types.ChainID]uint64, len(cfg.Chains))
	domainMap := make(map[uint32]types.ChainID, len(cfg.Chains))
	trusted := make(map[uint32]types.Address, len(cfg.Chains))
	required := make(map[types.ChainID]int)
	for i, chain := range cfg.Chains {
		desc := &types.ChainDescriptor{
			ID:           types.ChainID(chain.ID),
			Name:         chain.Name,
			Index:        i,
			Endpoint:     chain.Endpoint,
			LiquidityHub: chain.LiquidityHub,
			Domain:       chain.Domain,
		}
		descs = append(descs, desc)
		s.descriptors[desc.ID] = desc
		baseline[desc.ID] = chain.BaseLatency()
		buffers[desc.ID] = chain.LiquidityBuffer
		domainMap[chain.Domain] = desc.ID
		if chain.TrustedSender != "" {
			sender, err := chain.TrustedSenderAddress()
			if err != nil {
				return nil, err
			}
			trusted[chain.Domain] = sender
		}
		if chain.RequiredConfirmations > 0 {
			required[desc.ID] = chain.RequiredConfirmations
		}
	}

	l, err := ledger.New(descs, contract, s.logger.Named("ledger"))
	if err != nil {
		return nil, err
	}
	s.ledger = l
	for _, chain := range cfg.Chains {
		if chain.InitialSupply == 0 {
			continue
		}
		genesis, err := chain.GenesisAccountAddress()
		if err != nil {
			return nil, err
		}
		if err := l.Mint(types.ChainID(chain.ID), genesis, chain.InitialSupply); err != nil {
			return nil, errors.Wrapf(err, "genesis mint on %s", chain.ID)
		}
	}

	specs := make([]attestor.Spec, 0, len(cfg.Attestors))
	for _, att := range cfg.Attestors {
		var faults attestor.FaultMode
		for _, name := range att.Faults {
			mode, err := attestor.FaultModeFromString(name)
			if err != nil {
				return nil, err
			}
			faults |= mode
		}
		specs = append(specs, attestor.Spec{ID: att.ID, Faults: faults, Delay: att.Delay()})
	}
	pool, err := attestor.NewPool(attestor.PoolConfig{
		Attestors: specs,
		Seed:      cfg.Seed,
		Clock:     s.clock,
		Logger:    s.logger.Named("attestor"),
	})
	if err != nil {
		return nil, err
	}
	s.pool = pool

	s.engine = quorum.NewEngine(pool, quorum.EngineConfig{
		DefaultRequired: cfg.DefaultConfirmations,
		Required:        required,
		Logger:          s.logger.Named("quorum"),
	})
	s.conditions = netcond.New(baseline)
	s.liquidity = router.NewLiquidityRouter(l, buffers, s.logger.Named("liquidity"))
	s.domains = router.NewDomainRouter(l, domainMap, trusted, s.logger.Named("domain"))
	s.routers = map[types.Protocol]router.Router{
		types.ProtocolQuorum:    router.NewQuorumRouter(l, s.engine, s.logger.Named("router")),
		types.ProtocolLiquidity: s.liquidity,
		types.ProtocolDomain:    s.domains,
	}
	s.validator = ledger.NewConsistencyValidator(l, contract)
	return s, nil
}

// Transfer is the public entry point for one cross-chain transfer. Both
// chains must be known; the returned message is the caller's handle and is
// populated even when the transfer ends in a soft failure.
func (s *Simulator) Transfer(
	ctx context.Context,
	protocol types.Protocol,
	srcChain, dstChain types.ChainID,
	sender, recipient types.Address,
	amount uint64,
) (*types.CrossChainMessage, error) {
	src, ok := s.descriptors[srcChain]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownChain, "%s", srcChain)
	}
	dst, ok := s.descriptors[dstChain]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownChain, "%s", dstChain)
	}
	if amount == 0 {
		return nil, errors.Wrap(types.ErrInvalidAmount, "transfer of 0")
	}
	r, ok := s.routers[protocol]
	if !ok {
		return nil, errors.Errorf("unsupported protocol %s", protocol)
	}

	msg := types.NewMessage(protocol, src, dst, sender, recipient, nil, amount, s.nonce.Inc())
	s.appendLog(msg)
	s.logger.Info("transfer initiated",
		zap.String("message", msg.Hash.String()),
		zap.String("protocol", protocol.String()),
		zap.String("src", string(srcChain)),
		zap.String("dst", string(dstChain)),
		zap.Uint64("amount", amount),
		zap.Uint64("nonce", msg.Nonce))

	// Congestion adds delay before the delivery step begins; it never drops
	// the message.
	if delay := s.conditions.Delay(dstChain); delay > 0 {
		select {
		case <-ctx.Done():
			return msg, errors.Wrap(ctx.Err(), "transfer interrupted")
		case <-s.clock.After(delay):
		}
	}

	err := r.Route(ctx, msg)
	transfersMtc.WithLabelValues(protocol.String(), outcomeLabel(err)).Inc()
	if err != nil {
		s.logger.Warn("transfer not settled",
			zap.String("message", msg.Hash.String()),
			zap.Error(err))
		return msg, err
	}
	return msg, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, types.ErrVerificationFailed):
		return "verification_failed"
	default:
		return "rejected"
	}
}

func (s *Simulator) appendLog(msg *types.CrossChainMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, msg)
	s.byHash[msg.Hash] = msg
}

// ChainState snapshots one chain's ledger.
func (s *Simulator) ChainState(chain types.ChainID) (ledger.Snapshot, error) {
	return s.ledger.Snapshot(chain)
}

// PendingMessages lists the messages awaiting verification on a chain.
func (s *Simulator) PendingMessages(chain types.ChainID) ([]*types.CrossChainMessage, error) {
	return s.ledger.Pending(chain)
}

// MessageLog returns the global append-only log of every message created.
func (s *Simulator) MessageLog() []*types.CrossChainMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*types.CrossChainMessage(nil), s.log...)
}

// Message looks a message up by hash in the global log.
func (s *Simulator) Message(hash types.Hash) (*types.CrossChainMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byHash[hash]
	return msg, ok
}

// SetRequiredConfirmations changes a destination chain's quorum threshold at
// runtime, affecting messages verified afterwards.
func (s *Simulator) SetRequiredConfirmations(chain types.ChainID, n int) error {
	if _, ok := s.descriptors[chain]; !ok {
		return errors.Wrapf(types.ErrUnknownChain, "%s", chain)
	}
	return s.engine.SetRequired(chain, n)
}

// InjectAttestorFault adds a fault mode to one attestor.
func (s *Simulator) InjectAttestorFault(attestorID string, mode attestor.FaultMode) error {
	return s.pool.InjectFault(attestorID, mode)
}

// ClearAttestorFaults restores every attestor to normal behavior.
func (s *Simulator) ClearAttestorFaults() {
	s.pool.Reset()
}

// AttestorStats snapshots the pool's per-attestor counters.
func (s *Simulator) AttestorStats() []attestor.Stats {
	return s.pool.Stats()
}

// SetCongestion sets a chain's congestion level.
func (s *Simulator) SetCongestion(chain types.ChainID, level netcond.CongestionLevel) error {
	if _, ok := s.descriptors[chain]; !ok {
		return errors.Wrapf(types.ErrUnknownChain, "%s", chain)
	}
	s.conditions.SetCongestion(chain, level)
	return nil
}

// Congestion returns a chain's congestion level.
func (s *Simulator) Congestion(chain types.ChainID) netcond.CongestionLevel {
	return s.conditions.Level(chain)
}

// GasPrice reports the external base gas price scaled by the chain's
// congestion multiplier.
func (s *Simulator) GasPrice(chain types.ChainID) (uint64, error) {
	if _, ok := s.descriptors[chain]; !ok {
		return 0, errors.Wrapf(types.ErrUnknownChain, "%s", chain)
	}
	return s.contract.GasPrice(chain) * s.conditions.GasMultiplier(chain), nil
}

// SetLiquidity rebalances the liquidity-gated router's buffer for a chain.
func (s *Simulator) SetLiquidity(chain types.ChainID, amount uint64) error {
	if _, ok := s.descriptors[chain]; !ok {
		return errors.Wrapf(types.ErrUnknownChain, "%s", chain)
	}
	s.liquidity.SetLiquidity(chain, amount)
	return nil
}

// Liquidity returns the liquidity-gated router's buffer for a chain.
func (s *Simulator) Liquidity(chain types.ChainID) uint64 {
	return s.liquidity.Liquidity(chain)
}

// ForceComplete marks a quorum-gated message Verified regardless of votes and
// settles it immediately. Test escape hatch only; see the engine method.
func (s *Simulator) ForceComplete(hash types.Hash) error {
	return s.engine.ForceComplete(hash)
}

// ValidateConsistency checks supply conservation against the expected
// aggregate.
func (s *Simulator) ValidateConsistency(expectedAggregate uint64) ledger.ConsistencyReport {
	return s.validator.Check(expectedAggregate)
}

// Descriptors lists the configured chains in arena order.
func (s *Simulator) Descriptors() []*types.ChainDescriptor {
	return s.ledger.Descriptors()
}
