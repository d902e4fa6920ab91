package router

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/pkg/ledger"
	"github.com/chainspan/go-chainspan/pkg/types"
)

// LiquidityRouter is the liquidity-gated protocol variant: a single-relayer
// trust model where delivery is immediate and deterministic, bounded by a
// per-destination liquidity buffer.
type LiquidityRouter struct {
	ledger *ledger.Ledger

	mu      sync.Mutex
	buffers map[types.ChainID]uint64

	logger *zap.Logger
}

// NewLiquidityRouter builds the liquidity-gated router with initial buffers.
func NewLiquidityRouter(l *ledger.Ledger, buffers map[types.ChainID]uint64, logger *zap.Logger) *LiquidityRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &LiquidityRouter{
		ledger:  l,
		buffers: make(map[types.ChainID]uint64, len(buffers)),
		logger:  logger,
	}
	for chain, buf := range buffers {
		r.buffers[chain] = buf
	}
	return r
}

func (r *LiquidityRouter) Protocol() types.Protocol {
	return types.ProtocolLiquidity
}

// SetLiquidity rebalances a destination chain's buffer.
func (r *LiquidityRouter) SetLiquidity(chain types.ChainID, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[chain] = amount
}

// Liquidity returns a destination chain's current buffer.
func (r *LiquidityRouter) Liquidity(chain types.ChainID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffers[chain]
}

// reserve atomically checks and draws down a destination buffer, so two
// concurrent deliveries can never jointly exceed it.
func (r *LiquidityRouter) reserve(chain types.ChainID, amount uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer := r.buffers[chain]
	if amount > buffer {
		return buffer, false
	}
	r.buffers[chain] = buffer - amount
	return buffer, true
}

func (r *LiquidityRouter) refund(chain types.ChainID, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[chain] += amount
}

// Route fails fast with ErrInsufficientLiquidity when the amount exceeds the
// destination buffer, touching no ledger. Otherwise it reserves the amount
// from the buffer and settles immediately with no quorum step; a failed
// settlement refunds the reservation.
func (r *LiquidityRouter) Route(ctx context.Context, msg *types.CrossChainMessage) error {
	dst := msg.DestChain.ID

	buffer, ok := r.reserve(dst, msg.Amount)
	if !ok {
		msg.SetStatus(types.StatusFailed)
		return errors.Wrapf(types.ErrInsufficientLiquidity,
			"destination %s buffer %d < amount %d", dst, buffer, msg.Amount)
	}

	msg.SetStatus(types.StatusVerifying)
	if err := settle(r.ledger, msg); err != nil {
		r.refund(dst, msg.Amount)
		msg.SetStatus(types.StatusFailed)
		return err
	}

	msg.SetStatus(types.StatusVerified)
	r.logger.Debug("liquidity delivery settled",
		zap.String("message", msg.Hash.String()),
		zap.String("dst", string(dst)),
		zap.Uint64("amount", msg.Amount))
	return nil
}
