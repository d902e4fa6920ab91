package router

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/pkg/ledger"
	"github.com/chainspan/go-chainspan/pkg/quorum"
	"github.com/chainspan/go-chainspan/pkg/types"
)

// QuorumRouter is the quorum-gated protocol variant: delivery happens only
// after the destination chain's attestor threshold confirms the message.
type QuorumRouter struct {
	ledger *ledger.Ledger
	engine *quorum.Engine
	logger *zap.Logger
}

// NewQuorumRouter builds the quorum-gated router.
func NewQuorumRouter(l *ledger.Ledger, engine *quorum.Engine, logger *zap.Logger) *QuorumRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuorumRouter{ledger: l, engine: engine, logger: logger}
}

func (r *QuorumRouter) Protocol() types.Protocol {
	return types.ProtocolQuorum
}

// Route registers the message as pending on the destination chain and runs
// quorum verification. Verified messages settle and leave the pending set;
// Failed messages stay queryable there with zero ledger mutation, reported
// as the soft ErrVerificationFailed since a caller may legitimately retry
// with a new transfer or force-complete from a test.
func (r *QuorumRouter) Route(ctx context.Context, msg *types.CrossChainMessage) error {
	dst := msg.DestChain.ID
	if err := r.ledger.AddPending(dst, msg); err != nil {
		return err
	}
	r.engine.Register(msg, func() error {
		if err := settle(r.ledger, msg); err != nil {
			return err
		}
		return r.ledger.RemovePending(dst, msg.Hash)
	})

	status, err := r.engine.Verify(ctx, msg)
	if err != nil {
		return err
	}
	if status != types.StatusVerified {
		r.logger.Info("quorum verification failed",
			zap.String("message", msg.Hash.String()),
			zap.String("dst", string(dst)))
		return errors.Wrapf(types.ErrVerificationFailed, "message %s", msg.Hash)
	}
	return nil
}
