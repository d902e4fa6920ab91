// Package quorum implements the verification engine that drives a
// cross-chain message through attestor polling until a confirmation
// threshold is met or the pool is exhausted.
package quorum

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/pkg/attestor"
	"github.com/chainspan/go-chainspan/pkg/types"
)

var verificationsMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "chainspan_quorum_verifications_total",
	Help: "Number of verification runs, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(verificationsMtc)
}

// DefaultRequiredConfirmations applies to destination chains with no explicit
// threshold.
const DefaultRequiredConfirmations = 2

// SettleFunc performs the post-verification settlement for one message. The
// engine guarantees it runs at most once per message.
type SettleFunc func() error

// tracked is the engine's record of one registered message.
type tracked struct {
	msg     *types.CrossChainMessage
	settle  SettleFunc
	settled bool
}

// Engine owns the Pending -> Verifying -> {Verified, Failed} state machine.
// Attestors are polled concurrently in pool enumeration order; polling stops
// as soon as the destination chain's threshold is reached, and the losing
// in-flight requests are cancelled cooperatively.
type Engine struct {
	mu              sync.Mutex
	pool            *attestor.Pool
	required        map[types.ChainID]int
	defaultRequired int
	tracked         map[types.Hash]*tracked
	logger          *zap.Logger
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// DefaultRequired is the threshold for chains without an explicit entry;
	// zero means DefaultRequiredConfirmations.
	DefaultRequired int
	Required        map[types.ChainID]int
	Logger          *zap.Logger
}

// NewEngine builds an engine over the given attestor pool.
func NewEngine(pool *attestor.Pool, cfg EngineConfig) *Engine {
	if cfg.DefaultRequired <= 0 {
		cfg.DefaultRequired = DefaultRequiredConfirmations
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	required := make(map[types.ChainID]int, len(cfg.Required))
	for chain, n := range cfg.Required {
		required[chain] = n
	}
	return &Engine{
		pool:            pool,
		required:        required,
		defaultRequired: cfg.DefaultRequired,
		tracked:         make(map[types.Hash]*tracked),
		logger:          cfg.Logger,
	}
}

// SetRequired changes a destination chain's confirmation threshold. The
// change applies to messages verified after the call, not retroactively.
func (e *Engine) SetRequired(chain types.ChainID, n int) error {
	if n <= 0 {
		return errors.Errorf("required confirmations must be positive, got %d", n)
	}
	if n > e.pool.Size() {
		return errors.Errorf("required confirmations %d exceed pool size %d", n, e.pool.Size())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.required[chain] = n
	return nil
}

// RequiredFor returns the threshold in effect for a destination chain.
func (e *Engine) RequiredFor(chain types.ChainID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.required[chain]; ok {
		return n
	}
	return e.defaultRequired
}

// Register records a message and its settlement step. Must be called before
// Verify; it is what makes ForceComplete able to find the message.
func (e *Engine) Register(msg *types.CrossChainMessage, settle SettleFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked[msg.Hash] = &tracked{msg: msg, settle: settle}
}

// Message returns a registered message by hash.
func (e *Engine) Message(hash types.Hash) (*types.CrossChainMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracked[hash]
	if !ok {
		return nil, false
	}
	return t.msg, true
}

type pollResult struct {
	attestor string
	vote     *attestor.Vote
	err      error
}

// Verify drives the message to Verified or Failed. A confirming vote counts
// toward the threshold only if its ballot signature verifies and the attestor
// has not equivocated; a contradictory second ballot disqualifies the
// attestor for this message rather than counting as a fresh vote. On
// Verified the registered settlement runs before Verify returns.
func (e *Engine) Verify(ctx context.Context, msg *types.CrossChainMessage) (types.VerificationStatus, error) {
	required := e.RequiredFor(msg.DestChain.ID)
	msg.SetStatus(types.StatusVerifying)

	ids := e.pool.Attestors()
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered to pool size so abandoned polls never block on send.
	results := make(chan pollResult, len(ids))
	for _, id := range ids {
		go func(id string) {
			vote, err := e.pool.RequestVote(pollCtx, id, msg.Hash)
			results <- pollResult{attestor: id, vote: vote, err: err}
		}(id)
	}

	confirms := 0
	for received := 0; received < len(ids); received++ {
		select {
		case <-ctx.Done():
			return msg.Status(), errors.Wrap(ctx.Err(), "verification interrupted")
		case r := <-results:
			switch {
			case r.err != nil:
				pollErr := &types.AttestorPollError{Attestor: r.attestor, Err: r.err}
				e.logger.Warn("attestor poll failed",
					zap.String("message", msg.Hash.String()),
					zap.Error(pollErr))
				msg.RecordVote(r.attestor, types.VoteErrored)
			case r.vote.Equivocated():
				e.logger.Warn("attestor equivocated",
					zap.String("message", msg.Hash.String()),
					zap.String("attestor", r.attestor))
				msg.RecordVote(r.attestor, types.VoteDisqualified)
			case r.vote.Confirmed():
				msg.RecordVote(r.attestor, types.VoteConfirmed)
				confirms++
			default:
				msg.RecordVote(r.attestor, types.VoteRejected)
			}
		}
		if confirms >= required {
			cancel()
			msg.SetStatus(types.StatusVerified)
			verificationsMtc.WithLabelValues("verified").Inc()
			e.logger.Debug("message verified",
				zap.String("message", msg.Hash.String()),
				zap.Int("confirmations", confirms),
				zap.Int("required", required))
			if err := e.settleOnce(msg.Hash); err != nil {
				return types.StatusVerified, err
			}
			return types.StatusVerified, nil
		}
	}

	msg.SetStatus(types.StatusFailed)
	verificationsMtc.WithLabelValues("failed").Inc()
	e.logger.Debug("message failed verification",
		zap.String("message", msg.Hash.String()),
		zap.Int("confirmations", confirms),
		zap.Int("required", required))
	return types.StatusFailed, nil
}

// ForceComplete marks a message Verified regardless of its actual vote count
// and immediately triggers the registered settlement.
//
// This is a test escape hatch only. It bypasses quorum verification entirely
// and must never be wired into a production-shaped path; the single-settlement
// guard makes a second call (or a call after normal settlement) a no-op.
func (e *Engine) ForceComplete(hash types.Hash) error {
	e.mu.Lock()
	t, ok := e.tracked[hash]
	if !ok {
		e.mu.Unlock()
		return errors.Errorf("unknown message %s", hash)
	}
	settled := t.settled
	e.mu.Unlock()
	if settled {
		return nil
	}
	t.msg.OverrideStatus(types.StatusVerified)
	verificationsMtc.WithLabelValues("forced").Inc()
	return e.settleOnce(hash)
}

// settleOnce runs the registered settlement at most once per message.
func (e *Engine) settleOnce(hash types.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracked[hash]
	if !ok {
		return errors.Errorf("unknown message %s", hash)
	}
	if t.settled {
		return nil
	}
	if t.settle != nil {
		if err := t.settle(); err != nil {
			return err
		}
	}
	t.settled = true
	return nil
}
