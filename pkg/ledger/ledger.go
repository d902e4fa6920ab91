// Package ledger implements the per-chain supply and balance records that are
// the conservation ground truth of the simulator.
package ledger

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/pkg/token"
	"github.com/chainspan/go-chainspan/pkg/types"
)

// chainState holds the mutable ledger of a single chain. It is guarded by its
// own lock; any operation touching two chains takes both locks in ascending
// arena-index order.
type chainState struct {
	mu          sync.Mutex
	desc        *types.ChainDescriptor
	totalSupply uint64
	totalMinted uint64
	totalBurned uint64
	balances    map[types.Address]uint64
	pending     map[types.Hash]*types.CrossChainMessage
}

// Snapshot is a deep copy of one chain's ledger state.
type Snapshot struct {
	ChainID     types.ChainID            `json:"chainId"`
	TotalSupply uint64                   `json:"totalSupply"`
	TotalMinted uint64                   `json:"totalMinted"`
	TotalBurned uint64                   `json:"totalBurned"`
	Balances    map[types.Address]uint64 `json:"-"`
	Pending     int                      `json:"pending"`
}

// Ledger is an arena of per-chain states indexed by ChainDescriptor.Index.
// All settlements notify the external token contract so its aggregate stays
// in lockstep with ledger state.
type Ledger struct {
	chains   []*chainState
	index    map[types.ChainID]int
	contract token.Contract
	logger   *zap.Logger
}

// New builds the arena from the descriptor list. Descriptor indices must
// match their positions.
func New(descs []*types.ChainDescriptor, contract token.Contract, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		chains:   make([]*chainState, 0, len(descs)),
		index:    make(map[types.ChainID]int, len(descs)),
		contract: contract,
		logger:   logger,
	}
	for i, desc := range descs {
		if desc.Index != i {
			return nil, errors.Errorf("descriptor %s has index %d, want %d", desc.ID, desc.Index, i)
		}
		if _, exists := l.index[desc.ID]; exists {
			return nil, errors.Errorf("chain %s already registered", desc.ID)
		}
		l.chains = append(l.chains, &chainState{
			desc:     desc,
			balances: make(map[types.Address]uint64),
			pending:  make(map[types.Hash]*types.CrossChainMessage),
		})
		l.index[desc.ID] = i
	}
	return l, nil
}

func (l *Ledger) chain(id types.ChainID) (*chainState, error) {
	i, ok := l.index[id]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnknownChain, "%s", id)
	}
	return l.chains[i], nil
}

// Descriptor returns the immutable descriptor for a chain.
func (l *Ledger) Descriptor(id types.ChainID) (*types.ChainDescriptor, error) {
	c, err := l.chain(id)
	if err != nil {
		return nil, err
	}
	return c.desc, nil
}

// Descriptors returns all descriptors in arena order.
func (l *Ledger) Descriptors() []*types.ChainDescriptor {
	descs := make([]*types.ChainDescriptor, len(l.chains))
	for i, c := range l.chains {
		descs[i] = c.desc
	}
	return descs
}

// Credit adds amount to an account balance. It never fails for a known chain
// except on the invalid amount class.
func (l *Ledger) Credit(id types.ChainID, account types.Address, amount uint64) error {
	c, err := l.chain(id)
	if err != nil {
		return err
	}
	if amount == 0 {
		return errors.Wrapf(types.ErrInvalidAmount, "credit of 0 to %s on %s", account, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] += amount
	return nil
}

// Debit removes amount from an account balance.
func (l *Ledger) Debit(id types.ChainID, account types.Address, amount uint64) error {
	c, err := l.chain(id)
	if err != nil {
		return err
	}
	if amount == 0 {
		return errors.Wrapf(types.ErrInvalidAmount, "debit of 0 from %s on %s", account, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[account] < amount {
		return errors.Wrapf(types.ErrInsufficientBalance,
			"account %s on %s has %d, needs %d", account, id, c.balances[account], amount)
	}
	c.balances[account] -= amount
	return nil
}

// Mint creates amount new units credited to account, keeping the supply
// invariant (supply == minted - burned) true on return.
func (l *Ledger) Mint(id types.ChainID, account types.Address, amount uint64) error {
	c, err := l.chain(id)
	if err != nil {
		return err
	}
	if amount == 0 {
		return errors.Wrapf(types.ErrInvalidAmount, "mint of 0 on %s", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := l.contract.Mint(id, account, amount); err != nil {
		return errors.Wrap(err, "token contract mint")
	}
	c.mint(account, amount)
	return nil
}

// Burn destroys amount units held by account.
func (l *Ledger) Burn(id types.ChainID, account types.Address, amount uint64) error {
	c, err := l.chain(id)
	if err != nil {
		return err
	}
	if amount == 0 {
		return errors.Wrapf(types.ErrInvalidAmount, "burn of 0 on %s", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[account] < amount {
		return errors.Wrapf(types.ErrInsufficientBalance,
			"account %s on %s has %d, needs %d", account, id, c.balances[account], amount)
	}
	if err := l.contract.Burn(id, account, amount); err != nil {
		return errors.Wrap(err, "token contract burn")
	}
	c.burn(account, amount)
	return nil
}

// mint and burn assume the chain lock is held.
func (c *chainState) mint(account types.Address, amount uint64) {
	c.totalMinted += amount
	c.totalSupply += amount
	c.balances[account] += amount
}

func (c *chainState) burn(account types.Address, amount uint64) {
	c.totalBurned += amount
	c.totalSupply -= amount
	c.balances[account] -= amount
}

// Settle performs the burn-equivalent debit on the source chain and the
// mint-equivalent credit on the destination chain as one atomic step under
// both chain locks, mirroring the pair into the token contract first. Nothing
// is mutated when the sender balance is short or the contract rejects.
func (l *Ledger) Settle(src, dst types.ChainID, sender, recipient types.Address, amount uint64) error {
	srcState, err := l.chain(src)
	if err != nil {
		return err
	}
	dstState, err := l.chain(dst)
	if err != nil {
		return err
	}
	if amount == 0 {
		return errors.Wrapf(types.ErrInvalidAmount, "settlement of 0 from %s to %s", src, dst)
	}

	lockPair(srcState, dstState)
	defer unlockPair(srcState, dstState)

	if srcState.balances[sender] < amount {
		return errors.Wrapf(types.ErrInsufficientBalance,
			"account %s on %s has %d, needs %d", sender, src, srcState.balances[sender], amount)
	}
	// Mirror into the contract before touching ledger state, so a rejecting
	// contract leaves the ledger unchanged.
	if err := l.contract.Burn(src, sender, amount); err != nil {
		return errors.Wrap(err, "token contract burn")
	}
	if err := l.contract.Mint(dst, recipient, amount); err != nil {
		if rerr := l.contract.Mint(src, sender, amount); rerr != nil {
			l.logger.Error("token contract diverged: burn could not be restored",
				zap.String("src", string(src)), zap.Error(rerr))
		}
		return errors.Wrap(err, "token contract mint")
	}
	srcState.burn(sender, amount)
	dstState.mint(recipient, amount)
	l.logger.Debug("settled transfer",
		zap.String("src", string(src)),
		zap.String("dst", string(dst)),
		zap.Uint64("amount", amount))
	return nil
}

// lockPair acquires both chain locks in ascending arena-index order.
func lockPair(a, b *chainState) {
	if a == b {
		a.mu.Lock()
		return
	}
	if a.desc.Index < b.desc.Index {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *chainState) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

// Balance returns an account's balance on a chain.
func (l *Ledger) Balance(id types.ChainID, account types.Address) (uint64, error) {
	c, err := l.chain(id)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account], nil
}

// Snapshot deep-copies one chain's ledger state.
func (l *Ledger) Snapshot(id types.ChainID) (Snapshot, error) {
	c, err := l.chain(id)
	if err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	balances := make(map[types.Address]uint64, len(c.balances))
	for k, v := range c.balances {
		balances[k] = v
	}
	return Snapshot{
		ChainID:     c.desc.ID,
		TotalSupply: c.totalSupply,
		TotalMinted: c.totalMinted,
		TotalBurned: c.totalBurned,
		Balances:    balances,
		Pending:     len(c.pending),
	}, nil
}

// AddPending registers a message in the chain's awaiting-verification set.
func (l *Ledger) AddPending(id types.ChainID, msg *types.CrossChainMessage) error {
	c, err := l.chain(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[msg.Hash]; exists {
		return errors.Errorf("message %s already pending on %s", msg.Hash, id)
	}
	c.pending[msg.Hash] = msg
	return nil
}

// RemovePending drops a message from the chain's pending set.
func (l *Ledger) RemovePending(id types.ChainID, hash types.Hash) error {
	c, err := l.chain(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, hash)
	return nil
}

// Pending lists the messages awaiting verification on a chain.
func (l *Ledger) Pending(id types.ChainID) ([]*types.CrossChainMessage, error) {
	c, err := l.chain(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]*types.CrossChainMessage, 0, len(c.pending))
	for _, m := range c.pending {
		msgs = append(msgs, m)
	}
	return msgs, nil
}
