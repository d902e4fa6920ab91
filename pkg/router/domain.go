package router

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/pkg/ledger"
	"github.com/chainspan/go-chainspan/pkg/types"
)

// DomainRouter is the domain-mapped protocol variant: both endpoints must
// have a registered domain mapping and the sender must be the source
// domain's configured trusted sender. Delivery is immediate, like the
// liquidity variant, but gated on the registries instead of a buffer.
type DomainRouter struct {
	ledger *ledger.Ledger

	mu      sync.RWMutex
	domains map[uint32]types.ChainID
	trusted map[uint32]types.Address

	logger *zap.Logger
}

// NewDomainRouter builds the domain-mapped router from initial registries.
func NewDomainRouter(l *ledger.Ledger, domains map[uint32]types.ChainID, trusted map[uint32]types.Address, logger *zap.Logger) *DomainRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &DomainRouter{
		ledger:  l,
		domains: make(map[uint32]types.ChainID, len(domains)),
		trusted: make(map[uint32]types.Address, len(trusted)),
		logger:  logger,
	}
	for domain, chain := range domains {
		r.domains[domain] = chain
	}
	for domain, sender := range trusted {
		r.trusted[domain] = sender
	}
	return r
}

func (r *DomainRouter) Protocol() types.Protocol {
	return types.ProtocolDomain
}

// RegisterDomain maps a routing domain to a chain.
func (r *DomainRouter) RegisterDomain(domain uint32, chain types.ChainID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[domain] = chain
}

// SetTrustedSender configures the sender allowed to originate from a domain.
func (r *DomainRouter) SetTrustedSender(domain uint32, sender types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trusted[domain] = sender
}

func (r *DomainRouter) mappedChain(domain uint32) (types.ChainID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.domains[domain]
	return chain, ok
}

// Route validates both domain mappings and the trusted sender, then settles
// immediately.
func (r *DomainRouter) Route(ctx context.Context, msg *types.CrossChainMessage) error {
	srcDomain := msg.SourceChain.Domain
	dstDomain := msg.DestChain.Domain

	if chain, ok := r.mappedChain(srcDomain); !ok || chain != msg.SourceChain.ID {
		msg.SetStatus(types.StatusFailed)
		return errors.Wrapf(types.ErrUnmappedDomain, "source domain %d", srcDomain)
	}
	if chain, ok := r.mappedChain(dstDomain); !ok || chain != msg.DestChain.ID {
		msg.SetStatus(types.StatusFailed)
		return errors.Wrapf(types.ErrUnmappedDomain, "destination domain %d", dstDomain)
	}

	r.mu.RLock()
	trusted, ok := r.trusted[srcDomain]
	r.mu.RUnlock()
	if !ok || trusted != msg.Sender {
		msg.SetStatus(types.StatusFailed)
		return errors.Wrapf(types.ErrUntrustedSender,
			"sender %s not trusted for domain %d", msg.Sender, srcDomain)
	}

	msg.SetStatus(types.StatusVerifying)
	if err := settle(r.ledger, msg); err != nil {
		msg.SetStatus(types.StatusFailed)
		return err
	}
	msg.SetStatus(types.StatusVerified)
	r.logger.Debug("domain delivery settled",
		zap.String("message", msg.Hash.String()),
		zap.Uint32("srcDomain", srcDomain),
		zap.Uint32("dstDomain", dstDomain))
	return nil
}
