// Package router implements the protocol-specific delivery logic that moves
// a cross-chain message from its source ledger to its destination ledger.
package router

import (
	"context"

	"github.com/chainspan/go-chainspan/pkg/ledger"
	"github.com/chainspan/go-chainspan/pkg/types"
)

// Router delivers messages for one bridge protocol.
type Router interface {
	Protocol() types.Protocol
	// Route drives the message to completion. Expected, recoverable failures
	// (verification, liquidity, balance) come back as the sentinel errors of
	// pkg/types with the message left inspectable; anything else is
	// misconfiguration.
	Route(ctx context.Context, msg *types.CrossChainMessage) error
}

// settle performs the debit/credit pair shared by every protocol variant.
func settle(l *ledger.Ledger, msg *types.CrossChainMessage) error {
	return l.Settle(msg.SourceChain.ID, msg.DestChain.ID, msg.Sender, msg.Recipient, msg.Amount)
}
