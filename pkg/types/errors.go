package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors of the simulator core. VerificationFailed and the
// liquidity/balance errors are expected, recoverable outcomes; the rest
// indicate misconfiguration and should fail the calling test immediately.
var (
	ErrUnknownChain          = errors.New("unknown chain")
	ErrUnmappedDomain        = errors.New("unmapped domain")
	ErrUntrustedSender       = errors.New("untrusted sender")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrVerificationFailed    = errors.New("verification failed")
)

// AttestorPollError wraps the failure of a single attestor vote request.
// It is recorded against the message and logged, but never fails the
// overall poll.
type AttestorPollError struct {
	Attestor string
	Err      error
}

func (e *AttestorPollError) Error() string {
	return fmt.Sprintf("attestor %s poll failed: %v", e.Attestor, e.Err)
}

func (e *AttestorPollError) Unwrap() error {
	return e.Err
}
