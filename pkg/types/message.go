package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"
)

// VerificationStatus tracks a message through its lifecycle. Transitions are
// forward-only: Pending -> Verifying -> {Verified, Failed}, with Verified and
// Failed terminal.
type VerificationStatus uint8

const (
	StatusPending VerificationStatus = iota
	StatusVerifying
	StatusVerified
	StatusFailed
)

func (s VerificationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerifying:
		return "verifying"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further transition.
func (s VerificationStatus) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// VoteOutcome is the engine's classification of one attestor's response.
type VoteOutcome uint8

const (
	VoteConfirmed VoteOutcome = iota + 1
	VoteRejected
	VoteDisqualified
	VoteErrored
)

func (o VoteOutcome) String() string {
	switch o {
	case VoteConfirmed:
		return "confirmed"
	case VoteRejected:
		return "rejected"
	case VoteDisqualified:
		return "disqualified"
	case VoteErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// CrossChainMessage is one in-flight transfer. All fields set at construction
// are immutable; only the vote map and status mutate afterwards, guarded by
// the message's own lock so inspection surfaces can read concurrently with
// verification.
type CrossChainMessage struct {
	Protocol    Protocol
	SourceChain *ChainDescriptor
	DestChain   *ChainDescriptor
	Sender      Address
	Recipient   Address
	Payload     []byte
	Amount      uint64
	Nonce       uint64
	Hash        Hash
	CreatedAt   time.Time

	mu     sync.RWMutex
	status VerificationStatus
	votes  map[string]VoteOutcome
}

// NewMessage builds a message and derives its hash from a canonical binary
// encoding of the immutable fields.
func NewMessage(
	protocol Protocol,
	source, dest *ChainDescriptor,
	sender, recipient Address,
	payload []byte,
	amount, nonce uint64,
) *CrossChainMessage {
	m := &CrossChainMessage{
		Protocol:    protocol,
		SourceChain: source,
		DestChain:   dest,
		Sender:      sender,
		Recipient:   recipient,
		Payload:     payload,
		Amount:      amount,
		Nonce:       nonce,
		CreatedAt:   time.Now().UTC(),
		status:      StatusPending,
		votes:       make(map[string]VoteOutcome),
	}
	m.Hash = m.computeHash()
	return m
}

func (m *CrossChainMessage) computeHash() Hash {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Protocol))
	writeLenPrefixed(&buf, []byte(m.SourceChain.ID))
	writeLenPrefixed(&buf, []byte(m.DestChain.ID))
	buf.Write(m.Sender[:])
	buf.Write(m.Recipient[:])
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], m.Amount)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], m.Nonce)
	buf.Write(scratch[:])
	writeLenPrefixed(&buf, m.Payload)
	return sha256.Sum256(buf.Bytes())
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(b)))
	buf.Write(scratch[:])
	buf.Write(b)
}

// Status returns the current verification status.
func (m *CrossChainMessage) Status() VerificationStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetStatus advances the status. Backward transitions and transitions out of
// a terminal status are rejected; it reports whether the status changed.
func (m *CrossChainMessage) SetStatus(s VerificationStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Terminal() || s <= m.status {
		return false
	}
	m.status = s
	return true
}

// OverrideStatus sets the status unconditionally, terminal or not. It exists
// solely for the ForceComplete test escape hatch and must not be used on any
// production-shaped path.
func (m *CrossChainMessage) OverrideStatus(s VerificationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// RecordVote stores the engine's classification of one attestor's response.
func (m *CrossChainMessage) RecordVote(attestor string, outcome VoteOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[attestor] = outcome
}

// Votes returns a copy of the attestor vote map.
func (m *CrossChainMessage) Votes() map[string]VoteOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	votes := make(map[string]VoteOutcome, len(m.votes))
	for k, v := range m.votes {
		votes[k] = v
	}
	return votes
}

// MessageView is an immutable JSON-friendly snapshot of a message.
type MessageView struct {
	Hash        string            `json:"hash"`
	Protocol    string            `json:"protocol"`
	SourceChain string            `json:"sourceChain"`
	DestChain   string            `json:"destChain"`
	Sender      string            `json:"sender"`
	Recipient   string            `json:"recipient"`
	Amount      uint64            `json:"amount"`
	Nonce       uint64            `json:"nonce"`
	Status      string            `json:"status"`
	Votes       map[string]string `json:"votes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// View snapshots the message for inspection surfaces.
func (m *CrossChainMessage) View() MessageView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	votes := make(map[string]string, len(m.votes))
	for k, v := range m.votes {
		votes[k] = v.String()
	}
	return MessageView{
		Hash:        m.Hash.String(),
		Protocol:    m.Protocol.String(),
		SourceChain: string(m.SourceChain.ID),
		DestChain:   string(m.DestChain.ID),
		Sender:      m.Sender.String(),
		Recipient:   m.Recipient.String(),
		Amount:      m.Amount,
		Nonce:       m.Nonce,
		Status:      m.status.String(),
		Votes:       votes,
		CreatedAt:   m.CreatedAt,
	}
}
