// Package attestor implements the pool of independent verifier nodes that
// vote on cross-chain message hashes, with per-attestor fault injection.
package attestor

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/chainspan/go-chainspan/pkg/crypto"
	"github.com/chainspan/go-chainspan/pkg/types"
)

var (
	pollsMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainspan_attestor_polls_total",
		Help: "Number of vote requests served, by attestor.",
	}, []string{"attestor"})
	confirmationsMtc = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainspan_attestor_confirmations_total",
		Help: "Number of confirming votes produced, by attestor.",
	}, []string{"attestor"})
)

func init() {
	prometheus.MustRegister(pollsMtc)
	prometheus.MustRegister(confirmationsMtc)
}

// FaultMode is a bitmask of injected attestor faults.
type FaultMode uint8

const (
	// FaultInvalidSignature makes the attestor return a non-confirming vote
	// carrying an unverifiable signature.
	FaultInvalidSignature FaultMode = 1 << iota
	// FaultConflictingVote makes the attestor equivocate: its response carries
	// two signed ballots with opposite verdicts for the same message.
	FaultConflictingVote
	// FaultDelayed makes the attestor suspend for its configured delay before
	// answering.
	FaultDelayed

	FaultNone FaultMode = 0
)

func (f FaultMode) String() string {
	if f == FaultNone {
		return "none"
	}
	var parts []string
	if f&FaultInvalidSignature != 0 {
		parts = append(parts, "invalid-signature")
	}
	if f&FaultConflictingVote != 0 {
		parts = append(parts, "conflicting-vote")
	}
	if f&FaultDelayed != 0 {
		parts = append(parts, "delayed")
	}
	return strings.Join(parts, ",")
}

// FaultModeFromString parses a single fault mode name.
func FaultModeFromString(s string) (FaultMode, error) {
	switch s {
	case "none":
		return FaultNone, nil
	case "invalid-signature":
		return FaultInvalidSignature, nil
	case "conflicting-vote":
		return FaultConflictingVote, nil
	case "delayed":
		return FaultDelayed, nil
	default:
		return 0, errors.Errorf("unknown fault mode %q", s)
	}
}

// Ballot is one signed verdict over a message hash.
type Ballot struct {
	Attestor    string
	MessageHash types.Hash
	Confirmed   bool
	PublicKey   []byte
	Signature   []byte
}

// ballotDigest is the signed content: the message hash plus the verdict byte.
func ballotDigest(hash types.Hash, confirmed bool) []byte {
	digest := make([]byte, len(hash)+1)
	copy(digest, hash[:])
	if confirmed {
		digest[len(hash)] = 1
	}
	return digest
}

// Valid reports whether the ballot's signature verifies.
func (b *Ballot) Valid() bool {
	return crypto.Verify(b.PublicKey, ballotDigest(b.MessageHash, b.Confirmed), b.Signature)
}

// Vote is one attestor's response to a poll. A healthy response carries a
// single ballot; an equivocating attestor's response carries two with
// opposite verdicts.
type Vote struct {
	Attestor string
	Ballots  []Ballot
}

// Equivocated reports whether the vote carries contradictory ballots.
func (v *Vote) Equivocated() bool {
	if len(v.Ballots) < 2 {
		return false
	}
	first := v.Ballots[0].Confirmed
	for _, b := range v.Ballots[1:] {
		if b.Confirmed != first {
			return true
		}
	}
	return false
}

// Confirmed reports whether the vote is a single, validly signed confirmation.
func (v *Vote) Confirmed() bool {
	if len(v.Ballots) != 1 {
		return false
	}
	return v.Ballots[0].Confirmed && v.Ballots[0].Valid()
}

// record is one configured attestor.
type record struct {
	id       string
	signer   *crypto.Ed25519Signer
	delay    time.Duration
	faults   FaultMode
	polls    atomic.Uint64
	confirms atomic.Uint64
}

// Stats is a snapshot of one attestor's counters.
type Stats struct {
	ID            string `json:"id"`
	Faults        string `json:"faults"`
	Polls         uint64 `json:"polls"`
	Confirmations uint64 `json:"confirmations"`
}

// Spec configures one attestor at pool construction.
type Spec struct {
	ID     string
	Faults FaultMode
	// Delay applies when FaultDelayed is set; zero falls back to the pool
	// default.
	Delay time.Duration
}

// PoolConfig configures an attestor pool.
type PoolConfig struct {
	Attestors    []Spec
	DefaultDelay time.Duration
	// Seed drives keypair generation and delay jitter so runs are
	// reproducible. Zero seeds from the current time.
	Seed   int64
	Clock  clock.Clock
	Logger *zap.Logger
}

// Pool holds the configured attestors in a stable enumeration order.
type Pool struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*record

	rngMu sync.Mutex
	rng   *rand.Rand

	defaultDelay time.Duration
	clock        clock.Clock
	logger       *zap.Logger
}

// NewPool builds a pool from the given specs.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Attestors) == 0 {
		return nil, errors.New("pool requires at least one attestor")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	defaultDelay := cfg.DefaultDelay
	if defaultDelay == 0 {
		defaultDelay = 50 * time.Millisecond
	}

	p := &Pool{
		records:      make(map[string]*record, len(cfg.Attestors)),
		rng:          rng,
		defaultDelay: defaultDelay,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	for _, spec := range cfg.Attestors {
		if spec.ID == "" {
			return nil, errors.New("attestor id must not be empty")
		}
		if _, exists := p.records[spec.ID]; exists {
			return nil, errors.Errorf("attestor %s already registered", spec.ID)
		}
		signer, err := crypto.NewEd25519Signer(rng)
		if err != nil {
			return nil, errors.Wrapf(err, "attestor %s", spec.ID)
		}
		delay := spec.Delay
		if delay == 0 {
			delay = defaultDelay
		}
		p.records[spec.ID] = &record{
			id:     spec.ID,
			signer: signer,
			delay:  delay,
			faults: spec.Faults,
		}
		p.order = append(p.order, spec.ID)
	}
	return p, nil
}

// Attestors returns attestor IDs in the pool's natural enumeration order,
// which is also the polling order.
func (p *Pool) Attestors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Size returns the number of attestors in the pool.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// InjectFault adds a fault mode to an attestor's flag set.
func (p *Pool) InjectFault(id string, mode FaultMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[id]
	if !ok {
		return errors.Errorf("unknown attestor %s", id)
	}
	rec.faults |= mode
	p.logger.Debug("injected attestor fault",
		zap.String("attestor", id), zap.String("mode", mode.String()))
	return nil
}

// Reset clears all fault modes on all attestors.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.records {
		rec.faults = FaultNone
	}
}

// Stats snapshots every attestor's counters in enumeration order.
func (p *Pool) Stats() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := make([]Stats, 0, len(p.order))
	for _, id := range p.order {
		rec := p.records[id]
		stats = append(stats, Stats{
			ID:            rec.id,
			Faults:        rec.faults.String(),
			Polls:         rec.polls.Load(),
			Confirmations: rec.confirms.Load(),
		})
	}
	return stats
}

// RequestVote asks one attestor for its verdict on a message hash. A delayed
// attestor suspends on the pool clock and honors context cancellation; the
// other fault modes shape the returned ballots.
func (p *Pool) RequestVote(ctx context.Context, id string, hash types.Hash) (*Vote, error) {
	p.mu.RLock()
	rec, ok := p.records[id]
	var faults FaultMode
	var delay time.Duration
	if ok {
		faults = rec.faults
		delay = rec.delay
	}
	p.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown attestor %s", id)
	}

	rec.polls.Inc()
	pollsMtc.WithLabelValues(id).Inc()

	if faults&FaultDelayed != 0 {
		wait := delay + p.jitter(delay)
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "attestor %s abandoned", id)
		case <-p.clock.After(wait):
		}
	}

	switch {
	case faults&FaultConflictingVote != 0:
		// Equivocation: a confirming ballot contradicted by a second signed
		// ballot over the same hash.
		return &Vote{
			Attestor: id,
			Ballots: []Ballot{
				p.signBallot(rec, hash, true),
				p.signBallot(rec, hash, false),
			},
		}, nil
	case faults&FaultInvalidSignature != 0:
		ballot := p.signBallot(rec, hash, false)
		ballot.Signature = make([]byte, crypto.Ed25519SignatureSize)
		return &Vote{Attestor: id, Ballots: []Ballot{ballot}}, nil
	default:
		rec.confirms.Inc()
		confirmationsMtc.WithLabelValues(id).Inc()
		return &Vote{Attestor: id, Ballots: []Ballot{p.signBallot(rec, hash, true)}}, nil
	}
}

func (p *Pool) signBallot(rec *record, hash types.Hash, confirmed bool) Ballot {
	return Ballot{
		Attestor:    rec.id,
		MessageHash: hash,
		Confirmed:   confirmed,
		PublicKey:   rec.signer.PublicKey(),
		Signature:   rec.signer.Sign(ballotDigest(hash, confirmed)),
	}
}

// jitter returns up to 10% of the base delay.
func (p *Pool) jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return time.Duration(p.rng.Int63n(int64(base)/10 + 1))
}
