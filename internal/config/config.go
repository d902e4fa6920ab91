// Package config defines the YAML configuration the simulator is built from.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/chainspan/go-chainspan/pkg/types"
)

// ChainConfig describes one chain of the simulated topology.
type ChainConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Endpoint     uint32 `yaml:"endpoint"`
	Domain       uint32 `yaml:"domain"`
	LiquidityHub string `yaml:"liquidityHub"`
	// LiquidityBuffer bounds liquidity-gated delivery to this chain.
	LiquidityBuffer uint64 `yaml:"liquidityBuffer"`
	// TrustedSender is the hex address allowed to originate domain-mapped
	// transfers from this chain's domain.
	TrustedSender string `yaml:"trustedSender"`
	// InitialSupply is minted to GenesisAccount at construction.
	InitialSupply  uint64 `yaml:"initialSupply"`
	GenesisAccount string `yaml:"genesisAccount"`
	// BaseLatencyMs is scaled by the congestion level into a delivery delay.
	BaseLatencyMs int64 `yaml:"baseLatencyMs"`
	// RequiredConfirmations overrides the default quorum threshold for this
	// chain as a destination; zero keeps the default.
	RequiredConfirmations int `yaml:"requiredConfirmations"`
}

// BaseLatency returns the chain's base delivery latency.
func (c ChainConfig) BaseLatency() time.Duration {
	return time.Duration(c.BaseLatencyMs) * time.Millisecond
}

// TrustedSenderAddress parses the configured trusted sender.
func (c ChainConfig) TrustedSenderAddress() (types.Address, error) {
	return types.AddressFromString(c.TrustedSender)
}

// GenesisAccountAddress parses the configured genesis account.
func (c ChainConfig) GenesisAccountAddress() (types.Address, error) {
	return types.AddressFromString(c.GenesisAccount)
}

// AttestorConfig describes one attestor of the verification pool.
type AttestorConfig struct {
	ID string `yaml:"id"`
	// Faults lists fault modes active from construction; normally empty and
	// toggled from tests instead.
	Faults []string `yaml:"faults"`
	// DelayMs applies when the delayed fault is active.
	DelayMs int64 `yaml:"delayMs"`
}

// Delay returns the attestor's configured suspension.
func (a AttestorConfig) Delay() time.Duration {
	return time.Duration(a.DelayMs) * time.Millisecond
}

// RPCConfig configures the inspection HTTP server.
type RPCConfig struct {
	ListenAddr     string `yaml:"listenAddr"`
	ReadTimeoutMs  int64  `yaml:"readTimeoutMs"`
	WriteTimeoutMs int64  `yaml:"writeTimeoutMs"`
}

// Config is the root simulator configuration.
type Config struct {
	Chains    []ChainConfig    `yaml:"chains"`
	Attestors []AttestorConfig `yaml:"attestors"`
	// DefaultConfirmations is the quorum threshold for chains without an
	// explicit override.
	DefaultConfirmations int `yaml:"defaultConfirmations"`
	// BaseGasPrice seeds the fake token contract's gas price.
	BaseGasPrice uint64 `yaml:"baseGasPrice"`
	// Seed makes attestor identities and delay jitter reproducible; zero
	// seeds from the current time.
	Seed int64     `yaml:"seed"`
	RPC  RPCConfig `yaml:"rpc"`
}

// Default returns the two-chain, three-attestor topology used throughout the
// tests: chain A carries the full initial supply, chain B starts empty, and
// the quorum threshold is two.
func Default() *Config {
	return &Config{
		Chains: []ChainConfig{
			{
				ID:              "chain-a",
				Name:            "Chain A",
				Endpoint:        101,
				Domain:          1,
				LiquidityHub:    "hub-a",
				LiquidityBuffer: 100_000,
				TrustedSender:   "0000000000000000000000000000000000000a11",
				InitialSupply:   1_000_000,
				GenesisAccount:  "0000000000000000000000000000000000000a11",
				BaseLatencyMs:   10,
			},
			{
				ID:              "chain-b",
				Name:            "Chain B",
				Endpoint:        102,
				Domain:          2,
				LiquidityHub:    "hub-b",
				LiquidityBuffer: 100_000,
				TrustedSender:   "0000000000000000000000000000000000000b22",
				GenesisAccount:  "0000000000000000000000000000000000000b22",
				BaseLatencyMs:   10,
			},
		},
		Attestors: []AttestorConfig{
			{ID: "att-1", DelayMs: 50},
			{ID: "att-2", DelayMs: 50},
			{ID: "att-3", DelayMs: 50},
		},
		DefaultConfirmations: 2,
		BaseGasPrice:         1,
		Seed:                 42,
		RPC: RPCConfig{
			ListenAddr:     ":8571",
			ReadTimeoutMs:  5000,
			WriteTimeoutMs: 5000,
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects topologies the simulator cannot be built from.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: at least one chain required")
	}
	if len(c.Attestors) == 0 {
		return errors.New("config: at least one attestor required")
	}

	chainIDs := make(map[string]struct{}, len(c.Chains))
	domains := make(map[uint32]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ID == "" {
			return errors.New("config: chain id must not be empty")
		}
		if _, dup := chainIDs[chain.ID]; dup {
			return errors.Errorf("config: duplicate chain id %s", chain.ID)
		}
		chainIDs[chain.ID] = struct{}{}
		if _, dup := domains[chain.Domain]; dup {
			return errors.Errorf("config: duplicate domain %d", chain.Domain)
		}
		domains[chain.Domain] = struct{}{}
		if chain.TrustedSender != "" {
			if _, err := chain.TrustedSenderAddress(); err != nil {
				return errors.Wrapf(err, "config: chain %s trusted sender", chain.ID)
			}
		}
		if chain.InitialSupply > 0 {
			if _, err := chain.GenesisAccountAddress(); err != nil {
				return errors.Wrapf(err, "config: chain %s genesis account", chain.ID)
			}
		}
		if chain.RequiredConfirmations < 0 || chain.RequiredConfirmations > len(c.Attestors) {
			return errors.Errorf("config: chain %s requires %d confirmations with %d attestors",
				chain.ID, chain.RequiredConfirmations, len(c.Attestors))
		}
	}

	attestorIDs := make(map[string]struct{}, len(c.Attestors))
	for _, att := range c.Attestors {
		if att.ID == "" {
			return errors.New("config: attestor id must not be empty")
		}
		if _, dup := attestorIDs[att.ID]; dup {
			return errors.Errorf("config: duplicate attestor id %s", att.ID)
		}
		attestorIDs[att.ID] = struct{}{}
		for _, fault := range att.Faults {
			if !validFault(fault) {
				return errors.Errorf("config: attestor %s has unknown fault %q", att.ID, fault)
			}
		}
	}

	if c.DefaultConfirmations < 0 || c.DefaultConfirmations > len(c.Attestors) {
		return errors.Errorf("config: default of %d confirmations with %d attestors",
			c.DefaultConfirmations, len(c.Attestors))
	}
	return nil
}

func validFault(s string) bool {
	switch s {
	case "invalid-signature", "conflicting-vote", "delayed":
		return true
	default:
		return false
	}
}
