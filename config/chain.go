package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/peer-mapper/trust-indexer/chain"
)

// Chain holds the rpc endpoint and the contracts followed and called.
type Chain struct {
	RPCURL            string            `yaml:"rpc_url" envconfig:"rpc_url"`
	EASAddress        string            `yaml:"eas_address" envconfig:"eas_address"`
	FeeGateAddress    string            `yaml:"fee_gate_address" envconfig:"fee_gate_address"`
	SchemaUID         string            `yaml:"schema_uid" envconfig:"schema_uid"`
	RelayerPrivateKey string            `yaml:"relayer_private_key" envconfig:"relayer_private_key"`
	Confirmations     uint64            `yaml:"confirmations" envconfig:"confirmations"`
	PollInterval      time.Duration     `yaml:"poll_interval" envconfig:"poll_interval"`
	StartBlock        uint64            `yaml:"start_block" envconfig:"start_block"`
	BlockRange        uint64            `yaml:"block_range" envconfig:"block_range"`
	Retry             chain.RetryPolicy `yaml:"retry" envconfig:"retry"`
}

// ValidateListener checks the settings the listener cannot run without.
func (c *Chain) ValidateListener() error {
	if !common.IsHexAddress(c.EASAddress) {
		return errors.Errorf("invalid eas address %q", c.EASAddress)
	}
	if !isHash(c.SchemaUID) {
		return errors.Errorf("invalid schema uid %q", c.SchemaUID)
	}
	if c.FeeGateAddress != "" && !common.IsHexAddress(c.FeeGateAddress) {
		return errors.Errorf("invalid fee gate address %q", c.FeeGateAddress)
	}

	return nil
}

// ValidateRelay checks the settings the relay cannot run without.
func (c *Chain) ValidateRelay() error {
	if !common.IsHexAddress(c.FeeGateAddress) {
		return errors.Errorf("invalid fee gate address %q", c.FeeGateAddress)
	}
	if c.RelayerPrivateKey == "" {
		return errors.New("missing relayer private key")
	}

	return nil
}

func isHash(s string) bool {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}

	return true
}
