package config

import (
	"fmt"
	"time"
)

// Deployment describes one (blockchain, exchange) indexing target.
type Deployment struct {
	BlockchainType  string             `mapstructure:"blockchain-type"`
	ExchangeID      string             `mapstructure:"exchange-id"`
	ChainID         uint64             `mapstructure:"chain-id"`
	RPCURL          string             `mapstructure:"rpc"`
	StartBlock      uint64             `mapstructure:"start-block"`
	BatchSize       uint64             `mapstructure:"batch-size"`
	Concurrency     int                `mapstructure:"concurrency"`
	HarvestInterval time.Duration      `mapstructure:"harvest-interval"`
	LockTTL         time.Duration      `mapstructure:"lock-ttl"`
	Multicall       MulticallConfig    `mapstructure:"multicall"`
	GasToken        GasTokenConfig     `mapstructure:"gas-token"`
	Contracts       map[string][]ContractVersionConfig `mapstructure:"contracts"`
	Tokens          []string           `mapstructure:"tokens"`
	Pairs           []PairConfig       `mapstructure:"pairs"`
}

// PairConfig declares one trading pair of the exchange.
type PairConfig struct {
	ID     uint64 `mapstructure:"id"`
	Token0 string `mapstructure:"token0"`
	Token1 string `mapstructure:"token1"`
}

// MulticallConfig selects the deployment's multicall contract and dialect.
type MulticallConfig struct {
	Address   string `mapstructure:"address"`
	Dialect   string `mapstructure:"dialect"`
	ChunkSize int    `mapstructure:"chunk-size"`
}

// GasTokenConfig supplies metadata for the chain's native-token
// pseudo-address, which has no contract to read from.
type GasTokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Decimals uint8  `mapstructure:"decimals"`
}

// ContractVersionConfig is one time-boxed ABI version of a named contract.
// TerminatesAt == 0 marks the open-ended current version.
type ContractVersionConfig struct {
	Address      string `mapstructure:"address"`
	ABIPath      string `mapstructure:"abi-path"`
	TerminatesAt uint64 `mapstructure:"terminates-at"`
}

// Key identifies the deployment in cursors, locks, and logs.
func (d Deployment) Key() string {
	return fmt.Sprintf("%s-%s", d.BlockchainType, d.ExchangeID)
}

// Validate checks the fields every deployment must carry.
func (d Deployment) Validate() error {
	if d.BlockchainType == "" {
		return fmt.Errorf("blockchain-type is required")
	}
	if d.ExchangeID == "" {
		return fmt.Errorf("exchange-id is required")
	}
	if d.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	return nil
}

func (d *Deployment) applyDefaults() {
	if d.BatchSize == 0 {
		d.BatchSize = 2000
	}
	if d.Concurrency == 0 {
		d.Concurrency = 10
	}
	if d.HarvestInterval == 0 {
		d.HarvestInterval = time.Minute
	}
	if d.LockTTL == 0 {
		d.LockTTL = 2 * time.Minute
	}
}
