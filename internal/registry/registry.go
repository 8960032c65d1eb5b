// Package registry holds the in-memory token and pair dictionaries the
// harvester's mapping phase resolves relations against.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexscope/internal/chain"
	"dexscope/internal/model"
)

// TokenDictionary caches token metadata by lowercase address.
type TokenDictionary struct {
	mu   sync.RWMutex
	data map[string]model.TokenMeta
}

// NewTokenDictionary creates an empty dictionary.
func NewTokenDictionary() *TokenDictionary {
	return &TokenDictionary{data: make(map[string]model.TokenMeta)}
}

// Get returns the metadata for an address.
func (d *TokenDictionary) Get(address string) (model.TokenMeta, bool) {
	d.mu.RLock()
	meta, ok := d.data[strings.ToLower(address)]
	d.mu.RUnlock()
	return meta, ok
}

// Set stores metadata for an address.
func (d *TokenDictionary) Set(meta model.TokenMeta) {
	d.mu.Lock()
	d.data[strings.ToLower(meta.Address)] = meta
	d.mu.Unlock()
}

// PairDictionary caches pair metadata keyed by its two token addresses.
type PairDictionary struct {
	mu   sync.RWMutex
	data map[string]model.PairMeta
}

// NewPairDictionary creates an empty dictionary.
func NewPairDictionary() *PairDictionary {
	return &PairDictionary{data: make(map[string]model.PairMeta)}
}

func pairKey(token0, token1 string) string {
	a, b := strings.ToLower(token0), strings.ToLower(token1)
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Get returns the pair for two token addresses, in either order.
func (d *PairDictionary) Get(token0, token1 string) (model.PairMeta, bool) {
	d.mu.RLock()
	pair, ok := d.data[pairKey(token0, token1)]
	d.mu.RUnlock()
	return pair, ok
}

// Set stores a pair.
func (d *PairDictionary) Set(pair model.PairMeta) {
	d.mu.Lock()
	d.data[pairKey(pair.Token0, pair.Token1)] = pair
	d.mu.Unlock()
}

// Hydrator fills the token dictionary through the multicall reader.
// The gas pseudo-address never hits the chain; its metadata comes from
// the deployment configuration.
type Hydrator struct {
	reader   *chain.MulticallReader
	gasToken model.TokenMeta
	logger   *zap.Logger
}

// NewHydrator builds a hydrator.
func NewHydrator(reader *chain.MulticallReader, gasToken model.TokenMeta, logger *zap.Logger) *Hydrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hydrator{reader: reader, gasToken: gasToken, logger: logger}
}

// Hydrate fetches decimals/symbol/name for every address not yet in the
// dictionary. A token whose symbol cannot be read in either ERC20
// dialect keeps an empty symbol rather than failing the batch.
func (h *Hydrator) Hydrate(ctx context.Context, tokens *TokenDictionary, addresses []common.Address) error {
	missing := make([]common.Address, 0, len(addresses))
	for _, addr := range addresses {
		if addr == chain.GasAddress {
			tokens.Set(h.gasToken)
			continue
		}
		if _, ok := tokens.Get(addr.Hex()); !ok {
			missing = append(missing, addr)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	decimalResults, err := h.reader.ReadMany(ctx, missing, stringABI, "decimals")
	if err != nil {
		return fmt.Errorf("read decimals: %w", err)
	}

	symbolResults, err := h.reader.ReadMany(ctx, missing, stringABI, "symbol")
	if err != nil {
		h.logger.Warn("string symbol read failed, falling back to bytes32", zap.Error(err))
		symbolResults, err = h.reader.ReadMany(ctx, missing, bytes32ABI, "symbol")
		if err != nil {
			h.logger.Warn("bytes32 symbol read failed", zap.Error(err))
			symbolResults = make([][]interface{}, len(missing))
		}
	}

	nameResults, err := h.reader.ReadMany(ctx, missing, stringABI, "name")
	if err != nil {
		h.logger.Debug("name read failed", zap.Error(err))
		nameResults = make([][]interface{}, len(missing))
	}

	for i, addr := range missing {
		meta := model.TokenMeta{Address: strings.ToLower(addr.Hex())}

		if len(decimalResults[i]) == 0 {
			return fmt.Errorf("no decimals for token %s", addr.Hex())
		}
		decimals, err := asUint8(decimalResults[i][0])
		if err != nil {
			return fmt.Errorf("decimals for %s: %w", addr.Hex(), err)
		}
		meta.Decimals = decimals

		if len(symbolResults[i]) > 0 {
			meta.Symbol = asString(symbolResults[i][0])
		}
		if len(nameResults[i]) > 0 {
			meta.Name = asString(nameResults[i][0])
		}

		tokens.Set(meta)
	}
	return nil
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00"))
	case []byte:
		return string(bytes.TrimRight(v, "\x00"))
	default:
		return ""
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
