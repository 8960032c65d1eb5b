package model

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// PairMeta identifies a trading pair by its two token addresses.
type PairMeta struct {
	ID     uint64 `json:"id"`
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
}
