package model

// CodeState is the in-memory replay state for one referral code.
type CodeState struct {
	Code               string `json:"code"`
	Owner              string `json:"owner"`
	TierID             uint64 `json:"tier_id"`
	TotalRebate        uint64 `json:"total_rebate"`
	DiscountShare      uint64 `json:"discount_share"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
}

// TierDef is a tier definition: the rebate and discount-share
// percentages applied to trades referred through codes at that tier.
type TierDef struct {
	TierID        uint64 `json:"tier_id"`
	TotalRebate   uint64 `json:"total_rebate"`
	DiscountShare uint64 `json:"discount_share"`
}

// ReferrerTier assigns a tier to a referrer; codes resolve their tier
// through their owner.
type ReferrerTier struct {
	Referrer string `json:"referrer"`
	TierID   uint64 `json:"tier_id"`
}

// ReferralCheckpoint is the replay state persisted at each batch
// boundary so a later batch can rebuild in-memory state without
// re-reading the full event history.
type ReferralCheckpoint struct {
	LastProcessedBlock uint64         `json:"last_processed_block"`
	Codes              []CodeState    `json:"codes"`
	Tiers              []TierDef      `json:"tiers"`
	ReferrerTiers      []ReferrerTier `json:"referrer_tiers"`
}

// ReferralState is the persisted snapshot taken when a trader binds to a
// code. Uniquely keyed by (trader, chain id) at steady state; historical
// rows are tagged by LastProcessedBlock during replay.
type ReferralState struct {
	Trader             string `json:"trader"`
	ChainID            uint64 `json:"chain_id"`
	Code               string `json:"code"`
	Owner              string `json:"owner"`
	TierID             uint64 `json:"tier_id"`
	TotalRebate        uint64 `json:"total_rebate"`
	DiscountShare      uint64 `json:"discount_share"`
	BlockNumber        uint64 `json:"block_number"`
	Timestamp          uint64 `json:"timestamp"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
}
