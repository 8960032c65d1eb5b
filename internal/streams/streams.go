// Package streams builds the concrete event stream specs a deployment
// harvests: the referral log and the strategy/trade log. Contract
// addresses and ABI files come from deployment configuration; field
// mappings and transforms are fixed per event.
package streams

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dexscope/internal/config"
	"dexscope/internal/harvester"
	"dexscope/internal/referral"
)

// Contract names expected in deployment configuration.
const (
	ContractReferralStorage = "referral-storage"
	ContractController      = "controller"
)

func streamKey(dep config.Deployment, name string) string {
	return fmt.Sprintf("%s-%s", dep.Key(), name)
}

func loadVersions(dep config.Deployment, contractName string) ([]harvester.ContractVersion, error) {
	configs, ok := dep.Contracts[contractName]
	if !ok || len(configs) == 0 {
		return nil, fmt.Errorf("deployment %s has no %q contract", dep.Key(), contractName)
	}

	versions := make([]harvester.ContractVersion, 0, len(configs))
	for _, vc := range configs {
		raw, err := os.ReadFile(vc.ABIPath)
		if err != nil {
			return nil, fmt.Errorf("read abi %s: %w", vc.ABIPath, err)
		}
		parsed, err := abi.JSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse abi %s: %w", vc.ABIPath, err)
		}
		versions = append(versions, harvester.ContractVersion{
			Address:      common.HexToAddress(vc.Address),
			ABI:          parsed,
			TerminatesAt: vc.TerminatesAt,
		})
	}
	return versions, nil
}

func baseSpec(dep config.Deployment, name, eventName string, versions []harvester.ContractVersion) harvester.StreamSpec {
	return harvester.StreamSpec{
		Key:            streamKey(dep, name),
		BlockchainType: dep.BlockchainType,
		ExchangeID:     dep.ExchangeID,
		EventName:      eventName,
		Versions:       versions,
		StartBlock:     dep.StartBlock,
		BatchSize:      dep.BatchSize,
		Concurrency:    dep.Concurrency,
	}
}

// Referral builds the four referral stream specs and the kind → stream
// key mapping the replayer's source reads them back through.
func Referral(dep config.Deployment) ([]harvester.StreamSpec, map[referral.Kind]string, error) {
	versions, err := loadVersions(dep, ContractReferralStorage)
	if err != nil {
		return nil, nil, err
	}

	register := baseSpec(dep, referral.KindRegisterCode.String(), "RegisterCode", versions)
	register.Mappings = []harvester.FieldMapping{
		{Kind: harvester.FieldString, From: "code", To: "code"},
		{Kind: harvester.FieldString, From: "account", To: "owner"},
	}

	// Trader bindings carry the block timestamp into the snapshot rows.
	setTrader := baseSpec(dep, referral.KindSetTraderCode.String(), "SetTraderReferralCode", versions)
	setTrader.WithTimestamp = true
	setTrader.Mappings = []harvester.FieldMapping{
		{Kind: harvester.FieldString, From: "code", To: "code"},
		{Kind: harvester.FieldString, From: "account", To: "trader"},
	}

	setReferrerTier := baseSpec(dep, referral.KindSetReferrerTier.String(), "SetReferrerTier", versions)
	setReferrerTier.Mappings = []harvester.FieldMapping{
		{Kind: harvester.FieldString, From: "referrer", To: "referrer"},
		{Kind: harvester.FieldNumber, From: "tierId", To: "tier_id"},
	}

	setTier := baseSpec(dep, referral.KindSetTier.String(), "SetTier", versions)
	setTier.Mappings = []harvester.FieldMapping{
		{Kind: harvester.FieldNumber, From: "tierId", To: "tier_id"},
		{Kind: harvester.FieldNumber, From: "totalRebate", To: "total_rebate"},
		{Kind: harvester.FieldNumber, From: "discountShare", To: "discount_share"},
	}

	kinds := map[referral.Kind]string{
		referral.KindRegisterCode:    register.Key,
		referral.KindSetTraderCode:   setTrader.Key,
		referral.KindSetReferrerTier: setReferrerTier.Key,
		referral.KindSetTier:         setTier.Key,
	}
	return []harvester.StreamSpec{register, setTrader, setReferrerTier, setTier}, kinds, nil
}
