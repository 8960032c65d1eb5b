package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexscope/internal/chain"
	"dexscope/internal/config"
	"dexscope/internal/harvester"
	"dexscope/internal/model"
	"dexscope/internal/referral"
	"dexscope/internal/registry"
	"dexscope/internal/storage/postgres"
	"dexscope/internal/streams"
)

// deploymentApp wires one deployment's chain client, stream specs, and
// replayer against the shared store.
type deploymentApp struct {
	dep    config.Deployment
	client *chain.Client
	store  *postgres.Store
	logger *zap.Logger

	harvester *harvester.Harvester
	specs     []harvester.StreamSpec
	replayer  *referral.Replayer
	kinds     map[referral.Kind]string
}

func newDeploymentApp(ctx context.Context, cfg config.Config, dep config.Deployment, store *postgres.Store, logger *zap.Logger) (*deploymentApp, error) {
	if err := dep.Validate(); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", dep.Key(), err)
	}

	log := logger.With(
		zap.String("blockchain_type", dep.BlockchainType),
		zap.String("exchange_id", dep.ExchangeID),
	)

	client, err := chain.NewClient(ctx, dep.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc for %s: %w", dep.Key(), err)
	}

	app := &deploymentApp{
		dep:       dep,
		client:    client,
		store:     store,
		logger:    log,
		harvester: harvester.New(client, store, store, log).
			WithRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff),
	}

	referralSpecs, kinds, err := streams.Referral(dep)
	if err != nil {
		client.Close()
		return nil, err
	}
	app.specs = referralSpecs
	app.kinds = kinds

	tokens, pairs, err := app.buildRegistries(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	strategySpecs, err := streams.Strategy(dep, tokens, pairs)
	if err != nil {
		client.Close()
		return nil, err
	}
	app.specs = append(app.specs, strategySpecs...)

	source := referral.NewStreamSource(store, kinds)
	app.replayer = referral.NewReplayer(source, store, store, dep.ChainID, "replay-"+dep.Key(), log)

	return app, nil
}

// buildRegistries hydrates the token dictionary for the configured token
// list and loads the configured pairs.
func (a *deploymentApp) buildRegistries(ctx context.Context) (*registry.TokenDictionary, *registry.PairDictionary, error) {
	tokens := registry.NewTokenDictionary()
	pairs := registry.NewPairDictionary()

	for _, pair := range a.dep.Pairs {
		pairs.Set(model.PairMeta{ID: pair.ID, Token0: pair.Token0, Token1: pair.Token1})
	}

	if len(a.dep.Tokens) == 0 {
		return tokens, pairs, nil
	}
	if a.dep.Multicall.Address == "" {
		return nil, nil, fmt.Errorf("deployment %s: tokens configured but no multicall contract", a.dep.Key())
	}

	reader := chain.NewMulticallReader(
		a.client,
		common.HexToAddress(a.dep.Multicall.Address),
		chain.Dialect(a.dep.Multicall.Dialect),
		a.dep.Multicall.ChunkSize,
		a.logger,
	)
	gasToken := model.TokenMeta{
		Address:  a.dep.GasToken.Address,
		Symbol:   a.dep.GasToken.Symbol,
		Name:     a.dep.GasToken.Name,
		Decimals: a.dep.GasToken.Decimals,
	}
	hydrator := registry.NewHydrator(reader, gasToken, a.logger)

	addresses := make([]common.Address, 0, len(a.dep.Tokens))
	for _, addr := range a.dep.Tokens {
		addresses = append(addresses, common.HexToAddress(addr))
	}
	if err := hydrator.Hydrate(ctx, tokens, addresses); err != nil {
		return nil, nil, fmt.Errorf("hydrate tokens for %s: %w", a.dep.Key(), err)
	}
	return tokens, pairs, nil
}

// harvestOnce runs every stream of the deployment up to the current head.
func (a *deploymentApp) harvestOnce(ctx context.Context) error {
	head, err := a.harvester.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	for _, spec := range a.specs {
		spec.EndBlock = head
		rows, err := a.harvester.ProcessStream(ctx, spec)
		if err != nil {
			return fmt.Errorf("stream %s: %w", spec.Key, err)
		}
		a.logger.Info("stream harvested",
			zap.String("stream", spec.Key),
			zap.Uint64("head", head),
			zap.Int("rows", len(rows)),
		)
	}
	return nil
}

// replayOnce advances the referral replay up to the lowest harvested
// referral stream cursor, in bounded batches.
func (a *deploymentApp) replayOnce(ctx context.Context) error {
	target, ok, err := a.replayTarget(ctx)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Debug("referral streams not harvested yet, skipping replay")
		return nil
	}

	from := a.dep.StartBlock
	cursor, found, err := a.store.Get(ctx, "replay-"+a.dep.Key())
	if err != nil {
		return fmt.Errorf("replay cursor: %w", err)
	}
	if found {
		from = cursor + 1
	}

	for from <= target {
		to := from + referral.DefaultBatchSize - 1
		if to > target {
			to = target
		}
		if err := a.replayer.Replay(ctx, from, to); err != nil {
			return fmt.Errorf("replay [%d, %d]: %w", from, to, err)
		}
		from = to + 1
	}
	return nil
}

// replayTarget is the lowest cursor across the four referral streams.
// Replaying past it would observe partially harvested history.
func (a *deploymentApp) replayTarget(ctx context.Context) (uint64, bool, error) {
	var target uint64
	first := true
	for _, streamKey := range a.kinds {
		cursor, ok, err := a.store.Get(ctx, streamKey)
		if err != nil {
			return 0, false, fmt.Errorf("cursor %s: %w", streamKey, err)
		}
		if !ok {
			return 0, false, nil
		}
		if first || cursor < target {
			target = cursor
			first = false
		}
	}
	return target, !first, nil
}

func (a *deploymentApp) Close() {
	if a.client != nil {
		a.client.Close()
	}
}
