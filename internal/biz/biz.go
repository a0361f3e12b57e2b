package biz

import (
	"hashmatch/internal/conf"
	"hashmatch/internal/pkg/signal"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewClock,
	NewRegistry,
	ProvideSignalTypeUsecase,
	ProvidePolicyCache,
	ProvideIndexBuilder,
	ProvideIndexCache,
	ProvideMatcher,
	NewBankUsecase,
)

// NewRegistry builds the signal type registry from configuration.
func NewRegistry(bc *conf.Bootstrap) *signal.Registry {
	return signal.NewDefaultRegistry(signal.Options{
		Thresholds:    bc.Thresholds(),
		MIHMinEntries: bc.GetIndex().GetMihMinEntries(),
	})
}

func ProvideSignalTypeUsecase(registry *signal.Registry, repo BankRepo, bc *conf.Bootstrap, clock Clock, logger log.Logger) *SignalTypeUsecase {
	return NewSignalTypeUsecase(registry, repo, bc.EnabledRatios(), clock, bc.GetMatch().GetPolicyCacheTtl(), logger)
}

func ProvidePolicyCache(repo BankRepo, bc *conf.Bootstrap, clock Clock, logger log.Logger) *PolicyCache {
	return NewPolicyCache(repo, clock, bc.GetMatch().GetPolicyCacheTtl(), logger)
}

func ProvideIndexBuilder(bankRepo BankRepo, indexRepo IndexRepo, signalTypes *SignalTypeUsecase, bc *conf.Bootstrap, logger log.Logger) *IndexBuilder {
	return NewIndexBuilder(bankRepo, indexRepo, signalTypes, bc.GetIndex().GetBuildBatchSize(), logger)
}

func ProvideIndexCache(repo IndexRepo, builder *IndexBuilder, bc *conf.Bootstrap, clock Clock, logger log.Logger) *IndexCache {
	return NewIndexCache(repo, builder, clock, bc.GetIndex().GetStaleAfter(), logger)
}

func ProvideMatcher(signalTypes *SignalTypeUsecase, indices *IndexCache, policies *PolicyCache, bankRepo BankRepo, bc *conf.Bootstrap, clock Clock, logger log.Logger) *Matcher {
	var seed *uint64
	if s, ok := bc.GetMatch().GetCoinflipSeed(); ok {
		seed = &s
	}
	return NewMatcher(signalTypes, indices, policies, bankRepo, clock, seed, logger)
}
