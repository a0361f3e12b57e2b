package service

import (
	"context"
	"maps"
	"slices"

	"hashmatch/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewAdminService)

// AdminService exposes operator actions: index rebuilds, cache refreshes,
// status, bank curation and unconditional lookups.
type AdminService struct {
	signalTypes *biz.SignalTypeUsecase
	builder     *biz.IndexBuilder
	indices     *biz.IndexCache
	matcher     *biz.Matcher
	banks       *biz.BankUsecase
	log         *log.Helper
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	signalTypes *biz.SignalTypeUsecase,
	builder *biz.IndexBuilder,
	indices *biz.IndexCache,
	matcher *biz.Matcher,
	banks *biz.BankUsecase,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		signalTypes: signalTypes,
		builder:     builder,
		indices:     indices,
		matcher:     matcher,
		banks:       banks,
		log:         log.NewHelper(log.With(logger, "module", "service/admin")),
	}
}

// RebuildIndexes runs one build pass for signalType, or for every enabled
// type when signalType is empty.
func (s *AdminService) RebuildIndexes(ctx context.Context, signalType string) ([]*biz.BuildResult, error) {
	if signalType == "" {
		return s.builder.BuildAll(ctx)
	}
	if _, err := s.signalTypes.Lookup(ctx, signalType); err != nil {
		return nil, err
	}
	res, err := s.builder.Build(ctx, signalType)
	if err != nil {
		return nil, err
	}
	return []*biz.BuildResult{res}, nil
}

// RefreshIndexes asks the index cache to pick up indices published by
// other processes.
func (s *AdminService) RefreshIndexes(ctx context.Context) error {
	enabled, err := s.signalTypes.GetEnabledSignalTypes(ctx)
	if err != nil {
		return err
	}
	return s.indices.RefreshAll(ctx, slices.Sorted(maps.Keys(enabled)))
}

// IndexStatus reports the loaded index of every enabled signal type.
func (s *AdminService) IndexStatus(ctx context.Context) (map[string]biz.IndexStatus, error) {
	return s.matcher.IndexStatus(ctx)
}

// CreateBank creates an enabled bank.
func (s *AdminService) CreateBank(ctx context.Context, name string, ratio float64) (*biz.Bank, error) {
	return s.banks.CreateBank(ctx, &biz.Bank{Name: name, Enabled: true, MatchingEnabledRatio: ratio})
}

// ListBanks lists all banks.
func (s *AdminService) ListBanks(ctx context.Context) ([]*biz.Bank, error) {
	return s.banks.ListBanks(ctx)
}

// AddContent banks one item carrying the given signals, keyed by type.
func (s *AdminService) AddContent(ctx context.Context, bank, mediaURI string, signals map[string]string) (*biz.BankContent, error) {
	c := &biz.BankContent{OriginalMediaURI: mediaURI}
	for _, st := range slices.Sorted(maps.Keys(signals)) {
		c.Signals = append(c.Signals, &biz.ContentSignal{SignalType: st, SignalValue: signals[st]})
	}
	added, err := s.banks.AddContent(ctx, bank, c)
	if err != nil {
		return nil, err
	}
	s.log.Infof("banked content %d in %s with %d signals", added.ID, bank, len(added.Signals))
	return added, nil
}

// Lookup previews matches with every probabilistic gate bypassed.
func (s *AdminService) Lookup(ctx context.Context, signalType, value string) (map[string][]biz.BankMatch, error) {
	return s.matcher.LookupDetailed(ctx, signalType, value, biz.WithBypassCoinflip())
}

// LookupRaw lists index entries within threshold of value with the stored
// signal of each, ignoring bank policy.
func (s *AdminService) LookupRaw(ctx context.Context, signalType, value string, threshold int) ([]biz.RawMatch, error) {
	return s.matcher.RawLookup(ctx, signalType, value, threshold)
}

// LookupTopK lists the k index entries closest to value.
func (s *AdminService) LookupTopK(ctx context.Context, signalType, value string, k int) ([]biz.RawMatch, error) {
	return s.matcher.LookupTopK(ctx, signalType, value, k)
}

// Compare measures two values of one signal type.
func (s *AdminService) Compare(ctx context.Context, signalType, a, b string) (*biz.Comparison, error) {
	return s.matcher.Compare(ctx, signalType, a, b)
}
