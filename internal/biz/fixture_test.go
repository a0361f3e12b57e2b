package biz_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/data"
	"hashmatch/internal/pkg/index"
	"hashmatch/internal/pkg/signal"
	"hashmatch/internal/testutil"
)

var zeros = strings.Repeat("0", 64)

type fixture struct {
	clock       *testutil.StubClock
	bankRepo    biz.BankRepo
	indexRepo   biz.IndexRepo
	signalTypes *biz.SignalTypeUsecase
	policies    *biz.PolicyCache
	builder     *biz.IndexBuilder
	cache       *biz.IndexCache
	matcher     *biz.Matcher
	banks       *biz.BankUsecase
}

type fixtureOptions struct {
	mihMinEntries int
	ratios        map[string]float64
	wrapBank      func(biz.BankRepo) biz.BankRepo
	wrapIndex     func(biz.IndexRepo) biz.IndexRepo
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := testutil.Logger()
	f := &fixture{clock: testutil.FixedClock()}
	f.bankRepo = data.NewMemoryBankRepo(f.clock)
	if opts.wrapBank != nil {
		f.bankRepo = opts.wrapBank(f.bankRepo)
	}
	f.indexRepo = data.NewMemoryIndexRepo()
	if opts.wrapIndex != nil {
		f.indexRepo = opts.wrapIndex(f.indexRepo)
	}
	registry := signal.NewDefaultRegistry(signal.Options{MIHMinEntries: opts.mihMinEntries})
	f.signalTypes = biz.NewSignalTypeUsecase(registry, f.bankRepo, opts.ratios, f.clock, 30*time.Second, logger)
	f.policies = biz.NewPolicyCache(f.bankRepo, f.clock, 30*time.Second, logger)
	f.builder = biz.NewIndexBuilder(f.bankRepo, f.indexRepo, f.signalTypes, 2, logger)
	f.cache = biz.NewIndexCache(f.indexRepo, f.builder, f.clock, time.Minute, logger)
	f.matcher = biz.NewMatcher(f.signalTypes, f.cache, f.policies, f.bankRepo, f.clock, nil, logger)
	f.banks = biz.NewBankUsecase(f.bankRepo, f.signalTypes, f.policies, logger)
	return f
}

func (f *fixture) createBank(t *testing.T, name string, ratio float64) {
	t.Helper()
	if _, err := f.banks.CreateBank(context.Background(), &biz.Bank{Name: name, Enabled: true, MatchingEnabledRatio: ratio}); err != nil {
		t.Fatalf("CreateBank(%s): %v", name, err)
	}
}

func (f *fixture) addPDQ(t *testing.T, bank, value string) int64 {
	t.Helper()
	return f.add(t, bank, signal.PDQName, value)
}

func (f *fixture) add(t *testing.T, bank, signalType, value string) int64 {
	t.Helper()
	c, err := f.banks.AddContent(context.Background(), bank, &biz.BankContent{
		Signals: []*biz.ContentSignal{{SignalType: signalType, SignalValue: value}},
	})
	if err != nil {
		t.Fatalf("AddContent(%s, %s): %v", bank, value, err)
	}
	return c.ID
}

func (f *fixture) build(t *testing.T) []*biz.BuildResult {
	t.Helper()
	res, err := f.builder.BuildAll(context.Background())
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	return res
}

// gatedIndexRepo counts stores and loads. A non-nil gate holds the matching
// call until it is closed; entered is signalled by each held call.
type gatedIndexRepo struct {
	biz.IndexRepo
	stores    atomic.Int32
	loads     atomic.Int32
	storeGate chan struct{}
	loadGate  chan struct{}
	entered   chan struct{}
}

func newGatedIndexRepo(r biz.IndexRepo) *gatedIndexRepo {
	return &gatedIndexRepo{IndexRepo: r, entered: make(chan struct{}, 1)}
}

func (r *gatedIndexRepo) hold(gate chan struct{}) {
	if gate == nil {
		return
	}
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-gate
}

func (r *gatedIndexRepo) StoreSignalTypeIndex(ctx context.Context, signalType string, idx index.Index, cp biz.Checkpoint) error {
	r.stores.Add(1)
	r.hold(r.storeGate)
	return r.IndexRepo.StoreSignalTypeIndex(ctx, signalType, idx, cp)
}

func (r *gatedIndexRepo) LoadSignalTypeIndex(ctx context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	r.loads.Add(1)
	r.hold(r.loadGate)
	return r.IndexRepo.LoadSignalTypeIndex(ctx, signalType)
}
