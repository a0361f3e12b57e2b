package biz

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"hashmatch/internal/pkg/hash"
	"hashmatch/internal/pkg/index"
	"hashmatch/internal/pkg/signal"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// PublishFunc is called after an index has been stored.
type PublishFunc func(signalType string, idx index.Index, cp Checkpoint)

// BuildResult describes one build pass for one signal type.
type BuildResult struct {
	SignalType string
	// Built is false when the stored index was already up to date.
	Built      bool
	Kind       index.Kind
	Checkpoint Checkpoint
	Entries    int
	Elapsed    time.Duration
}

// IndexBuilder keeps the index store converged with the bank store.
type IndexBuilder struct {
	bankRepo    BankRepo
	indexRepo   IndexRepo
	signalTypes *SignalTypeUsecase
	batchSize   int
	log         *log.Helper

	group singleflight.Group

	mu        sync.Mutex
	corrupt   map[string]bool
	onPublish []PublishFunc
}

// NewIndexBuilder creates an IndexBuilder. batchSize is the page size used
// when reading signals.
func NewIndexBuilder(bankRepo BankRepo, indexRepo IndexRepo, signalTypes *SignalTypeUsecase, batchSize int, logger log.Logger) *IndexBuilder {
	return &IndexBuilder{
		bankRepo:    bankRepo,
		indexRepo:   indexRepo,
		signalTypes: signalTypes,
		batchSize:   batchSize,
		log:         log.NewHelper(log.With(logger, "module", "biz/builder")),
		corrupt:     make(map[string]bool),
	}
}

// OnPublish registers fn to run after every successful store.
func (b *IndexBuilder) OnPublish(fn PublishFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = append(b.onPublish, fn)
}

// MarkCorrupt forces the next build of signalType even if checkpoints agree.
func (b *IndexBuilder) MarkCorrupt(signalType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.corrupt[signalType] {
		b.log.Warnf("stored %s index is corrupt, scheduling rebuild", signalType)
	}
	b.corrupt[signalType] = true
}

func (b *IndexBuilder) isCorrupt(signalType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.corrupt[signalType]
}

// BuildAll runs one pass over every enabled signal type, in parallel.
// Results are sorted by signal type; the first error is returned after all
// types finish.
func (b *IndexBuilder) BuildAll(ctx context.Context) ([]*BuildResult, error) {
	enabled, err := b.signalTypes.GetEnabledSignalTypes(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu      sync.Mutex
		results []*BuildResult
		errs    []error
	)
	var g errgroup.Group
	for name := range enabled {
		g.Go(func() error {
			res, err := b.Build(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			} else {
				results = append(results, res)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].SignalType < results[j].SignalType })
	return results, errors.Join(errs...)
}

// Build brings the stored index for signalType up to date. Concurrent calls
// for the same type share one build.
func (b *IndexBuilder) Build(ctx context.Context, signalType string) (*BuildResult, error) {
	v, err, _ := b.group.Do(signalType, func() (any, error) {
		return b.build(ctx, signalType)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BuildResult), nil
}

func (b *IndexBuilder) build(ctx context.Context, signalType string) (*BuildResult, error) {
	st, ok := b.signalTypes.Registry().Get(signalType)
	if !ok {
		return nil, errorf(ErrInvalidSignal, "unknown signal type %q", signalType)
	}
	start := time.Now()

	target, err := b.bankRepo.GetCurrentIndexBuildTarget(ctx, signalType)
	if err != nil {
		return nil, ErrBuildFailure.WithCause(fmt.Errorf("read build target: %w", err))
	}
	if target == nil {
		target = &Checkpoint{}
	}
	current, err := b.indexRepo.GetLastIndexBuildCheckpoint(ctx, signalType)
	if err != nil {
		return nil, ErrBuildFailure.WithCause(fmt.Errorf("read last checkpoint: %w", err))
	}
	forced := b.isCorrupt(signalType)
	if current != nil && current.Covers(*target) && !forced {
		b.log.Debugf("%s index up to date at %s", signalType, current)
		return &BuildResult{SignalType: signalType, Checkpoint: *current, Entries: int(current.TotalHashCount)}, nil
	}
	b.log.Infof("building %s index: stored=%v target=%s forced=%v", signalType, current, target, forced)

	ib, err := signal.NewIndexBuilder(st, int(target.TotalHashCount))
	if err != nil {
		return nil, ErrBuildFailure.WithCause(err)
	}
	var cp Checkpoint
	for sig, err := range YieldContent(ctx, b.bankRepo, signalType, b.batchSize) {
		if err != nil {
			return nil, ErrBuildFailure.WithCause(err)
		}
		if err := ib.Add(sig.SignalValue, sig.ContentID); err != nil {
			if errors.Is(err, hash.ErrInvalidHash) {
				return nil, ErrInvalidHash.WithCause(err)
			}
			return nil, ErrBuildFailure.WithCause(err)
		}
		cp.advance(sig)
	}
	kind := ib.Kind()
	idx := ib.Build()
	if cp.IsEmpty() {
		b.log.Infof("no %s signals banked, publishing an empty index", signalType)
	}
	if current != nil && cp.LastItemTimestamp < current.LastItemTimestamp {
		cp.LastItemTimestamp = current.LastItemTimestamp
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrBuildFailure.WithCause(err)
	}
	if err := b.indexRepo.StoreSignalTypeIndex(ctx, signalType, idx, cp); err != nil {
		return nil, ErrBuildFailure.WithCause(fmt.Errorf("store index: %w", err))
	}

	b.mu.Lock()
	delete(b.corrupt, signalType)
	hooks := append([]PublishFunc(nil), b.onPublish...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(signalType, idx, cp)
	}

	// Hand the builder's scratch maps back to the OS.
	debug.FreeOSMemory()

	res := &BuildResult{
		SignalType: signalType,
		Built:      true,
		Kind:       kind,
		Checkpoint: cp,
		Entries:    idx.Len(),
		Elapsed:    time.Since(start),
	}
	b.log.Infof("built %s %s index: %d entries to %s in %s", signalType, kind, res.Entries, cp, res.Elapsed)
	return res, nil
}
