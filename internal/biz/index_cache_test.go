package biz_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/hash"
	"hashmatch/internal/pkg/index"
	"hashmatch/internal/pkg/signal"
	"hashmatch/internal/testutil"
)

// flakyIndexRepo reports a newer checkpoint whose blob fails to decode
// while corrupt is set.
type flakyIndexRepo struct {
	biz.IndexRepo
	corrupt atomic.Bool
}

func (r *flakyIndexRepo) GetLastIndexBuildCheckpoint(ctx context.Context, signalType string) (*biz.Checkpoint, error) {
	if r.corrupt.Load() {
		return &biz.Checkpoint{LastItemTimestamp: 1 << 40, LastItemID: 1, TotalHashCount: 99}, nil
	}
	return r.IndexRepo.GetLastIndexBuildCheckpoint(ctx, signalType)
}

func (r *flakyIndexRepo) LoadSignalTypeIndex(ctx context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	if r.corrupt.Load() {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", index.ErrCorruptIndex)
	}
	return r.IndexRepo.LoadSignalTypeIndex(ctx, signalType)
}

func TestIndexCache_NoIndexYet(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	snap, err := f.cache.Get(context.Background(), signal.PDQName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Index != nil {
		t.Fatal("snapshot should be empty before the first build")
	}
	if st := f.cache.Status(signal.PDQName); st.Present || st.CheckedAt.IsZero() {
		t.Fatalf("status = %+v", st)
	}
}

func TestIndexCache_LoadsFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	// A second process that only reads the index store.
	reader := biz.NewIndexCache(f.indexRepo, nil, f.clock, time.Minute, testutil.Logger())
	snap, err := reader.Get(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Index == nil || snap.Index.Len() != 1 {
		t.Fatalf("reader loaded %+v", snap)
	}

	f.clock.Advance(time.Second)
	f.addPDQ(t, "BANK_A", testutil.HashAt(testutil.Rand(5), hash.Hash256{}, 30))
	f.build(t)
	if err := reader.Refresh(ctx, signal.PDQName); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := reader.Status(signal.PDQName).Size; got != 2 {
		t.Fatalf("size after refresh = %d, want 2", got)
	}
	if snap.Index.Len() != 1 {
		t.Fatal("old snapshot changed under its holder")
	}
}

func TestIndexCache_CorruptKeepsServing(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyIndexRepo
	f := newFixture(t, fixtureOptions{wrapIndex: func(r biz.IndexRepo) biz.IndexRepo {
		flaky = &flakyIndexRepo{IndexRepo: r}
		return flaky
	}})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)
	f.build(t)
	before := f.cache.Status(signal.PDQName)

	flaky.corrupt.Store(true)
	err := f.cache.Refresh(ctx, signal.PDQName)
	if !errors.Is(err, biz.ErrCorruptIndex) {
		t.Fatalf("Refresh error = %v, want ErrCorruptIndex", err)
	}
	after := f.cache.Status(signal.PDQName)
	if !after.Present || after.BuiltTo != before.BuiltTo {
		t.Fatalf("status after corrupt load = %+v, want %+v", after, before)
	}
	got, err := f.matcher.Lookup(ctx, signal.PDQName, zeros)
	if err != nil || len(got) != 1 {
		t.Fatalf("Lookup during corruption = %v, %v", got, err)
	}

	flaky.corrupt.Store(false)
	res, err := f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Built {
		t.Fatal("corrupt load should force a rebuild")
	}
}

func TestIndexCache_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	id := f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	inflight, err := f.cache.Get(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := f.banks.RemoveContent(ctx, id); err != nil {
		t.Fatalf("RemoveContent: %v", err)
	}
	f.build(t)

	matches, err := inflight.Index.Query(zeros, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].ContentID != id {
		t.Fatalf("in-flight snapshot returned %v, want content %d", matches, id)
	}

	raw, err := f.matcher.RawLookup(ctx, signal.PDQName, zeros, 0)
	if err != nil {
		t.Fatalf("RawLookup: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("lookup after publish returned %v, want none", raw)
	}
}

func TestIndexCache_StaleGetServesOldSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	f.clock.Advance(time.Hour)
	snap, err := f.cache.Get(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Index == nil || snap.Index.Len() != 1 {
		t.Fatal("stale read should return the current snapshot immediately")
	}
}

func TestIndexCache_ConcurrentColdGetsLoadOnce(t *testing.T) {
	ctx := context.Background()
	var repo *gatedIndexRepo
	f := newFixture(t, fixtureOptions{wrapIndex: func(r biz.IndexRepo) biz.IndexRepo {
		repo = newGatedIndexRepo(r)
		return repo
	}})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	reader := biz.NewIndexCache(repo, nil, f.clock, time.Minute, testutil.Logger())
	repo.loadGate = make(chan struct{})

	const callers = 8
	var (
		wg    sync.WaitGroup
		snaps [callers]*biz.IndexSnapshot
		errs  [callers]error
	)
	get := func(i int) {
		defer wg.Done()
		snaps[i], errs[i] = reader.Get(ctx, signal.PDQName)
	}
	wg.Add(callers)
	go get(0)
	<-repo.entered
	for i := 1; i < callers; i++ {
		go get(i)
	}
	close(repo.loadGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		if snaps[i] != snaps[0] {
			t.Fatalf("Get %d returned a different snapshot", i)
		}
	}
	if n := repo.loads.Load(); n != 1 {
		t.Fatalf("%d cold reads loaded %d times, want 1", callers, n)
	}
	if snaps[0].Index == nil || snaps[0].Index.Len() != 1 {
		t.Fatalf("snapshot = %+v", snaps[0])
	}
}

// Lookups keep running while the builder publishes and the cache installs
// new snapshots. Each reader sees whole snapshots that only grow.
func TestIndexCache_QueriesDuringPublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	first := f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	const (
		readers   = 4
		publishes = 20
	)
	var (
		wg   sync.WaitGroup
		stop atomic.Bool
	)
	defer func() {
		stop.Store(true)
		wg.Wait()
	}()
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen := 0
			for !stop.Load() {
				raw, err := f.matcher.RawLookup(ctx, signal.PDQName, zeros, hash.Bits)
				if err != nil {
					t.Errorf("RawLookup: %v", err)
					return
				}
				if len(raw) == 0 || raw[0].ContentID != first {
					t.Errorf("RawLookup = %+v, want content %d first", raw, first)
					return
				}
				if len(raw) < seen {
					t.Errorf("snapshot shrank from %d to %d entries", seen, len(raw))
					return
				}
				seen = len(raw)
				banks, err := f.matcher.Lookup(ctx, signal.PDQName, zeros)
				if err != nil || len(banks) != 1 {
					t.Errorf("Lookup = %v, %v", banks, err)
					return
				}
			}
		}()
	}

	rng := testutil.Rand(32)
	for i := 1; i <= publishes; i++ {
		f.clock.Advance(time.Second)
		f.addPDQ(t, "BANK_A", testutil.HashAt(rng, hash.Hash256{}, i))
		if _, err := f.builder.Build(ctx, signal.PDQName); err != nil {
			t.Fatalf("Build %d: %v", i, err)
		}
	}

	if st := f.cache.Status(signal.PDQName); st.Size != publishes+1 {
		t.Fatalf("cache holds %d entries after publishing, want %d", st.Size, publishes+1)
	}
}
