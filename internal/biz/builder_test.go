package biz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/hash"
	"hashmatch/internal/pkg/index"
	"hashmatch/internal/pkg/signal"
	"hashmatch/internal/testutil"
)

func TestIndexBuilder_SkipsWhenUpToDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)

	res, err := f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Built || res.Entries != 1 || res.Kind != index.KindFlat {
		t.Fatalf("first build = %+v", res)
	}

	res, err = f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Built {
		t.Fatal("second build should be skipped")
	}

	f.clock.Advance(time.Second)
	f.addPDQ(t, "BANK_A", testutil.HashAt(testutil.Rand(1), hash.Hash256{}, 40))
	res, err = f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Built || res.Entries != 2 || res.Checkpoint.TotalHashCount != 2 {
		t.Fatalf("build after add = %+v", res)
	}
}

func TestIndexBuilder_CheckpointNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	rng := testutil.Rand(2)

	first := f.addPDQ(t, "BANK_A", zeros)
	f.clock.Advance(10 * time.Second)
	last := f.addPDQ(t, "BANK_A", testutil.HashAt(rng, hash.Hash256{}, 50))

	res, err := f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	published := res.Checkpoint.LastItemTimestamp
	if res.Checkpoint.LastItemID != last {
		t.Fatalf("checkpoint %s does not end on content %d", res.Checkpoint, last)
	}

	if err := f.banks.RemoveContent(ctx, last); err != nil {
		t.Fatalf("RemoveContent: %v", err)
	}
	res, err = f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Built {
		t.Fatal("tail deletion should trigger a build")
	}
	want := biz.Checkpoint{LastItemTimestamp: published, LastItemID: first, TotalHashCount: 1}
	if res.Checkpoint != want {
		t.Fatalf("checkpoint = %s, want %s", res.Checkpoint, want)
	}

	res, err = f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Built {
		t.Fatal("clamped checkpoint should cover the new target")
	}
}

func TestIndexBuilder_EmptyAfterDeletingEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	id := f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	if err := f.banks.RemoveContent(ctx, id); err != nil {
		t.Fatalf("RemoveContent: %v", err)
	}
	res, err := f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Built || res.Entries != 0 {
		t.Fatalf("build = %+v, want an empty index", res)
	}
	matches, err := f.matcher.RawLookup(ctx, signal.PDQName, zeros, 0)
	if err != nil || len(matches) != 0 {
		t.Fatalf("RawLookup = %v, %v", matches, err)
	}
}

func TestIndexBuilder_SwitchesToMIH(t *testing.T) {
	f := newFixture(t, fixtureOptions{mihMinEntries: 4})
	f.createBank(t, "BANK_A", 1)
	rng := testutil.Rand(3)
	for _, h := range testutil.RandomHashes(rng, 5) {
		f.addPDQ(t, "BANK_A", h.Hex())
	}
	for _, res := range f.build(t) {
		if res.SignalType == signal.PDQName && res.Kind != index.KindMIH {
			t.Fatalf("kind = %s, want %s", res.Kind, index.KindMIH)
		}
	}
}

func TestIndexBuilder_Forced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	f.builder.MarkCorrupt(signal.PDQName)
	res, err := f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Built {
		t.Fatal("corrupt index should be rebuilt even when checkpoints agree")
	}
	res, err = f.builder.Build(ctx, signal.PDQName)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Built {
		t.Fatal("rebuild should clear the corrupt mark")
	}
}

func TestIndexBuilder_CancelledBuildPublishesNothing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.builder.Build(ctx, signal.PDQName)
	if !errors.Is(err, biz.ErrBuildFailure) {
		t.Fatalf("Build error = %v, want ErrBuildFailure", err)
	}
	cp, err := f.indexRepo.GetLastIndexBuildCheckpoint(context.Background(), signal.PDQName)
	if err != nil || cp != nil {
		t.Fatalf("checkpoint after cancelled build = %v, %v", cp, err)
	}
	if f.cache.Status(signal.PDQName).Present {
		t.Fatal("cancelled build reached the cache")
	}
}

func TestIndexBuilder_PublishInstallsIntoCache(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)
	f.build(t)

	st := f.cache.Status(signal.PDQName)
	if !st.Present || st.Size != 1 || st.BuiltTo.TotalHashCount != 1 {
		t.Fatalf("cache status after build = %+v", st)
	}
}

func TestIndexBuilder_BuildAll(t *testing.T) {
	f := newFixture(t, fixtureOptions{ratios: map[string]float64{signal.VideoMD5Name: 0}})
	f.createBank(t, "BANK_A", 1)
	f.addPDQ(t, "BANK_A", zeros)

	res := f.build(t)
	if len(res) != 1 || res[0].SignalType != signal.PDQName {
		t.Fatalf("BuildAll built %+v, want only pdq", res)
	}
}

func TestIndexBuilder_ConcurrentBuildsStoreOnce(t *testing.T) {
	ctx := context.Background()
	var repo *gatedIndexRepo
	f := newFixture(t, fixtureOptions{wrapIndex: func(r biz.IndexRepo) biz.IndexRepo {
		repo = newGatedIndexRepo(r)
		repo.storeGate = make(chan struct{})
		return repo
	}})
	f.createBank(t, "BANK_A", 1)
	rng := testutil.Rand(31)
	for d := range 3 {
		f.addPDQ(t, "BANK_A", testutil.HashAt(rng, hash.Hash256{}, d*20))
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		results [callers]*biz.BuildResult
		errs    [callers]error
	)
	build := func(i int) {
		defer wg.Done()
		results[i], errs[i] = f.builder.Build(ctx, signal.PDQName)
	}
	wg.Add(callers)
	go build(0)
	<-repo.entered
	for i := 1; i < callers; i++ {
		go build(i)
	}
	close(repo.storeGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Build %d: %v", i, err)
		}
	}
	if n := repo.stores.Load(); n != 1 {
		t.Fatalf("%d concurrent builds stored %d times, want 1", callers, n)
	}
	if !results[0].Built || results[0].Checkpoint.TotalHashCount != 3 {
		t.Fatalf("first build = %+v", results[0])
	}
	for i, res := range results {
		if res.Checkpoint != results[0].Checkpoint {
			t.Fatalf("build %d ended on %s, want %s", i, res.Checkpoint, results[0].Checkpoint)
		}
	}
}
