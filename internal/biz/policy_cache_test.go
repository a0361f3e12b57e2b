package biz_test

import (
	"context"
	"testing"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/data"
	"hashmatch/internal/testutil"
)

// countingBankRepo counts policy round trips.
type countingBankRepo struct {
	biz.BankRepo
	calls int
}

func (r *countingBankRepo) GetContentPolicies(ctx context.Context, ids []int64) (map[int64]*biz.ContentPolicy, error) {
	r.calls++
	return r.BankRepo.GetContentPolicies(ctx, ids)
}

func TestPolicyCache(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	repo := &countingBankRepo{BankRepo: data.NewMemoryBankRepo(clock)}
	if _, err := repo.CreateBank(ctx, &biz.Bank{Name: "BANK_A", Enabled: true, MatchingEnabledRatio: 1}); err != nil {
		t.Fatalf("CreateBank: %v", err)
	}
	c, err := repo.AddBankContent(ctx, &biz.BankContent{BankName: "BANK_A"})
	if err != nil {
		t.Fatalf("AddBankContent: %v", err)
	}
	cache := biz.NewPolicyCache(repo, clock, time.Minute, testutil.Logger())

	got, err := cache.Get(ctx, []int64{c.ID, 999})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[c.ID].Bank.Name != "BANK_A" {
		t.Fatalf("Get = %v", got)
	}
	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2 including the negative entry", cache.Len())
	}

	if _, err := cache.Get(ctx, []int64{c.ID, 999}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("store calls = %d, want 1", repo.calls)
	}

	clock.Advance(2 * time.Minute)
	if _, err := cache.Get(ctx, []int64{c.ID}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("store calls after expiry = %d, want 2", repo.calls)
	}

	cache.InvalidateContent(c.ID)
	if cache.Len() != 1 {
		t.Fatalf("Len after InvalidateContent = %d", cache.Len())
	}
	cache.Invalidate()
	if cache.Len() != 0 {
		t.Fatalf("Len after Invalidate = %d", cache.Len())
	}
}
