package data

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/pagination"
)

// memoryBankRepo is the reference bank store. Per signal type it keeps
// signals in (CreateTime, ContentID) order; timestamps never go backwards
// so appends preserve that order.
type memoryBankRepo struct {
	clock biz.Clock

	mu       sync.RWMutex
	banks    map[string]*biz.Bank
	contents map[int64]*biz.BankContent
	signals  map[string][]*biz.ContentSignal
	ratios   map[string]float64
	nextID   int64
	lastTS   time.Time
}

var _ biz.BankRepo = (*memoryBankRepo)(nil)

// NewMemoryBankRepo returns an empty in-memory bank store.
func NewMemoryBankRepo(clock biz.Clock) biz.BankRepo {
	return &memoryBankRepo{
		clock:    clock,
		banks:    make(map[string]*biz.Bank),
		contents: make(map[int64]*biz.BankContent),
		signals:  make(map[string][]*biz.ContentSignal),
		ratios:   make(map[string]float64),
	}
}

func copyBank(b *biz.Bank) *biz.Bank {
	c := *b
	return &c
}

func (r *memoryBankRepo) CreateBank(_ context.Context, b *biz.Bank) (*biz.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banks[b.Name]; ok {
		return nil, fmt.Errorf("bank %s already exists", b.Name)
	}
	stored := copyBank(b)
	stored.CreatedAt = r.clock.Now()
	r.banks[b.Name] = stored
	return copyBank(stored), nil
}

func (r *memoryBankRepo) UpdateBank(_ context.Context, b *biz.Bank) (*biz.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.banks[b.Name]
	if !ok {
		return nil, fmt.Errorf("bank %s does not exist", b.Name)
	}
	stored.Enabled = b.Enabled
	stored.MatchingEnabledRatio = b.MatchingEnabledRatio
	return copyBank(stored), nil
}

func (r *memoryBankRepo) GetBank(_ context.Context, name string) (*biz.Bank, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.banks[name]
	if !ok {
		return nil, nil
	}
	return copyBank(b), nil
}

func (r *memoryBankRepo) ListBanks(_ context.Context) ([]*biz.Bank, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*biz.Bank, 0, len(r.banks))
	for _, name := range slices.Sorted(maps.Keys(r.banks)) {
		out = append(out, copyBank(r.banks[name]))
	}
	return out, nil
}

func (r *memoryBankRepo) DeleteBank(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.contents {
		if c.BankName == name {
			r.removeContentLocked(id)
		}
	}
	delete(r.banks, name)
	return nil
}

func (r *memoryBankRepo) AddBankContent(_ context.Context, c *biz.BankContent) (*biz.BankContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.banks[c.BankName]; !ok {
		return nil, fmt.Errorf("bank %s does not exist", c.BankName)
	}
	now := r.clock.Now()
	if now.Before(r.lastTS) {
		now = r.lastTS
	}
	r.lastTS = now
	r.nextID++

	stored := &biz.BankContent{
		ID:               r.nextID,
		BankName:         c.BankName,
		DisableUntilTS:   c.DisableUntilTS,
		OriginalMediaURI: c.OriginalMediaURI,
		CreatedAt:        now,
	}
	for _, s := range c.Signals {
		sig := &biz.ContentSignal{
			ContentID:   stored.ID,
			SignalType:  s.SignalType,
			SignalValue: s.SignalValue,
			CreateTime:  now,
		}
		stored.Signals = append(stored.Signals, sig)
		r.signals[sig.SignalType] = append(r.signals[sig.SignalType], sig)
	}
	r.contents[stored.ID] = stored
	return copyContent(stored), nil
}

func copyContent(c *biz.BankContent) *biz.BankContent {
	out := *c
	out.Signals = make([]*biz.ContentSignal, len(c.Signals))
	for i, s := range c.Signals {
		sig := *s
		out.Signals[i] = &sig
	}
	return &out
}

func (r *memoryBankRepo) GetBankContent(_ context.Context, id int64) (*biz.BankContent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contents[id]
	if !ok {
		return nil, nil
	}
	return copyContent(c), nil
}

func (r *memoryBankRepo) UpdateBankContent(_ context.Context, id int64, disableUntilTS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[id]
	if !ok {
		return fmt.Errorf("bank content %d does not exist", id)
	}
	c.DisableUntilTS = disableUntilTS
	return nil
}

func (r *memoryBankRepo) RemoveBankContent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeContentLocked(id)
	return nil
}

func (r *memoryBankRepo) removeContentLocked(id int64) {
	c, ok := r.contents[id]
	if !ok {
		return
	}
	for _, s := range c.Signals {
		r.signals[s.SignalType] = slices.DeleteFunc(r.signals[s.SignalType], func(x *biz.ContentSignal) bool {
			return x.ContentID == id
		})
	}
	delete(r.contents, id)
}

func (r *memoryBankRepo) GetContentPolicies(_ context.Context, ids []int64) (map[int64]*biz.ContentPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]*biz.ContentPolicy, len(ids))
	for _, id := range ids {
		c, ok := r.contents[id]
		if !ok {
			continue
		}
		b, ok := r.banks[c.BankName]
		if !ok {
			continue
		}
		out[id] = &biz.ContentPolicy{ContentID: id, DisableUntilTS: c.DisableUntilTS, Bank: copyBank(b)}
	}
	return out, nil
}

func (r *memoryBankRepo) GetContentSignals(_ context.Context, ids []int64, signalType string) (map[int64]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		c, ok := r.contents[id]
		if !ok {
			continue
		}
		for _, s := range c.Signals {
			if s.SignalType == signalType {
				out[id] = s.SignalValue
			}
		}
	}
	return out, nil
}

func (r *memoryBankRepo) ListSignals(_ context.Context, signalType string, after *pagination.Cursor, limit int) ([]*biz.ContentSignal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.signals[signalType]
	start := sort.Search(len(all), func(i int) bool {
		return after.Before(all[i].CreateTime, all[i].ContentID)
	})
	end := min(start+pagination.ClampLimit(limit), len(all))
	out := make([]*biz.ContentSignal, 0, end-start)
	for _, s := range all[start:end] {
		sig := *s
		out = append(out, &sig)
	}
	return out, nil
}

func (r *memoryBankRepo) GetCurrentIndexBuildTarget(_ context.Context, signalType string) (*biz.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.signals[signalType]
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &biz.Checkpoint{
		LastItemTimestamp: last.CreateTime.Unix(),
		LastItemID:        last.ContentID,
		TotalHashCount:    int64(len(all)),
	}, nil
}

func (r *memoryBankRepo) GetSignalTypeRatios(_ context.Context) (map[string]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.ratios), nil
}

func (r *memoryBankRepo) SetSignalTypeEnabledRatio(_ context.Context, signalType string, ratio float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratios[signalType] = ratio
	return nil
}
