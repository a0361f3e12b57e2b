package biz

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"sort"

	"hashmatch/internal/pkg/hash"
	"hashmatch/internal/pkg/index"

	"github.com/go-kratos/kratos/v2/log"
)

// BankMatch is one surviving match attributed to its bank.
type BankMatch struct {
	ContentID int64 `json:"bank_content_id"`
	Distance  int   `json:"distance"`
}

// RawMatch is an index hit with no bank filtering applied. Signal is the
// value stored for the content, empty if it was removed after the build.
type RawMatch struct {
	ContentID int64  `json:"bank_content_id"`
	Distance  int    `json:"distance"`
	Signal    string `json:"signal"`
}

// LookupOption adjusts a single lookup.
type LookupOption func(*lookupOptions)

type lookupOptions struct {
	bypassCoinflip bool
	seed           *uint64
}

// WithBypassCoinflip skips every probabilistic gate so admin callers see
// unconditional results. Disabled banks and content are still dropped.
func WithBypassCoinflip() LookupOption {
	return func(o *lookupOptions) { o.bypassCoinflip = true }
}

// WithSeed makes the coin flip for this call reproducible.
func WithSeed(seed uint64) LookupOption {
	return func(o *lookupOptions) { o.seed = &seed }
}

// Matcher answers lookups against the cached indices and filters the
// results by bank policy.
type Matcher struct {
	signalTypes *SignalTypeUsecase
	indices     *IndexCache
	policies    *PolicyCache
	bankRepo    BankRepo
	clock       Clock
	seed        *uint64
	log         *log.Helper
}

// NewMatcher creates a Matcher. A non-nil seed fixes the coin flip of
// every call that does not pass its own.
func NewMatcher(signalTypes *SignalTypeUsecase, indices *IndexCache, policies *PolicyCache, bankRepo BankRepo, clock Clock, seed *uint64, logger log.Logger) *Matcher {
	return &Matcher{
		signalTypes: signalTypes,
		indices:     indices,
		policies:    policies,
		bankRepo:    bankRepo,
		clock:       clock,
		seed:        seed,
		log:         log.NewHelper(log.With(logger, "module", "biz/matcher")),
	}
}

// coinflip draws the per-request value in [0, 1). Zero when bypassed.
func (m *Matcher) coinflip(o *lookupOptions) float64 {
	if o.bypassCoinflip {
		return 0
	}
	seed := o.seed
	if seed == nil {
		seed = m.seed
	}
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed)).Float64()
	}
	return rand.Float64()
}

func collect(opts []LookupOption) *lookupOptions {
	o := &lookupOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Lookup returns the names of banks with an active match for value at the
// signal type's default threshold.
func (m *Matcher) Lookup(ctx context.Context, signalType, value string, opts ...LookupOption) (map[string]struct{}, error) {
	detailed, err := m.LookupDetailed(ctx, signalType, value, opts...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(detailed))
	for bank := range detailed {
		out[bank] = struct{}{}
	}
	return out, nil
}

// LookupDetailed is Lookup that also reports which content matched and how close.
func (m *Matcher) LookupDetailed(ctx context.Context, signalType, value string, opts ...LookupOption) (map[string][]BankMatch, error) {
	st, err := m.signalTypes.Lookup(ctx, signalType)
	if err != nil {
		return nil, err
	}
	o := collect(opts)
	return m.lookup(ctx, st, value, st.Type.DefaultThreshold(), o, m.coinflip(o))
}

// LookupThreshold is LookupDetailed with an explicit threshold. Bank
// policies still apply; RawLookup skips them.
func (m *Matcher) LookupThreshold(ctx context.Context, signalType, value string, threshold int, opts ...LookupOption) (map[string][]BankMatch, error) {
	st, err := m.signalTypes.Lookup(ctx, signalType)
	if err != nil {
		return nil, err
	}
	o := collect(opts)
	return m.lookup(ctx, st, value, threshold, o, m.coinflip(o))
}

func (m *Matcher) lookup(ctx context.Context, st EnabledSignalType, value string, threshold int, o *lookupOptions, draw float64) (map[string][]BankMatch, error) {
	matches, err := m.query(ctx, st, value, threshold)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return map[string][]BankMatch{}, nil
	}
	if !o.bypassCoinflip && draw >= st.EnabledRatio {
		return map[string][]BankMatch{}, nil
	}

	ids := make([]int64, 0, len(matches))
	for _, mt := range matches {
		ids = append(ids, mt.ContentID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	policies, err := m.policies.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	out := make(map[string][]BankMatch)
	for _, mt := range matches {
		p, ok := policies[mt.ContentID]
		if !ok || !p.Active(now) {
			continue
		}
		if !o.bypassCoinflip && draw >= p.Bank.MatchingEnabledRatio {
			continue
		}
		out[p.Bank.Name] = append(out[p.Bank.Name], BankMatch{ContentID: mt.ContentID, Distance: mt.Distance})
	}
	for _, bm := range out {
		sort.Slice(bm, func(i, j int) bool { return bm[i].ContentID < bm[j].ContentID })
	}
	return out, nil
}

// query validates value and runs it against the cached snapshot. A type
// with no usable index yields no matches.
func (m *Matcher) query(ctx context.Context, st EnabledSignalType, value string, threshold int) ([]index.Match, error) {
	if err := st.Type.Validate(value); err != nil {
		return nil, ErrInvalidSignal.WithCause(err)
	}
	snap, err := m.indices.Get(ctx, st.Type.Name())
	if err != nil {
		m.log.Warnf("%s index unavailable: %v", st.Type.Name(), err)
		return nil, nil
	}
	if snap.Index == nil {
		return nil, nil
	}
	matches, err := snap.Index.Query(value, threshold)
	if err != nil {
		return nil, ErrInvalidHash.WithCause(err)
	}
	return matches, nil
}

// RawLookup returns every index entry within threshold of value, closest
// first, without bank filtering or coin flips.
func (m *Matcher) RawLookup(ctx context.Context, signalType, value string, threshold int) ([]RawMatch, error) {
	st, idx, err := m.rawIndex(ctx, signalType, value)
	if err != nil {
		return nil, err
	}
	matches, err := idx.Query(value, threshold)
	if err != nil {
		return nil, ErrInvalidHash.WithCause(err)
	}
	return m.withSignals(ctx, st, matches)
}

// LookupTopK returns the k index entries closest to value regardless of
// distance. Exact signal types have no notion of closeness.
func (m *Matcher) LookupTopK(ctx context.Context, signalType, value string, k int) ([]RawMatch, error) {
	st, idx, err := m.rawIndex(ctx, signalType, value)
	if err != nil {
		return nil, err
	}
	hi, ok := idx.(index.HashIndex)
	if !ok {
		return nil, errorf(ErrUnsupportedQuery, "%s index does not support top-k lookups", st.Type.Name())
	}
	q, err := hash.ParseHex(value)
	if err != nil {
		return nil, ErrInvalidHash.WithCause(err)
	}
	return m.withSignals(ctx, st, hi.Nearest(q, k))
}

// rawIndex validates value and returns the cached index. Unlike filtered
// lookups, a missing index is an error here.
func (m *Matcher) rawIndex(ctx context.Context, signalType, value string) (EnabledSignalType, index.Index, error) {
	st, err := m.signalTypes.Lookup(ctx, signalType)
	if err != nil {
		return st, nil, err
	}
	if err := st.Type.Validate(value); err != nil {
		return st, nil, ErrInvalidSignal.WithCause(err)
	}
	snap, err := m.indices.Get(ctx, signalType)
	if err != nil {
		return st, nil, err
	}
	if snap.Index == nil {
		return st, nil, errorf(ErrIndexUnavailable, "%s index not built yet", signalType)
	}
	return st, snap.Index, nil
}

// withSignals orders matches by distance then content id and attaches the
// stored signal value of each.
func (m *Matcher) withSignals(ctx context.Context, st EnabledSignalType, matches []index.Match) ([]RawMatch, error) {
	out := make([]RawMatch, 0, len(matches))
	if len(matches) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(matches))
	for _, mt := range matches {
		ids = append(ids, mt.ContentID)
	}
	slices.Sort(ids)
	signals, err := m.bankRepo.GetContentSignals(ctx, slices.Compact(ids), st.Type.Name())
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	for _, mt := range matches {
		out = append(out, RawMatch{ContentID: mt.ContentID, Distance: mt.Distance, Signal: signals[mt.ContentID]})
	}
	slices.SortFunc(out, func(a, b RawMatch) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ContentID, b.ContentID)
	})
	return out, nil
}

// Query is one item of a batch lookup.
type Query struct {
	SignalType string `json:"signal_type"`
	Value      string `json:"value"`
}

// QueryResult is the outcome of one batch item. Err is set instead of
// failing the whole batch.
type QueryResult struct {
	Query
	Banks map[string][]BankMatch `json:"banks"`
	Err   error                  `json:"-"`
}

// BatchResult holds per-query results and the de-duplicated bank names
// across all of them.
type BatchResult struct {
	Results []QueryResult `json:"results"`
	Banks   []string      `json:"banks"`
}

// BatchLookup dispatches each query to its signal type. One coin flip is
// drawn for the whole batch.
func (m *Matcher) BatchLookup(ctx context.Context, queries []Query, opts ...LookupOption) (*BatchResult, error) {
	enabled, err := m.signalTypes.GetEnabledSignalTypes(ctx)
	if err != nil {
		return nil, err
	}
	o := collect(opts)
	draw := m.coinflip(o)

	res := &BatchResult{Results: make([]QueryResult, len(queries))}
	seen := make(map[string]struct{})
	for i, q := range queries {
		res.Results[i].Query = q
		st, ok := enabled[q.SignalType]
		if !ok {
			_, err := m.signalTypes.Lookup(ctx, q.SignalType)
			res.Results[i].Err = err
			continue
		}
		banks, err := m.lookup(ctx, st, q.Value, st.Type.DefaultThreshold(), o, draw)
		if err != nil {
			if IsBankStoreUnavailable(err) {
				return nil, err
			}
			res.Results[i].Err = err
			continue
		}
		res.Results[i].Banks = banks
		for name := range banks {
			seen[name] = struct{}{}
		}
	}
	for name := range seen {
		res.Banks = append(res.Banks, name)
	}
	sort.Strings(res.Banks)
	return res, nil
}

// Comparison is the result of Compare.
type Comparison struct {
	// Distance is the Hamming distance for hash types, and 0 or 1
	// (equal or not) for exact types.
	Distance int  `json:"distance"`
	Match    bool `json:"match"`
}

// Compare measures two values of one signal type against each other.
func (m *Matcher) Compare(ctx context.Context, signalType, a, b string) (*Comparison, error) {
	st, err := m.signalTypes.Lookup(ctx, signalType)
	if err != nil {
		return nil, err
	}
	for _, v := range []string{a, b} {
		if err := st.Type.Validate(v); err != nil {
			return nil, ErrInvalidSignal.WithCause(err)
		}
	}
	if st.Type.IndexKind(0) == index.KindExact {
		c := &Comparison{Match: a == b}
		if !c.Match {
			c.Distance = 1
		}
		return c, nil
	}
	ha, err := hash.ParseHex(a)
	if err != nil {
		return nil, ErrInvalidHash.WithCause(err)
	}
	hb, err := hash.ParseHex(b)
	if err != nil {
		return nil, ErrInvalidHash.WithCause(err)
	}
	d := hash.Distance(ha, hb)
	return &Comparison{Distance: d, Match: d <= st.Type.DefaultThreshold()}, nil
}

// IndexStatus reports the cached index of every enabled signal type.
func (m *Matcher) IndexStatus(ctx context.Context) (map[string]IndexStatus, error) {
	enabled, err := m.signalTypes.GetEnabledSignalTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]IndexStatus, len(enabled))
	for name := range enabled {
		if _, err := m.indices.Get(ctx, name); err != nil {
			m.log.Warnf("%s index unavailable: %v", name, err)
		}
		out[name] = m.indices.Status(name)
	}
	return out, nil
}
