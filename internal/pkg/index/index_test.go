package index

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"hashmatch/internal/pkg/hash"
)

type entry struct {
	h  hash.Hash256
	id int64
}

// corpus returns n entries clustered around a few seeds so that queries
// at realistic thresholds have hits, plus some exact duplicates.
func corpus(rng *rand.Rand, n int) []entry {
	seeds := make([]hash.Hash256, 8)
	for i := range seeds {
		seeds[i] = hash.Random(rng)
	}
	out := make([]entry, 0, n)
	for i := 0; i < n; i++ {
		var h hash.Hash256
		switch {
		case i%10 == 0 && i > 0:
			h = out[i-1].h
		case i%3 == 0:
			h = hash.Random(rng)
		default:
			h = seeds[i%len(seeds)].Fuzz(rng, rng.IntN(60))
		}
		out = append(out, entry{h: h, id: int64(i + 1)})
	}
	return out
}

func build(t *testing.T, kind Kind, entries []entry) Index {
	t.Helper()
	values := make([]string, len(entries))
	ids := make([]int64, len(entries))
	for i, e := range entries {
		values[i], ids[i] = e.h.Hex(), e.id
	}
	idx, err := Build(kind, Pairs(values, ids))
	if err != nil {
		t.Fatalf("Build(%s) failed: %v", kind, err)
	}
	return idx
}

func bruteForce(entries []entry, q hash.Hash256, threshold int) []Match {
	threshold = ClampThreshold(threshold)
	var out []Match
	for _, e := range entries {
		if d := hash.Distance(e.h, q); d <= threshold {
			out = append(out, Match{ContentID: e.id, Distance: d})
		}
	}
	return sorted(out)
}

func sorted(ms []Match) []Match {
	slices.SortFunc(ms, func(a, b Match) int {
		if a.ContentID != b.ContentID {
			if a.ContentID < b.ContentID {
				return -1
			}
			return 1
		}
		return a.Distance - b.Distance
	})
	return ms
}

func TestQueryCompleteness(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	entries := corpus(rng, 3000)
	flat := build(t, KindFlat, entries).(HashIndex)
	mih := build(t, KindMIH, entries).(HashIndex)

	if flat.Len() != len(entries) || mih.Len() != len(entries) {
		t.Fatalf("Len() = %d/%d, want %d", flat.Len(), mih.Len(), len(entries))
	}

	thresholds := []int{-5, 0, 8, 16, 31, 47, 63, 79, 80, 128, 256, 300}
	for i := 0; i < 60; i++ {
		var q hash.Hash256
		if i%2 == 0 {
			q = entries[rng.IntN(len(entries))].h.Fuzz(rng, rng.IntN(40))
		} else {
			q = hash.Random(rng)
		}
		for _, tau := range thresholds {
			want := bruteForce(entries, q, tau)
			if got := sorted(flat.QueryHash(q, tau)); !slices.Equal(got, want) {
				t.Fatalf("flat tau=%d: got %d matches, want %d", tau, len(got), len(want))
			}
			if got := sorted(mih.QueryHash(q, tau)); !slices.Equal(got, want) {
				t.Fatalf("mih tau=%d: got %d matches, want %d", tau, len(got), len(want))
			}
		}
	}
}

func bruteForceNearest(entries []entry, q hash.Hash256, k int) []Match {
	out := make([]Match, 0, len(entries))
	for _, e := range entries {
		out = append(out, Match{ContentID: e.id, Distance: hash.Distance(e.h, q)})
	}
	slices.SortFunc(out, func(a, b Match) int {
		if a.Distance != b.Distance {
			return a.Distance - b.Distance
		}
		return int(a.ContentID - b.ContentID)
	})
	return out[:min(max(k, 0), len(out))]
}

func TestNearest(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 11))
	entries := corpus(rng, 500)
	indices := map[string]HashIndex{
		"flat": build(t, KindFlat, entries).(HashIndex),
		"mih":  build(t, KindMIH, entries).(HashIndex),
	}
	for name, idx := range indices {
		t.Run(name, func(t *testing.T) {
			for _, k := range []int{-1, 0, 1, 3, 10, 11, 499, 500, 1000} {
				q := entries[rng.IntN(len(entries))].h.Fuzz(rng, rng.IntN(20))
				got := idx.Nearest(q, k)
				if want := bruteForceNearest(entries, q, k); !slices.Equal(got, want) {
					t.Fatalf("Nearest(k=%d) = %v, want %v", k, got, want)
				}
			}
		})
	}

	// Duplicates at the cutoff distance are trimmed by content id.
	dup := []entry{{h: hash.Hash256{}, id: 9}, {h: hash.Hash256{}, id: 4}, {h: hash.Hash256{}, id: 7}}
	got := build(t, KindFlat, dup).(HashIndex).Nearest(hash.Hash256{}, 2)
	if want := []Match{{ContentID: 4}, {ContentID: 7}}; !slices.Equal(got, want) {
		t.Fatalf("Nearest over duplicates = %v, want %v", got, want)
	}
	if got := build(t, KindMIH, nil).(HashIndex).Nearest(hash.Hash256{}, 5); len(got) != 0 {
		t.Fatalf("Nearest on empty index = %v", got)
	}
}

func TestScenarios(t *testing.T) {
	zero := strings.Repeat("0", 64)
	a := hash.MustParseHex(zero)
	rng := rand.New(rand.NewPCG(1, 2))

	for _, kind := range []Kind{KindFlat, KindMIH} {
		t.Run(kind.String(), func(t *testing.T) {
			idx := build(t, kind, []entry{{h: a, id: 1}})

			got, err := idx.Query(zero, 0)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(got) != 1 || got[0] != (Match{ContentID: 1, Distance: 0}) {
				t.Errorf("exact match = %v", got)
			}

			near := a.Fuzz(rng, 10)
			got, _ = idx.Query(near.Hex(), 16)
			if len(got) != 1 || got[0].Distance != 10 {
				t.Errorf("near match = %v, want one match at distance 10", got)
			}

			far := a.Fuzz(rng, 20)
			if got, _ := idx.Query(far.Hex(), 16); len(got) != 0 {
				t.Errorf("far match = %v, want none", got)
			}

			if _, err := idx.Query("nope", 16); !errors.Is(err, hash.ErrInvalidHash) {
				t.Errorf("Query(invalid) error = %v", err)
			}
		})
	}
}

func TestMultiOwnerHash(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	h := hash.Random(rng)
	other := hash.Random(rng)
	for _, kind := range []Kind{KindFlat, KindMIH} {
		idx := build(t, kind, []entry{{h, 7}, {other, 8}, {h, 42}})
		got := sorted(idx.(HashIndex).QueryHash(h, 0))
		want := []Match{{ContentID: 7}, {ContentID: 42}}
		if !slices.Equal(got, want) {
			t.Errorf("%s: QueryHash = %v, want %v", kind, got, want)
		}
		if idx.Len() != 3 {
			t.Errorf("%s: Len() = %d, want 3", kind, idx.Len())
		}
	}
}

func TestBuildInvalidHash(t *testing.T) {
	values := []string{strings.Repeat("0", 64), "XYZ"}
	idx, err := Build(KindMIH, Pairs(values, []int64{1, 99}))
	if !errors.Is(err, hash.ErrInvalidHash) {
		t.Fatalf("Build error = %v, want ErrInvalidHash", err)
	}
	if !strings.Contains(err.Error(), "content 99") {
		t.Errorf("error %q does not name the offending entry", err)
	}
	if idx != nil {
		t.Error("partial index returned")
	}
}

func TestBuilderAdd(t *testing.T) {
	b, err := NewBuilder(KindFlat)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Add(strings.Repeat("f", 64), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(strings.Repeat("0", 64), 2); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 2 || b.Kind() != KindFlat {
		t.Fatalf("Len() = %d, Kind() = %s", b.Len(), b.Kind())
	}
	idx := b.Build()
	if got, _ := idx.Query(strings.Repeat("0", 64), 256); len(got) != 2 {
		t.Errorf("Query(256) = %v, want both entries", got)
	}
	if _, err := NewBuilder(Kind(9)); err == nil {
		t.Error("NewBuilder accepted unknown kind")
	}
}

func TestExact(t *testing.T) {
	md5a := "d41d8cd98f00b204e9800998ecf8427e"
	md5b := "9e107d9d372bb6826bd81d3542a419d6"
	idx, err := Build(KindExact, Pairs([]string{md5a, md5b, md5a}, []int64{1, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := idx.Query(md5a, 31)
	if want := []Match{{ContentID: 1}, {ContentID: 3}}; !slices.Equal(sorted(got), want) {
		t.Errorf("Query = %v, want %v", got, want)
	}
	if got, _ := idx.Query("00000000000000000000000000000000", 256); len(got) != 0 {
		t.Errorf("miss returned %v", got)
	}
	if idx.Len() != 3 || idx.(*Exact).Distinct() != 2 {
		t.Errorf("Len/Distinct = %d/%d", idx.Len(), idx.(*Exact).Distinct())
	}
}
