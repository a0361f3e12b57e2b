package index

import (
	"cmp"
	"slices"

	"hashmatch/internal/pkg/hash"
)

// table stores each distinct hash once alongside every content id that
// carries it. Slot i of hashes pairs with slot i of ids.
type table struct {
	hashes  []hash.Hash256
	ids     [][]int64
	entries int
}

type tableBuilder struct {
	table
	slots map[hash.Hash256]int
}

func newTableBuilder() *tableBuilder {
	return &tableBuilder{slots: make(map[hash.Hash256]int)}
}

func (b *tableBuilder) add(h hash.Hash256, id int64) {
	if i, ok := b.slots[h]; ok {
		b.ids[i] = append(b.ids[i], id)
	} else {
		b.slots[h] = len(b.hashes)
		b.hashes = append(b.hashes, h)
		b.ids = append(b.ids, []int64{id})
	}
	b.entries++
}

func (b *tableBuilder) finish() table {
	b.slots = nil
	return b.table
}

// emit appends one match per content id stored at slot i.
func (t *table) emit(out []Match, i, distance int) []Match {
	for _, id := range t.ids[i] {
		out = append(out, Match{ContentID: id, Distance: distance})
	}
	return out
}

// scan is the brute force range query shared by flat and MIH.
func (t *table) scan(q hash.Hash256, threshold int) []Match {
	var out []Match
	for i := range t.hashes {
		if hash.DistanceLE(q, t.hashes[i], threshold) {
			out = t.emit(out, i, hash.Distance(q, t.hashes[i]))
		}
	}
	return out
}

// nearest returns the k entries closest to q ordered by distance, then
// content id. Distances are bounded, so a histogram finds the cutoff
// distance in one pass and only rows within it are emitted.
func (t *table) nearest(q hash.Hash256, k int) []Match {
	if k <= 0 || len(t.hashes) == 0 {
		return nil
	}
	dist := make([]uint16, len(t.hashes))
	var hist [hash.Bits + 1]int
	for i := range t.hashes {
		d := hash.Distance(q, t.hashes[i])
		dist[i] = uint16(d)
		hist[d] += len(t.ids[i])
	}
	cutoff, seen := 0, 0
	for ; cutoff < hash.Bits; cutoff++ {
		if seen += hist[cutoff]; seen >= k {
			break
		}
	}
	out := make([]Match, 0, min(k, t.entries))
	for i, d := range dist {
		if int(d) <= cutoff {
			out = t.emit(out, i, int(d))
		}
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ContentID, b.ContentID)
	})
	return out[:min(k, len(out))]
}
