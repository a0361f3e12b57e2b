package index

import (
	"math/bits"

	"hashmatch/internal/pkg/hash"
)

// maxSlotRadius is the first per-slot radius at which enumerating the
// neighbourhood costs more than it saves; queries at or above it scan.
const maxSlotRadius = 5

// masksByWeight[w] lists every 16-bit mask with exactly w bits set,
// for w < maxSlotRadius.
var masksByWeight = func() [maxSlotRadius][]uint16 {
	var out [maxSlotRadius][]uint16
	for m := 0; m <= 0xffff; m++ {
		if w := bits.OnesCount16(uint16(m)); w < maxSlotRadius {
			out[w] = append(out[w], uint16(m))
		}
	}
	return out
}()

// neighbourhood[r] is the number of masks tried per slot at radius r.
var neighbourhood = func() [maxSlotRadius]int {
	var out [maxSlotRadius]int
	total := 0
	for w := range out {
		total += len(masksByWeight[w])
		out[w] = total
	}
	return out
}()

// MIH is a multi-index hashing structure. Every hash is cut into 16 slots
// of 16 bits and each slot keeps postings from slot value to table rows.
// For threshold t at least one slot of any match differs from the query by
// at most t/16 bits, so the union of per-slot neighbourhoods is a complete
// candidate set. Candidates are verified against the full hash.
type MIH struct {
	table
	postings [hash.Words]map[uint16][]uint32
}

var _ HashIndex = (*MIH)(nil)

func newMIH(t table) *MIH {
	m := &MIH{table: t}
	for s := range m.postings {
		m.postings[s] = make(map[uint16][]uint32)
	}
	for i, h := range t.hashes {
		for s := 0; s < hash.Words; s++ {
			m.postings[s][h[s]] = append(m.postings[s][h[s]], uint32(i))
		}
	}
	return m
}

func (m *MIH) Kind() Kind { return KindMIH }

func (m *MIH) Len() int { return m.entries }

// Distinct returns the number of distinct hashes stored.
func (m *MIH) Distinct() int { return len(m.hashes) }

func (m *MIH) Query(value string, threshold int) ([]Match, error) {
	q, err := hash.ParseHex(value)
	if err != nil {
		return nil, err
	}
	return m.QueryHash(q, threshold), nil
}

func (m *MIH) QueryHash(q hash.Hash256, threshold int) []Match {
	threshold = ClampThreshold(threshold)
	radius := threshold / hash.Words
	if radius >= maxSlotRadius || neighbourhood[radius]*hash.Words >= len(m.hashes) {
		return m.scan(q, threshold)
	}

	var out []Match
	seen := make([]uint64, (len(m.hashes)+63)/64)
	for s := 0; s < hash.Words; s++ {
		postings := m.postings[s]
		qs := q[s]
		for w := 0; w <= radius; w++ {
			for _, mask := range masksByWeight[w] {
				for _, row := range postings[qs^mask] {
					if seen[row/64]&(1<<(row%64)) != 0 {
						continue
					}
					seen[row/64] |= 1 << (row % 64)
					if hash.DistanceLE(q, m.hashes[row], threshold) {
						out = m.emit(out, int(row), hash.Distance(q, m.hashes[row]))
					}
				}
			}
		}
	}
	return out
}

// Nearest scans. Without a radius the slot neighbourhoods prune nothing.
func (m *MIH) Nearest(q hash.Hash256, k int) []Match {
	return m.nearest(q, k)
}
