package index

import "hashmatch/internal/pkg/hash"

// Flat answers queries by scanning every distinct hash. It is the better
// choice for small corpora and very large thresholds.
type Flat struct {
	table
}

var _ HashIndex = (*Flat)(nil)

func newFlat(t table) *Flat {
	return &Flat{table: t}
}

func (f *Flat) Kind() Kind { return KindFlat }

func (f *Flat) Len() int { return f.entries }

// Distinct returns the number of distinct hashes stored.
func (f *Flat) Distinct() int { return len(f.hashes) }

func (f *Flat) Query(value string, threshold int) ([]Match, error) {
	q, err := hash.ParseHex(value)
	if err != nil {
		return nil, err
	}
	return f.QueryHash(q, threshold), nil
}

func (f *Flat) Nearest(q hash.Hash256, k int) []Match {
	return f.nearest(q, k)
}

func (f *Flat) QueryHash(q hash.Hash256, threshold int) []Match {
	return f.scan(q, ClampThreshold(threshold))
}
