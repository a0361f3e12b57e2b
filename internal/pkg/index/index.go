// Package index implements the in-memory similarity indices that back
// matching: a flat scan and a multi-index hashing structure over 256-bit
// hashes, and an exact index for digest-style signals.
package index

import (
	"errors"
	"fmt"
	"iter"

	"hashmatch/internal/pkg/hash"
)

// ErrCorruptIndex is returned when a serialized index cannot be trusted.
var ErrCorruptIndex = errors.New("corrupt index")

// Kind identifies an index implementation. The numeric values are part of
// the serialized format.
type Kind uint8

const (
	KindFlat  Kind = 1
	KindMIH   Kind = 2
	KindExact Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindMIH:
		return "mih"
	case KindExact:
		return "exact"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Match is one stored entry returned by a query. Distance is the exact
// Hamming distance to the query (always 0 for exact indices).
type Match struct {
	ContentID int64
	Distance  int
}

// Index is a read-only, query-safe structure. Implementations are safe for
// concurrent use once built.
type Index interface {
	Kind() Kind
	// Len counts stored entries, including entries that share a value.
	Len() int
	// Query returns every entry within threshold of value.
	Query(value string, threshold int) ([]Match, error)
}

// HashIndex is an Index over Hash256 values.
type HashIndex interface {
	Index
	QueryHash(q hash.Hash256, threshold int) []Match
	// Nearest returns the k closest entries regardless of distance.
	Nearest(q hash.Hash256, k int) []Match
}

// ClampThreshold limits a threshold to [0, 256].
func ClampThreshold(t int) int {
	return max(0, min(t, hash.Bits))
}

// Builder accumulates entries and finalises them into an immutable Index.
type Builder struct {
	kind  Kind
	table *tableBuilder
	exact *exactBuilder
}

// NewBuilder returns a builder for the given kind.
func NewBuilder(kind Kind) (*Builder, error) {
	b := &Builder{kind: kind}
	switch kind {
	case KindFlat, KindMIH:
		b.table = newTableBuilder()
	case KindExact:
		b.exact = newExactBuilder()
	default:
		return nil, fmt.Errorf("unknown index kind %d", kind)
	}
	return b, nil
}

// Add parses value and records it for contentID.
func (b *Builder) Add(value string, contentID int64) error {
	if b.exact != nil {
		if value == "" {
			return fmt.Errorf("content %d: %w: empty value", contentID, hash.ErrInvalidHash)
		}
		b.exact.add(value, contentID)
		return nil
	}
	h, err := hash.ParseHex(value)
	if err != nil {
		return fmt.Errorf("content %d: %w", contentID, err)
	}
	b.table.add(h, contentID)
	return nil
}

// Kind returns the kind of index Build will produce.
func (b *Builder) Kind() Kind {
	return b.kind
}

// AddAll adds every pair, stopping at the first invalid value.
func (b *Builder) AddAll(entries iter.Seq2[string, int64]) error {
	for value, id := range entries {
		if err := b.Add(value, id); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries added so far.
func (b *Builder) Len() int {
	if b.exact != nil {
		return b.exact.entries
	}
	return b.table.entries
}

// Build finalises the builder. The builder must not be used afterwards.
func (b *Builder) Build() Index {
	var idx Index
	switch b.kind {
	case KindFlat:
		idx = newFlat(b.table.finish())
	case KindMIH:
		idx = newMIH(b.table.finish())
	case KindExact:
		idx = b.exact.finish()
	}
	b.table, b.exact = nil, nil
	return idx
}

// Build consumes entries eagerly and returns the finished index. Any invalid
// entry aborts the build and no index is returned.
func Build(kind Kind, entries iter.Seq2[string, int64]) (Index, error) {
	b, err := NewBuilder(kind)
	if err != nil {
		return nil, err
	}
	if err := b.AddAll(entries); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// Pairs adapts parallel slices to the iterator shape Build expects.
func Pairs(values []string, ids []int64) iter.Seq2[string, int64] {
	return func(yield func(string, int64) bool) {
		for i := range min(len(values), len(ids)) {
			if !yield(values[i], ids[i]) {
				return
			}
		}
	}
}
