package index

// Exact matches values by equality.
type Exact struct {
	values  []string
	ids     [][]int64
	slots   map[string]int
	entries int
}

var _ Index = (*Exact)(nil)

type exactBuilder struct {
	Exact
}

func newExactBuilder() *exactBuilder {
	return &exactBuilder{Exact{slots: make(map[string]int)}}
}

func (b *exactBuilder) add(value string, id int64) {
	if i, ok := b.slots[value]; ok {
		b.ids[i] = append(b.ids[i], id)
	} else {
		b.slots[value] = len(b.values)
		b.values = append(b.values, value)
		b.ids = append(b.ids, []int64{id})
	}
	b.entries++
}

func (b *exactBuilder) finish() *Exact {
	e := b.Exact
	return &e
}

func (e *Exact) Kind() Kind { return KindExact }

func (e *Exact) Len() int { return e.entries }

// Distinct returns the number of distinct values stored.
func (e *Exact) Distinct() int { return len(e.values) }

// Query ignores threshold; only identical values match.
func (e *Exact) Query(value string, _ int) ([]Match, error) {
	i, ok := e.slots[value]
	if !ok {
		return nil, nil
	}
	out := make([]Match, 0, len(e.ids[i]))
	for _, id := range e.ids[i] {
		out = append(out, Match{ContentID: id})
	}
	return out, nil
}
