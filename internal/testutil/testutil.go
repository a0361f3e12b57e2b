// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"hashmatch/internal/pkg/hash"

	"github.com/go-kratos/kratos/v2/log"
)

// StubClock is a manually advanced clock.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock returns a clock stopped at t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a clock stopped at a fixed date.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Logger discards everything.
func Logger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// Rand returns a deterministic source.
func Rand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// RandomHashes returns n random hashes from rng.
func RandomHashes(rng *rand.Rand, n int) []hash.Hash256 {
	out := make([]hash.Hash256, n)
	for i := range out {
		out[i] = hash.Random(rng)
	}
	return out
}

// HashAt returns a hash exactly d bits away from h.
func HashAt(rng *rand.Rand, h hash.Hash256, d int) string {
	return h.Fuzz(rng, d).Hex()
}
