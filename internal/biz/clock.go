package biz

import "time"

// Clock abstracts time retrieval so policy checks are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// NewClock is the wire provider for the production clock.
func NewClock() Clock { return RealClock{} }
