package biz

import (
	"context"

	"hashmatch/internal/pkg/index"
)

// IndexRepo stores built indices keyed by signal type. A stored index and
// its checkpoint are published together: a reader never sees one without
// the other.
type IndexRepo interface {
	StoreSignalTypeIndex(ctx context.Context, signalType string, idx index.Index, cp Checkpoint) error
	// GetLastIndexBuildCheckpoint returns nil, nil if nothing was ever stored.
	GetLastIndexBuildCheckpoint(ctx context.Context, signalType string) (*Checkpoint, error)
	// LoadSignalTypeIndex returns nil, nil, nil if nothing was ever stored,
	// and an error wrapping index.ErrCorruptIndex if the blob is unreadable.
	LoadSignalTypeIndex(ctx context.Context, signalType string) (index.Index, *Checkpoint, error)
}
