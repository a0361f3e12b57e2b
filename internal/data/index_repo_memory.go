package data

import (
	"context"
	"sync"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/index"
)

type memoryIndexEntry struct {
	idx index.Index
	cp  biz.Checkpoint
}

// memoryIndexRepo keeps published indices in process memory. Publishing
// replaces the entry pointer, so a reader always sees a matching pair.
type memoryIndexRepo struct {
	mu      sync.RWMutex
	entries map[string]*memoryIndexEntry
}

var _ biz.IndexRepo = (*memoryIndexRepo)(nil)

// NewMemoryIndexRepo returns an empty in-memory index store.
func NewMemoryIndexRepo() biz.IndexRepo {
	return &memoryIndexRepo{entries: make(map[string]*memoryIndexEntry)}
}

func (r *memoryIndexRepo) StoreSignalTypeIndex(_ context.Context, signalType string, idx index.Index, cp biz.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[signalType] = &memoryIndexEntry{idx: idx, cp: cp}
	return nil
}

func (r *memoryIndexRepo) GetLastIndexBuildCheckpoint(_ context.Context, signalType string) (*biz.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[signalType]
	if !ok {
		return nil, nil
	}
	cp := e.cp
	return &cp, nil
}

func (r *memoryIndexRepo) LoadSignalTypeIndex(_ context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[signalType]
	if !ok {
		return nil, nil, nil
	}
	cp := e.cp
	return e.idx, &cp, nil
}
