package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"hashmatch/internal/pkg/index"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// asyncRefreshTimeout bounds a background refresh started by a stale read.
const asyncRefreshTimeout = 2 * time.Minute

// IndexSnapshot is one immutable view of a signal type's index. A nil
// Index means no index has been published yet.
type IndexSnapshot struct {
	Index      index.Index
	Checkpoint Checkpoint
	CheckedAt  time.Time
}

// IndexStatus summarises a cached snapshot.
type IndexStatus struct {
	Present bool       `json:"present"`
	BuiltTo Checkpoint `json:"built_to"`
	Size    int        `json:"size"`
	// CheckedAt is when the index store was last consulted.
	CheckedAt time.Time `json:"checked_at"`
}

// CorruptionReporter is told when a stored index cannot be loaded.
type CorruptionReporter interface {
	MarkCorrupt(signalType string)
}

// IndexCache keeps the latest index for each signal type in memory.
// Readers take a snapshot pointer and keep using it for the whole query,
// so a concurrent publish never changes the index under a running query.
type IndexCache struct {
	repo       IndexRepo
	reporter   CorruptionReporter
	clock      Clock
	staleAfter time.Duration
	log        *log.Helper

	group   singleflight.Group
	slots   sync.Map // signal type -> *atomic.Pointer[IndexSnapshot]
	pending sync.Map // signal types with a background refresh running
}

// NewIndexCache creates an IndexCache. When builder is non-nil, its
// publishes are installed directly and corrupt loads schedule a rebuild.
func NewIndexCache(repo IndexRepo, builder *IndexBuilder, clock Clock, staleAfter time.Duration, logger log.Logger) *IndexCache {
	c := &IndexCache{
		repo:       repo,
		clock:      clock,
		staleAfter: staleAfter,
		log:        log.NewHelper(log.With(logger, "module", "biz/index_cache")),
	}
	if builder != nil {
		c.reporter = builder
		builder.OnPublish(c.Install)
	}
	return c
}

func (c *IndexCache) slot(signalType string) *atomic.Pointer[IndexSnapshot] {
	if p, ok := c.slots.Load(signalType); ok {
		return p.(*atomic.Pointer[IndexSnapshot])
	}
	p, _ := c.slots.LoadOrStore(signalType, new(atomic.Pointer[IndexSnapshot]))
	return p.(*atomic.Pointer[IndexSnapshot])
}

// Get returns the current snapshot, loading it synchronously the first
// time and refreshing it in the background once it is stale. The snapshot
// is nil only if the very first load failed.
func (c *IndexCache) Get(ctx context.Context, signalType string) (*IndexSnapshot, error) {
	slot := c.slot(signalType)
	snap := slot.Load()
	if snap == nil {
		err := c.Refresh(ctx, signalType)
		if snap = slot.Load(); snap == nil {
			return nil, err
		}
		return snap, nil
	}
	if c.clock.Now().Sub(snap.CheckedAt) > c.staleAfter {
		if _, running := c.pending.LoadOrStore(signalType, struct{}{}); running {
			return snap, nil
		}
		go func() {
			defer c.pending.Delete(signalType)
			ctx, cancel := context.WithTimeout(context.Background(), asyncRefreshTimeout)
			defer cancel()
			if err := c.Refresh(ctx, signalType); err != nil {
				c.log.Warnf("background refresh of %s index failed: %v", signalType, err)
			}
		}()
	}
	return snap, nil
}

// Refresh consults the index store and loads the blob only if the stored
// checkpoint moved. Concurrent refreshes of one type share a single load.
func (c *IndexCache) Refresh(ctx context.Context, signalType string) error {
	_, err, _ := c.group.Do(signalType, func() (any, error) {
		return nil, c.refresh(ctx, signalType)
	})
	return err
}

func (c *IndexCache) refresh(ctx context.Context, signalType string) error {
	slot := c.slot(signalType)
	cur := slot.Load()
	now := c.clock.Now()

	cp, err := c.repo.GetLastIndexBuildCheckpoint(ctx, signalType)
	if err != nil {
		return ErrIndexUnavailable.WithCause(err)
	}
	if cp == nil {
		c.swap(slot, cur, &IndexSnapshot{CheckedAt: now})
		return nil
	}
	if cur != nil && cur.Index != nil && cur.Checkpoint == *cp {
		c.swap(slot, cur, &IndexSnapshot{Index: cur.Index, Checkpoint: cur.Checkpoint, CheckedAt: now})
		return nil
	}

	idx, loaded, err := c.repo.LoadSignalTypeIndex(ctx, signalType)
	if err != nil {
		if errors.Is(err, index.ErrCorruptIndex) {
			c.log.Errorf("stored %s index is corrupt: %v", signalType, err)
			if c.reporter != nil {
				c.reporter.MarkCorrupt(signalType)
			}
			// Keep serving what we had; remember we looked.
			next := &IndexSnapshot{CheckedAt: now}
			if cur != nil {
				next.Index, next.Checkpoint = cur.Index, cur.Checkpoint
			}
			c.swap(slot, cur, next)
			return ErrCorruptIndex.WithCause(err)
		}
		return ErrIndexUnavailable.WithCause(err)
	}
	if idx == nil || loaded == nil {
		c.swap(slot, cur, &IndexSnapshot{CheckedAt: now})
		return nil
	}
	if c.swap(slot, cur, &IndexSnapshot{Index: idx, Checkpoint: *loaded, CheckedAt: now}) {
		c.log.Infof("loaded %s index: %d entries built to %s", signalType, idx.Len(), loaded)
	}
	return nil
}

// swap installs next unless someone else replaced cur in the meantime.
func (c *IndexCache) swap(slot *atomic.Pointer[IndexSnapshot], cur, next *IndexSnapshot) bool {
	return slot.CompareAndSwap(cur, next)
}

// Install publishes a freshly built index without a store round trip.
func (c *IndexCache) Install(signalType string, idx index.Index, cp Checkpoint) {
	c.slot(signalType).Store(&IndexSnapshot{Index: idx, Checkpoint: cp, CheckedAt: c.clock.Now()})
	c.log.Infof("installed %s index built to %s", signalType, cp)
}

// RefreshAll refreshes every named type and returns the joined errors.
func (c *IndexCache) RefreshAll(ctx context.Context, signalTypes []string) error {
	var errs []error
	for _, st := range signalTypes {
		if err := c.Refresh(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports the cached snapshot for signalType without loading it.
func (c *IndexCache) Status(signalType string) IndexStatus {
	snap := c.slot(signalType).Load()
	if snap == nil {
		return IndexStatus{}
	}
	st := IndexStatus{CheckedAt: snap.CheckedAt}
	if snap.Index != nil {
		st.Present = true
		st.BuiltTo = snap.Checkpoint
		st.Size = snap.Index.Len()
	}
	return st
}
