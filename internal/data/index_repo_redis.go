package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/index"
	pkgredis "hashmatch/internal/pkg/redis"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// blobGracePeriod keeps a replaced blob readable for loaders that fetched
// the old pointer just before a publish.
const blobGracePeriod = 5 * time.Minute

// redisIndexRepo stores blobs under {prefix}:{signal type}:{uuid} and the
// JSON pointer under {prefix}:{signal type}:current. SET on the pointer is
// the publish step.
type redisIndexRepo struct {
	cache  pkgredis.Cache
	prefix string
	log    *log.Helper
}

var _ biz.IndexRepo = (*redisIndexRepo)(nil)

// NewRedisIndexRepo creates an index store over cache.
func NewRedisIndexRepo(cache pkgredis.Cache, prefix string, logger log.Logger) biz.IndexRepo {
	return &redisIndexRepo{cache: cache, prefix: prefix, log: log.NewHelper(logger)}
}

func (r *redisIndexRepo) pointerKey(signalType string) string {
	return fmt.Sprintf("%s:%s:current", r.prefix, signalType)
}

func (r *redisIndexRepo) StoreSignalTypeIndex(ctx context.Context, signalType string, idx index.Index, cp biz.Checkpoint) error {
	blob, err := encodeIndex(signalType, idx)
	if err != nil {
		return err
	}
	prev, err := r.readPointer(ctx, signalType)
	if err != nil && !errors.Is(err, index.ErrCorruptIndex) {
		return err
	}

	blobKey := fmt.Sprintf("%s:%s:%s", r.prefix, signalType, uuid.NewString())
	if err := r.cache.SetBytes(ctx, blobKey, blob, 0); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	ptr, err := json.Marshal(indexPointer{
		SignalType:  signalType,
		Blob:        blobKey,
		Checkpoint:  cp,
		Entries:     idx.Len(),
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := r.cache.SetBytes(ctx, r.pointerKey(signalType), ptr, 0); err != nil {
		_, _ = r.cache.Del(ctx, blobKey)
		return fmt.Errorf("write pointer: %w", err)
	}
	if prev != nil && prev.Blob != blobKey {
		if _, err := r.cache.Expire(ctx, prev.Blob, int(blobGracePeriod.Seconds())); err != nil {
			r.log.Warnf("expire old %s blob: %v", signalType, err)
		}
	}
	return nil
}

func (r *redisIndexRepo) readPointer(ctx context.Context, signalType string) (*indexPointer, error) {
	data, err := r.cache.GetBytes(ctx, r.pointerKey(signalType))
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var ptr indexPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, fmt.Errorf("%w: bad pointer: %v", index.ErrCorruptIndex, err)
	}
	return &ptr, nil
}

func (r *redisIndexRepo) GetLastIndexBuildCheckpoint(ctx context.Context, signalType string) (*biz.Checkpoint, error) {
	ptr, err := r.readPointer(ctx, signalType)
	if err != nil || ptr == nil {
		return nil, err
	}
	return &ptr.Checkpoint, nil
}

func (r *redisIndexRepo) LoadSignalTypeIndex(ctx context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	return loadCurrent(signalType,
		func() (*indexPointer, error) { return r.readPointer(ctx, signalType) },
		func(name string) (io.ReadCloser, error) {
			blob, err := r.cache.GetBytes(ctx, name)
			if errors.Is(err, pkgredis.Nil) {
				return nil, errBlobMissing
			}
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(blob)), nil
		},
	)
}
