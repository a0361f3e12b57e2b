package data

import (
	"bytes"
	"context"
	"errors"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/index"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
)

// indexRepo keeps one signal_index row per signal type. Blob and
// checkpoint live in the same row, so a single upsert publishes both.
type indexRepo struct {
	data *Data
	log  *log.Helper
}

var _ biz.IndexRepo = (*indexRepo)(nil)

// NewPostgresIndexRepo creates an index store over the data pool.
func NewPostgresIndexRepo(data *Data, logger log.Logger) biz.IndexRepo {
	return &indexRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// StoreSignalTypeIndex implements biz.IndexRepo.
func (r *indexRepo) StoreSignalTypeIndex(ctx context.Context, signalType string, idx index.Index, cp biz.Checkpoint) error {
	blob, err := encodeIndex(signalType, idx)
	if err != nil {
		return err
	}
	_, err = r.data.Pool.Exec(ctx,
		`INSERT INTO signal_index (signal_type, blob, updated_to_ts, updated_to_id, signal_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (signal_type) DO UPDATE SET
		     blob = EXCLUDED.blob,
		     updated_to_ts = EXCLUDED.updated_to_ts,
		     updated_to_id = EXCLUDED.updated_to_id,
		     signal_count = EXCLUDED.signal_count,
		     updated_at = EXCLUDED.updated_at`,
		signalType, blob, cp.LastItemTimestamp, cp.LastItemID, cp.TotalHashCount)
	if err == nil {
		r.log.Debugf("stored %s index blob of %d bytes", signalType, len(blob))
	}
	return err
}

// GetLastIndexBuildCheckpoint implements biz.IndexRepo without reading the blob.
func (r *indexRepo) GetLastIndexBuildCheckpoint(ctx context.Context, signalType string) (*biz.Checkpoint, error) {
	var cp biz.Checkpoint
	err := r.data.Pool.QueryRow(ctx,
		`SELECT updated_to_ts, updated_to_id, signal_count FROM signal_index WHERE signal_type = $1`,
		signalType,
	).Scan(&cp.LastItemTimestamp, &cp.LastItemID, &cp.TotalHashCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// LoadSignalTypeIndex implements biz.IndexRepo.
func (r *indexRepo) LoadSignalTypeIndex(ctx context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	var (
		cp   biz.Checkpoint
		blob []byte
	)
	err := r.data.Pool.QueryRow(ctx,
		`SELECT blob, updated_to_ts, updated_to_id, signal_count FROM signal_index WHERE signal_type = $1`,
		signalType,
	).Scan(&blob, &cp.LastItemTimestamp, &cp.LastItemID, &cp.TotalHashCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	idx, err := decodeIndex(signalType, bytes.NewReader(blob))
	if err != nil {
		return nil, nil, err
	}
	return idx, &cp, nil
}
