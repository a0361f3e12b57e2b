package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/index"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	currentPointerName = "CURRENT"
	blobSuffix         = ".idx"
)

// filesystemIndexRepo lays indices out as
//
//	{root}/{signal type}/{uuid}.idx   immutable blobs
//	{root}/{signal type}/CURRENT      JSON pointer to the live blob
//
// CURRENT is replaced by rename, which is atomic on POSIX filesystems.
type filesystemIndexRepo struct {
	root string
	log  *log.Helper
}

var _ biz.IndexRepo = (*filesystemIndexRepo)(nil)

// NewFilesystemIndexRepo creates root if needed.
func NewFilesystemIndexRepo(root string, logger log.Logger) (biz.IndexRepo, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &filesystemIndexRepo{root: root, log: log.NewHelper(logger)}, nil
}

func (r *filesystemIndexRepo) dir(signalType string) string {
	return filepath.Join(r.root, signalType)
}

func (r *filesystemIndexRepo) StoreSignalTypeIndex(_ context.Context, signalType string, idx index.Index, cp biz.Checkpoint) error {
	dir := r.dir(signalType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	blob, err := encodeIndex(signalType, idx)
	if err != nil {
		return err
	}
	prev, err := r.readPointer(signalType)
	if err != nil {
		r.log.Warnf("read previous %s pointer: %v", signalType, err)
		prev = nil
	}

	name := uuid.NewString() + blobSuffix
	if err := writeFileAtomic(filepath.Join(dir, name), blob); err != nil {
		return err
	}
	ptr, err := json.Marshal(indexPointer{
		SignalType:  signalType,
		Blob:        name,
		Previous:    previousBlob(prev, name),
		Checkpoint:  cp,
		Entries:     idx.Len(),
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, currentPointerName), ptr); err != nil {
		os.Remove(filepath.Join(dir, name))
		return err
	}
	r.gc(dir, name, previousBlob(prev, name))
	return nil
}

// gc removes every blob except the live one and the one it replaced.
func (r *filesystemIndexRepo) gc(dir string, keep ...string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log.Warnf("index gc: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || slices.Contains(keep, e.Name()) || !strings.HasSuffix(e.Name(), blobSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.log.Warnf("index gc: %v", err)
		}
	}
}

func (r *filesystemIndexRepo) readPointer(signalType string) (*indexPointer, error) {
	data, err := os.ReadFile(filepath.Join(r.dir(signalType), currentPointerName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

func (r *filesystemIndexRepo) GetLastIndexBuildCheckpoint(_ context.Context, signalType string) (*biz.Checkpoint, error) {
	ptr, err := r.readPointer(signalType)
	if err != nil || ptr == nil {
		return nil, err
	}
	return &ptr.Checkpoint, nil
}

func (r *filesystemIndexRepo) LoadSignalTypeIndex(_ context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	return loadCurrent(signalType,
		func() (*indexPointer, error) { return r.readPointer(signalType) },
		func(name string) (io.ReadCloser, error) {
			f, err := os.Open(filepath.Join(r.dir(signalType), filepath.Base(name)))
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errBlobMissing
			}
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	)
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
