package data

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/conf"
	"hashmatch/internal/pkg/index"

	"github.com/go-kratos/kratos/v2/log"
)

// indexPointer names the blob that is current for a signal type. Stores
// that keep blob and pointer apart publish by writing the blob first and
// then replacing the pointer in one atomic step.
type indexPointer struct {
	SignalType  string         `json:"signal_type"`
	Blob        string         `json:"blob"`
	// Previous is the blob this one replaced. It stays readable until the
	// next publish so loaders holding the old pointer can finish.
	Previous    string         `json:"previous,omitempty"`
	Checkpoint  biz.Checkpoint `json:"checkpoint"`
	Entries     int            `json:"entries"`
	PublishedAt time.Time      `json:"published_at"`
}

// NewIndexRepo selects the index store named by data.index_store.driver.
func NewIndexRepo(d *Data, c *conf.Data, logger log.Logger) (biz.IndexRepo, error) {
	is := c.GetIndexStore()
	switch is.GetDriver() {
	case DriverMemory:
		return NewMemoryIndexRepo(), nil
	case DriverFilesystem:
		if is.Path == "" {
			return nil, fmt.Errorf("data.index_store.path is required for the filesystem driver")
		}
		return NewFilesystemIndexRepo(is.Path, logger)
	case DriverPostgres:
		return NewPostgresIndexRepo(d, logger), nil
	case DriverRedis:
		return NewRedisIndexRepo(d.Cache, is.GetKeyPrefix(), logger), nil
	case DriverS3:
		s3c := c.GetS3()
		if s3c == nil || s3c.Bucket == "" {
			return nil, fmt.Errorf("data.s3.bucket is required for the s3 driver")
		}
		return NewS3IndexRepo(d.S3, s3c.Bucket, s3c.Prefix, logger), nil
	}
	return nil, fmt.Errorf("unknown index store driver %q", is.GetDriver())
}

func encodeIndex(signalType string, idx index.Index) ([]byte, error) {
	var buf bytes.Buffer
	if err := index.Encode(&buf, signalType, idx); err != nil {
		return nil, fmt.Errorf("encode %s index: %w", signalType, err)
	}
	return buf.Bytes(), nil
}

// decodeIndex rejects blobs written for another signal type.
func decodeIndex(signalType string, r io.Reader) (index.Index, error) {
	name, idx, err := index.Decode(r)
	if err != nil {
		return nil, err
	}
	if name != signalType {
		return nil, fmt.Errorf("%w: blob holds %q, want %q", index.ErrCorruptIndex, name, signalType)
	}
	return idx, nil
}

// errBlobMissing is returned by blob readers when the named blob is gone.
var errBlobMissing = errors.New("blob missing")

// loadCurrent reads the pointer and then the blob it names. A blob that
// disappears between the two reads was replaced by a concurrent publish, so
// the pointer is read once more before the index is declared corrupt.
func loadCurrent(
	signalType string,
	readPointer func() (*indexPointer, error),
	readBlob func(name string) (io.ReadCloser, error),
) (index.Index, *biz.Checkpoint, error) {
	var missing string
	for attempt := 0; attempt < 2; attempt++ {
		ptr, err := readPointer()
		if err != nil || ptr == nil {
			return nil, nil, err
		}
		if ptr.Blob == missing {
			break
		}
		body, err := readBlob(ptr.Blob)
		if errors.Is(err, errBlobMissing) {
			missing = ptr.Blob
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		idx, err := decodeIndex(signalType, body)
		body.Close()
		if err != nil {
			return nil, nil, err
		}
		return idx, &ptr.Checkpoint, nil
	}
	return nil, nil, fmt.Errorf("%w: pointer names missing blob %s", index.ErrCorruptIndex, missing)
}

// retired returns the blob that may be deleted once next replaces prev:
// the one prev itself had replaced.
func retired(prev *indexPointer, next string) string {
	if prev == nil || prev.Previous == "" || prev.Previous == next || prev.Previous == prev.Blob {
		return ""
	}
	return prev.Previous
}

// previousBlob is the Previous field for a pointer replacing prev.
func previousBlob(prev *indexPointer, next string) string {
	if prev == nil || prev.Blob == next {
		return ""
	}
	return prev.Blob
}
