package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/index"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// s3IndexRepo is a two-phase object store publish: the blob goes to
// {prefix}/{signal type}/{uuid}.idx, then {prefix}/{signal type}/CURRENT.json
// is overwritten to point at it. Object PUTs are atomic, so readers see the
// old pointer or the new one. The blob a pointer replaced is kept until the
// following publish.
type s3IndexRepo struct {
	client S3Client
	bucket string
	prefix string
	log    *log.Helper
}

var _ biz.IndexRepo = (*s3IndexRepo)(nil)

// NewS3IndexRepo creates an index store in bucket under prefix.
func NewS3IndexRepo(client S3Client, bucket, prefix string, logger log.Logger) biz.IndexRepo {
	return &s3IndexRepo{client: client, bucket: bucket, prefix: prefix, log: log.NewHelper(logger)}
}

// key builds the full S3 object key for the given storage path.
func (r *s3IndexRepo) key(parts ...string) string {
	if r.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{r.prefix}, parts...)...)
}

func (r *s3IndexRepo) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

func (r *s3IndexRepo) get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (r *s3IndexRepo) StoreSignalTypeIndex(ctx context.Context, signalType string, idx index.Index, cp biz.Checkpoint) error {
	blob, err := encodeIndex(signalType, idx)
	if err != nil {
		return err
	}
	prev, err := r.readPointer(ctx, signalType)
	if err != nil {
		r.log.Warnf("read previous %s pointer: %v", signalType, err)
		prev = nil
	}

	blobKey := r.key(signalType, uuid.NewString()+blobSuffix)
	if err := r.put(ctx, blobKey, blob, "application/octet-stream"); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	ptr, err := json.Marshal(indexPointer{
		SignalType:  signalType,
		Blob:        blobKey,
		Previous:    previousBlob(prev, blobKey),
		Checkpoint:  cp,
		Entries:     idx.Len(),
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := r.put(ctx, r.key(signalType, "CURRENT.json"), ptr, "application/json"); err != nil {
		return fmt.Errorf("put pointer: %w", err)
	}
	if old := retired(prev, blobKey); old != "" {
		if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(old),
		}); err != nil {
			r.log.Warnf("delete old %s blob %s: %v", signalType, old, err)
		}
	}
	return nil
}

func (r *s3IndexRepo) readPointer(ctx context.Context, signalType string) (*indexPointer, error) {
	body, err := r.get(ctx, r.key(signalType, "CURRENT.json"))
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()
	var ptr indexPointer
	if err := json.NewDecoder(body).Decode(&ptr); err != nil {
		return nil, fmt.Errorf("%w: bad pointer: %v", index.ErrCorruptIndex, err)
	}
	return &ptr, nil
}

func (r *s3IndexRepo) GetLastIndexBuildCheckpoint(ctx context.Context, signalType string) (*biz.Checkpoint, error) {
	ptr, err := r.readPointer(ctx, signalType)
	if err != nil || ptr == nil {
		return nil, err
	}
	return &ptr.Checkpoint, nil
}

func (r *s3IndexRepo) LoadSignalTypeIndex(ctx context.Context, signalType string) (index.Index, *biz.Checkpoint, error) {
	return loadCurrent(signalType,
		func() (*indexPointer, error) { return r.readPointer(ctx, signalType) },
		func(name string) (io.ReadCloser, error) {
			body, err := r.get(ctx, name)
			if isS3NotFound(err) {
				return nil, errBlobMissing
			}
			return body, err
		},
	)
}
