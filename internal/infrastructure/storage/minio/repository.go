package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeArtifactNotFound, "object not found")
	ErrUploadFailed   = errors.New(errors.ErrCodeArtifactWriteFailed, "upload failed")
	ErrDownloadFailed = errors.New(errors.ErrCodeInternal, "download failed")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

const noSuchKey = "NoSuchKey"

// ArtifactStore keeps run artifacts as objects in a single bucket.
type ArtifactStore struct {
	client *Client
	logger logging.Logger
}

// NewArtifactStore returns a store backed by client's bucket.
func NewArtifactStore(client *Client, log logging.Logger) *ArtifactStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ArtifactStore{client: client, logger: log.Named("artifacts")}
}

// Put uploads data under key. An empty content type is sniffed from the
// payload.
func (s *ArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return ErrInvalidRequest.WithDetail("empty object key")
	}
	if contentType == "" && len(data) > 0 {
		contentType = http.DetectContentType(data[:min(512, len(data))])
	}

	info, err := s.client.API().PutObject(ctx, s.client.Bucket(), key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ErrUploadFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	s.logger.Debug("object uploaded",
		logging.String("key", key),
		logging.Int64("size", info.Size),
		logging.String("etag", info.ETag))
	return nil
}

// Get downloads the object stored under key.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	api := s.client.API()
	bucket := s.client.Bucket()

	if _, err := api.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKey {
			return nil, ErrObjectNotFound.WithDetailf("key=%s", key)
		}
		return nil, ErrDownloadFailed.WithDetailf("key=%s", key).WithCause(err)
	}

	obj, err := api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ErrDownloadFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, ErrDownloadFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	return data, nil
}

// Delete removes the object under key. Missing objects are not an error.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	if err := s.client.API().RemoveObject(ctx, s.client.Bucket(), key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKey {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "remove object failed").WithDetailf("key=%s", key)
	}
	s.logger.Debug("object removed", logging.String("key", key))
	return nil
}

// List returns the sorted keys under prefix.
func (s *ArtifactStore) List(ctx context.Context, prefix string) ([]string, error) {
	ch := s.client.API().ListObjects(ctx, s.client.Bucket(), minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	var keys []string
	for obj := range ch {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeInternal, "list objects failed").WithDetailf("prefix=%s", prefix)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
