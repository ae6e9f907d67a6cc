package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/filealloc/internal/config"
)

// errAbsent marks a backend answer meaning "no such object".
var errAbsent = errors.New("object absent")

// MinioStore implements FileStore on top of a MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
}

var _ FileStore = (*MinioStore)(nil)

// NewMinioClient creates a MinIO client from the Config.
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return client, nil
}

// NewMinioStore binds client to one bucket. ttl bounds the lifetime of the
// pre-signed URLs.
func NewMinioStore(client *minio.Client, bucket, region string, ttl time.Duration) *MinioStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MinioStore{client: client, bucket: bucket, region: region, ttl: ttl}
}

// EnsureBucket makes sure the bucket exists before use.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, classify(err))
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *MinioStore) GetPostURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, classify(err))
	}
	return u.String(), nil
}

func (s *MinioStore) GetSignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, classify(err))
	}
	return u.String(), nil
}

func (s *MinioStore) CreateObject(ctx context.Context, key string, body io.Reader, size int64) error {
	return s.PutObject(ctx, key, body, size, "")
}

func (s *MinioStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts); err != nil {
		return fmt.Errorf("put object %s: %w", key, classify(err))
	}
	return nil
}

func (s *MinioStore) GetObject(ctx context.Context, key string) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, absentOr(fmt.Errorf("get object %s", key), err)
	}
	// GetObject is lazy; Stat performs the request and surfaces NoSuchKey.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, absentOr(fmt.Errorf("stat object %s", key), err)
	}
	return &Object{ObjectInfo: infoFromMinio(info), Body: obj}, nil
}

func (s *MinioStore) GetObjectInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, absentOr(fmt.Errorf("stat object %s", key), err)
	}
	out := infoFromMinio(info)
	return &out, nil
}

func (s *MinioStore) GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.GetObject(ctx, key)
	if err != nil || obj == nil {
		return nil, err
	}
	return obj.Body, nil
}

func (s *MinioStore) DeleteObject(ctx context.Context, key string) (bool, error) {
	exists, err := s.CheckObjectExists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove object %s: %w", key, classify(err))
	}
	return true, nil
}

func (s *MinioStore) DeleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)
	return removeErrors(s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}))
}

// removeErrors drains a RemoveObjects result channel. Keys that were already
// gone count as deleted.
func removeErrors(results <-chan minio.RemoveObjectError) error {
	var errs []error
	for rerr := range results {
		err := classify(rerr.Err)
		if errors.Is(err, errAbsent) {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", rerr.ObjectName, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("remove %d object(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (s *MinioStore) ListObjects(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", classify(obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinioStore) CheckObjectExists(ctx context.Context, key string) (bool, error) {
	info, err := s.GetObjectInfo(ctx, key)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (s *MinioStore) CopyObjects(ctx context.Context, keys []string, srcBucket string) error {
	for _, key := range keys {
		dst := minio.CopyDestOptions{Bucket: s.bucket, Object: key}
		src := minio.CopySrcOptions{Bucket: srcBucket, Object: key}
		if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
			return fmt.Errorf("copy %s/%s: %w", srcBucket, key, classify(err))
		}
	}
	return nil
}

// Close is a no-op: minio clients hold no resources beyond the HTTP transport.
func (s *MinioStore) Close() error {
	return nil
}

func infoFromMinio(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{Size: info.Size, Hash: info.ETag, Creation: info.LastModified}
}

// classify maps S3 error codes onto the package's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return errAbsent
	case "AccessDenied":
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}

// absentOr returns nil when err means the object does not exist and the
// wrapped error otherwise.
func absentOr(prefix error, err error) error {
	cerr := classify(err)
	if errors.Is(cerr, errAbsent) {
		return nil
	}
	return fmt.Errorf("%v: %w", prefix, cerr)
}
