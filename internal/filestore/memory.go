package filestore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/filealloc/internal/signing"
)

var (
	// ErrBucketNotFound is returned when a memory bucket was never created.
	ErrBucketNotFound = errors.New("bucket not found")
)

type memObject struct {
	data     []byte
	creation time.Time
}

// MemoryBackend holds several in-memory buckets that share one URL space, the
// way buckets of an S3 endpoint do.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]*MemoryStore
	baseURL string
	signer  *signing.Signer
	ttl     time.Duration
}

// NewMemoryBackend constructs a MemoryBackend. URLs are built as
// baseURL/blobs/<bucket>/<key>; when signer is nil they carry no signature.
func NewMemoryBackend(baseURL string, signer *signing.Signer, ttl time.Duration) *MemoryBackend {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MemoryBackend{
		buckets: make(map[string]*MemoryStore),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		signer:  signer,
		ttl:     ttl,
	}
}

// Bucket returns the store for name, creating it on first use.
func (b *MemoryBackend) Bucket(name string) *MemoryStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.buckets[name]; ok {
		return s
	}
	s := &MemoryStore{
		backend: b,
		bucket:  name,
		objects: make(map[string]*memObject),
		now:     time.Now,
	}
	b.buckets[name] = s
	return s
}

// Lookup returns the existing store for name.
func (b *MemoryBackend) Lookup(name string) (*MemoryStore, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.buckets[name]
	return s, ok
}

// Verify checks a signed blob URL issued by this backend.
func (b *MemoryBackend) Verify(method, bucket, key, expires, signature string) error {
	if b.signer == nil {
		return nil
	}
	return b.signer.Verify(method, bucket+"/"+key, expires, signature)
}

func (b *MemoryBackend) url(method, bucket, key string) string {
	base := fmt.Sprintf("%s/blobs/%s/%s", b.baseURL, bucket, url.PathEscape(key))
	if b.signer == nil {
		return base
	}
	exp := time.Now().Add(b.ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("signature", b.signer.Sign(method, bucket+"/"+key, exp))
	return base + "?" + q.Encode()
}

// MemoryStore is a map-backed FileStore used by tests and the single binary
// development mode.
type MemoryStore struct {
	backend *MemoryBackend
	bucket  string

	mu      sync.RWMutex
	objects map[string]*memObject
	now     func() time.Time
}

// NewMemoryStore returns a standalone in-memory store for bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return NewMemoryBackend("memory://", nil, 0).Bucket(bucket)
}

var _ FileStore = (*MemoryStore)(nil)

// Bucket returns the bucket name.
func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// Clear removes every object.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[string]*memObject)
}

func (m *MemoryStore) GetPostURL(_ context.Context, key string) (string, error) {
	return m.backend.url(http.MethodPut, m.bucket, key), nil
}

func (m *MemoryStore) GetSignedURL(_ context.Context, key string) (string, error) {
	return m.backend.url(http.MethodGet, m.bucket, key), nil
}

func (m *MemoryStore) CreateObject(ctx context.Context, key string, body io.Reader, size int64) error {
	return m.PutObject(ctx, key, body, size, "")
}

func (m *MemoryStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &memObject{data: data, creation: m.now().UTC()}
	return nil
}

func (m *MemoryStore) GetObject(_ context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	return &Object{
		ObjectInfo: infoOf(obj),
		Body:       io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

func (m *MemoryStore) GetObjectInfo(_ context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	info := infoOf(obj)
	return &info, nil
}

func (m *MemoryStore) GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.GetObject(ctx, key)
	if err != nil || obj == nil {
		return nil, err
	}
	return obj.Body, nil
}

func (m *MemoryStore) DeleteObject(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	return true, nil
}

func (m *MemoryStore) DeleteObjects(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

func (m *MemoryStore) ListObjects(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) CheckObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) CopyObjects(ctx context.Context, keys []string, srcBucket string) error {
	src, ok := m.backend.Lookup(srcBucket)
	if !ok {
		return fmt.Errorf("copy from %s: %w", srcBucket, ErrBucketNotFound)
	}
	for _, key := range keys {
		src.mu.RLock()
		obj, ok := src.objects[key]
		src.mu.RUnlock()
		if !ok {
			return fmt.Errorf("copy %s/%s: object not found", srcBucket, key)
		}
		if err := m.PutObject(ctx, key, bytes.NewReader(obj.data), int64(len(obj.data)), ""); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func infoOf(obj *memObject) ObjectInfo {
	sum := md5.Sum(obj.data)
	return ObjectInfo{
		Size:     int64(len(obj.data)),
		Hash:     hex.EncodeToString(sum[:]),
		Creation: obj.creation,
	}
}
