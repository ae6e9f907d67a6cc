package filestore

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/filealloc/internal/signing"
)

func TestMemoryStoreObjectLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("parts")

	obj, err := store.GetObject(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, obj, "absent objects are reported with nil, not an error")

	require.NoError(t, store.CreateObject(ctx, "a", strings.NewReader("hello"), 5))

	info, err := store.GetObjectInfo(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", info.Hash)

	obj, err = store.GetObject(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, obj)
	defer obj.Close()
	data, err := obj.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	// ReadAll caches, so a second policy sees the same bytes.
	again, err := obj.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	exists, err := store.CheckObjectExists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := store.DeleteObject(ctx, "a")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteObject(ctx, "a")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStoreListAndBatchDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("parts")
	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, store.PutObject(ctx, key, strings.NewReader(key), 1, "text/plain"))
	}

	keys, err := store.ListObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, store.DeleteObjects(ctx, []string{"a", "c", "unknown"}))
	keys, err = store.ListObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestMemoryStoreCopyObjects(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("http://localhost:8080", nil, 0)
	src := backend.Bucket("archive")
	dst := backend.Bucket("parts")
	require.NoError(t, src.CreateObject(ctx, "k1", strings.NewReader("one"), 3))

	require.NoError(t, dst.CopyObjects(ctx, []string{"k1"}, "archive"))
	stream, err := dst.GetObjectStream(ctx, "k1")
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	assert.ErrorIs(t, dst.CopyObjects(ctx, []string{"k1"}, "nope"), ErrBucketNotFound)
}

func TestMemoryBackendSignedURLs(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("http://localhost:8080/", signing.NewSigner([]byte("s3cret")), time.Minute)
	store := backend.Bucket("parts")

	raw, err := store.GetPostURL(ctx, "file-1")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/parts/file-1", u.Path)

	q := u.Query()
	require.NoError(t, backend.Verify("PUT", "parts", "file-1", q.Get("expires"), q.Get("signature")))
	assert.Error(t, backend.Verify("GET", "parts", "file-1", q.Get("expires"), q.Get("signature")))
	assert.Error(t, backend.Verify("PUT", "parts", "file-2", q.Get("expires"), q.Get("signature")))
}
