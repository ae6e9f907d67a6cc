package files

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/filealloc/internal/filestore"
	"github.com/dharsanguruparan/filealloc/internal/model"
	"github.com/dharsanguruparan/filealloc/internal/queue"
)

type submission struct {
	name    string
	payload any
	id      string
}

// fakeQueue keeps at most one job per id, like the real queues.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []submission
	err  error
}

func (q *fakeQueue) Submit(_ context.Context, name string, payload any, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	for _, j := range q.jobs {
		if j.id == id {
			return nil
		}
	}
	q.jobs = append(q.jobs, submission{name: name, payload: payload, id: id})
	return nil
}

func TestReceiveFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := f.upload(t, "data")
	q := &fakeQueue{}
	r := NewReceiver(NewManagers(f.manager), q, zerolog.Nop())

	ok, err := r.ReceiveFile(ctx, Notification{Bucket: "parts", Bucketname: key})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusUploaded, f.entry(t, key).Status)

	// A redelivered notification neither transitions nor enqueues again.
	ok, err = r.ReceiveFile(ctx, Notification{Bucket: "parts", Bucketname: key})
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, queue.ProcessFileTask, q.jobs[0].name)
	assert.Equal(t, key, q.jobs[0].id)
	assert.Equal(t, queue.ProcessFilePayload{Bucket: "parts", Bucketname: key}, q.jobs[0].payload)
}

func TestReceiveFileUnknownBucket(t *testing.T) {
	f := newFixture(t)
	r := NewReceiver(NewManagers(f.manager), &fakeQueue{}, zerolog.Nop())

	_, err := r.ReceiveFile(context.Background(), Notification{Bucket: "avatars", Bucketname: "x"})
	assert.ErrorIs(t, err, ErrUnknownBucket)
}

func TestReceiveFileUnknownEntry(t *testing.T) {
	f := newFixture(t)
	q := &fakeQueue{}
	r := NewReceiver(NewManagers(f.manager), q, zerolog.Nop())

	ok, err := r.ReceiveFile(context.Background(), Notification{Bucket: "parts", Bucketname: "ghost"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, q.jobs)
}

func TestReceiveFileQueueFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := f.upload(t, "data")
	q := &fakeQueue{err: errors.New("redis down")}
	r := NewReceiver(NewManagers(f.manager), q, zerolog.Nop())

	ok, err := r.ReceiveFile(ctx, Notification{Bucket: "parts", Bucketname: key})
	require.Error(t, err)
	assert.False(t, ok)

	// The entry is picked up later by the missed-files pass.
	pending, err := f.db.Table("parts").Open().GetUnprocessedEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.StatusUploaded, pending[0].Status)
}

func TestManagersLookup(t *testing.T) {
	db := newFixture(t).db
	ms := NewManagers(
		NewManager("parts", db.Table("parts"), nil),
		NewManager("avatars", db.Table("avatars"), nil),
	)
	assert.Equal(t, []string{"avatars", "parts"}, ms.Buckets())

	m, err := ms.Lookup("parts")
	require.NoError(t, err)
	assert.Equal(t, "parts", m.Bucket())

	_, err = ms.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownBucket)
}

func TestReceiveFileOtherBucketsKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	docs := NewManager("docs", f.db.Table("docs"), filestore.NewMemoryStore("docs"), WithLogger(zerolog.Nop()))
	key := f.upload(t, "data")
	q := &fakeQueue{}
	r := NewReceiver(NewManagers(f.manager, docs), q, zerolog.Nop())

	ok, err := r.ReceiveFile(ctx, Notification{Bucket: "docs", Bucketname: key})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, q.jobs)
	assert.Equal(t, model.StatusCreated, f.entry(t, key).Status)

	ok, err = r.ReceiveFile(ctx, Notification{Bucket: "parts", Bucketname: key})
	require.NoError(t, err)
	assert.True(t, ok)
}
