package alloc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/filealloc/internal/model"
)

// runTableSuite checks the Table contract; newTable must return tables that
// share one backing store.
func runTableSuite(t *testing.T, newTable func(bucket string) Table) {
	t.Run("CreateEntryGeneratesName", func(t *testing.T) {
		ctx := context.Background()
		ops := newTable("parts").Open()

		entry, err := ops.CreateEntry(ctx, "")
		require.NoError(t, err)
		assert.NotEmpty(t, entry.Bucketname)
		assert.Equal(t, "parts", entry.Bucket)
		assert.Equal(t, model.StatusCreated, entry.Status)
		assert.NotNil(t, entry.Creation)
		assert.Nil(t, entry.Size)
		assert.Nil(t, entry.Hash)
	})

	t.Run("CreateEntryExplicitConflict", func(t *testing.T) {
		ctx := context.Background()
		ops := newTable("parts").Open()

		_, err := ops.CreateEntry(ctx, "dup-key")
		require.NoError(t, err)
		_, err = newTable("other").Open().CreateEntry(ctx, "dup-key")
		assert.ErrorIs(t, err, ErrConflict, "bucketname is unique across buckets")
	})

	t.Run("SetAvailableOnlyFromCreated", func(t *testing.T) {
		ctx := context.Background()
		ops := newTable("parts").Open()
		entry, err := ops.CreateEntry(ctx, "")
		require.NoError(t, err)

		first, err := ops.SetAvailable(ctx, entry.Bucketname)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, model.StatusUploaded, first.Status)

		second, err := ops.SetAvailable(ctx, entry.Bucketname)
		require.NoError(t, err)
		assert.Nil(t, second)

		missing, err := ops.SetAvailable(ctx, "no-such-key")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("SetStatusKeepsSizeAndHashWhenNil", func(t *testing.T) {
		ctx := context.Background()
		ops := newTable("parts").Open()
		entry, err := ops.CreateEntry(ctx, "")
		require.NoError(t, err)

		size, hash := int64(42), "abc"
		n, err := ops.SetStatus(ctx, entry.Bucketname, model.StatusUploaded, &size, &hash)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = ops.SetRejected(ctx, entry.Bucketname, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		got, err := ops.GetEntry(ctx, entry.Bucketname)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, got.Status)
		require.NotNil(t, got.Size)
		assert.Equal(t, size, *got.Size)
		require.NotNil(t, got.Hash)
		assert.Equal(t, hash, *got.Hash)

		byHash, err := ops.GetEntriesByHash(ctx, hash)
		require.NoError(t, err)
		require.Len(t, byHash, 1)
		assert.Equal(t, entry.Bucketname, byHash[0].Bucketname)
	})

	t.Run("TerminalStatusIsFinal", func(t *testing.T) {
		ctx := context.Background()
		ops := newTable("final").Open()
		ready, err := ops.CreateEntry(ctx, "")
		require.NoError(t, err)
		rejected, err := ops.CreateEntry(ctx, "")
		require.NoError(t, err)

		size, hash := int64(7), "ready-hash"
		n, err := ops.SetReady(ctx, ready.Bucketname, &size, &hash)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		n, err = ops.SetRejected(ctx, rejected.Bucketname, nil, nil)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		other := "other-hash"
		for _, status := range []model.Status{model.StatusCreated, model.StatusUploaded, model.StatusRejected} {
			n, err = ops.SetStatus(ctx, ready.Bucketname, status, nil, &other)
			require.NoError(t, err)
			assert.Zero(t, n, "ready entry moved to %s", status)
		}
		n, err = ops.SetReady(ctx, rejected.Bucketname, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := ops.GetEntry(ctx, ready.Bucketname)
		require.NoError(t, err)
		assert.Equal(t, model.StatusReady, got.Status)
		require.NotNil(t, got.Hash)
		assert.Equal(t, hash, *got.Hash)
		got, err = ops.GetEntry(ctx, rejected.Bucketname)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, got.Status)
	})

	t.Run("SingleKeyOpsAreBucketScoped", func(t *testing.T) {
		ctx := context.Background()
		parts := newTable("scope-parts").Open()
		docs := newTable("scope-docs").Open()
		entry, err := parts.CreateEntry(ctx, "")
		require.NoError(t, err)
		key := entry.Bucketname

		got, err := docs.GetEntry(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)
		available, err := docs.SetAvailable(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, available)
		n, err := docs.SetReady(ctx, key, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = docs.SetCreation(ctx, key, time.Now().Add(-10*24*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = docs.DeleteEntry(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, n)
		listed, err := docs.GetEntries(ctx, []string{key})
		require.NoError(t, err)
		assert.Empty(t, listed)

		got, err = parts.GetEntry(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.StatusCreated, got.Status)
		assert.Equal(t, entry.Creation.Unix(), got.Creation.Unix())
	})

	t.Run("GetEntryMissing", func(t *testing.T) {
		entry, err := newTable("parts").Open().GetEntry(context.Background(), "nothing-here")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("KeepAndDeleteAreBucketScoped", func(t *testing.T) {
		ctx := context.Background()
		a := newTable("keep-a").Open()
		b := newTable("keep-b").Open()
		a1, _ := a.CreateEntry(ctx, "")
		a2, _ := a.CreateEntry(ctx, "")
		b1, _ := b.CreateEntry(ctx, "")

		n, err := a.KeepEntries(ctx, []string{a1.Bucketname})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := a.GetAllEntries(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, a1.Bucketname, all[0].Bucketname)
		gone, _ := a.GetEntry(ctx, a2.Bucketname)
		assert.Nil(t, gone)
		other, _ := b.GetEntry(ctx, b1.Bucketname)
		assert.NotNil(t, other, "rows of other buckets survive")

		n, err = b.DeleteAllEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = a.DeleteEntries(ctx, []string{a1.Bucketname, "unknown"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("AgedSelections", func(t *testing.T) {
		ctx := context.Background()
		ops := newTable("aged").Open()
		old := time.Now().Add(-4 * 24 * time.Hour)

		oldCreated, _ := ops.CreateEntry(ctx, "")
		oldUploaded, _ := ops.CreateEntry(ctx, "")
		oldReady, _ := ops.CreateEntry(ctx, "")
		fresh, _ := ops.CreateEntry(ctx, "")
		for _, e := range []*model.FileEntry{oldCreated, oldUploaded, oldReady} {
			_, err := ops.SetCreation(ctx, e.Bucketname, old)
			require.NoError(t, err)
		}
		_, err := ops.SetAvailable(ctx, oldUploaded.Bucketname)
		require.NoError(t, err)
		_, err = ops.SetReady(ctx, oldReady.Bucketname, nil, nil)
		require.NoError(t, err)

		pending, err := ops.GetUnprocessedEntries(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{oldCreated.Bucketname, oldUploaded.Bucketname}, names(pending))

		n, err := ops.DeleteOldEntries(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		left, err := ops.GetAllEntries(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{oldUploaded.Bucketname, oldReady.Bucketname, fresh.Bucketname}, names(left))
	})

	t.Run("TransactRollsBackOnError", func(t *testing.T) {
		ctx := context.Background()
		table := newTable("tx")
		boom := errors.New("boom")
		var created *model.FileEntry

		err := table.Transact(ctx, func(ops Ops) error {
			var err error
			created, err = ops.CreateEntry(ctx, "")
			if err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		require.NotNil(t, created)

		got, err := table.Open().GetEntry(ctx, created.Bucketname)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("TransactCommits", func(t *testing.T) {
		ctx := context.Background()
		table := newTable("tx")
		var created *model.FileEntry

		err := table.Transact(ctx, func(ops Ops) error {
			var err error
			created, err = ops.CreateEntry(ctx, "")
			return err
		})
		require.NoError(t, err)

		got, err := table.Open().GetEntry(ctx, created.Bucketname)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func names(entries []*model.FileEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Bucketname)
	}
	return out
}
