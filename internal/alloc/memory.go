package alloc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/filealloc/internal/model"
)

// MemoryDB is an in-memory alloc table shared by every bucket, mirroring the
// single Postgres table. Transactions work on a copy of the rows that is
// swapped in on commit, so they are serializable.
type MemoryDB struct {
	mu     sync.Mutex
	state  *memState
	Now    func() time.Time
	NewKey func() string
}

type memState struct {
	rows   map[string]*model.FileEntry
	nextID int64
}

// NewMemoryDB returns an empty MemoryDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		state:  &memState{rows: make(map[string]*model.FileEntry), nextID: 1},
		Now:    time.Now,
		NewKey: uuid.NewString,
	}
}

// Table returns a Table scoped to bucket.
func (db *MemoryDB) Table(bucket string) *MemoryTable {
	return &MemoryTable{db: db, bucket: bucket}
}

func (s *memState) clone() *memState {
	c := &memState{rows: make(map[string]*model.FileEntry, len(s.rows)), nextID: s.nextID}
	for k, v := range s.rows {
		c.rows[k] = copyEntry(v)
	}
	return c
}

// MemoryTable is a Table over a MemoryDB.
type MemoryTable struct {
	db     *MemoryDB
	bucket string
}

var _ Table = (*MemoryTable)(nil)

func (t *MemoryTable) Bucket() string {
	return t.bucket
}

func (t *MemoryTable) Transact(ctx context.Context, fn func(ops Ops) error) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	snapshot := t.db.state.clone()
	if err := fn(&memOps{t: t, tx: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.db.state = snapshot
	return nil
}

func (t *MemoryTable) Open() Ops {
	return &memOps{t: t}
}

// memOps runs against tx when bound to a transaction and against the shared
// state under the lock otherwise.
type memOps struct {
	t  *MemoryTable
	tx *memState
}

func (o *memOps) with(fn func(s *memState) error) error {
	if o.tx != nil {
		return fn(o.tx)
	}
	o.t.db.mu.Lock()
	defer o.t.db.mu.Unlock()
	return fn(o.t.db.state)
}

func (o *memOps) CreateEntry(_ context.Context, bucketname string) (*model.FileEntry, error) {
	var out *model.FileEntry
	err := o.with(func(s *memState) error {
		name := bucketname
		if name == "" {
			for attempt := 0; attempt < maxInsertAttempts; attempt++ {
				if candidate := o.t.db.NewKey(); s.rows[candidate] == nil {
					name = candidate
					break
				}
			}
			if name == "" {
				return fmt.Errorf("insert entry: no unique bucketname after %d attempts", maxInsertAttempts)
			}
		} else if s.rows[name] != nil {
			return fmt.Errorf("%w: %s", ErrConflict, name)
		}
		now := o.t.db.Now().UTC()
		entry := &model.FileEntry{
			ID:         s.nextID,
			Bucket:     o.t.bucket,
			Bucketname: name,
			Status:     model.StatusCreated,
			Creation:   &now,
		}
		s.nextID++
		s.rows[name] = entry
		out = copyEntry(entry)
		return nil
	})
	return out, err
}

func (o *memOps) SetAvailable(_ context.Context, bucketname string) (*model.FileEntry, error) {
	var out *model.FileEntry
	err := o.with(func(s *memState) error {
		entry := o.row(s, bucketname)
		if entry == nil || entry.Status != model.StatusCreated {
			return nil
		}
		entry.Status = model.StatusUploaded
		out = copyEntry(entry)
		return nil
	})
	return out, err
}

func (o *memOps) SetStatus(_ context.Context, bucketname string, status model.Status, size *int64, hash *string) (int64, error) {
	var n int64
	err := o.with(func(s *memState) error {
		entry := o.row(s, bucketname)
		if entry == nil || entry.Status.Terminal() {
			return nil
		}
		entry.Status = status
		if size != nil {
			v := *size
			entry.Size = &v
		}
		if hash != nil {
			v := *hash
			entry.Hash = &v
		}
		n = 1
		return nil
	})
	return n, err
}

func (o *memOps) SetReady(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error) {
	return o.SetStatus(ctx, bucketname, model.StatusReady, size, hash)
}

func (o *memOps) SetRejected(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error) {
	return o.SetStatus(ctx, bucketname, model.StatusRejected, size, hash)
}

func (o *memOps) SetCreation(_ context.Context, bucketname string, creation time.Time) (int64, error) {
	var n int64
	err := o.with(func(s *memState) error {
		if entry := o.row(s, bucketname); entry != nil {
			c := creation.UTC()
			entry.Creation = &c
			n = 1
		}
		return nil
	})
	return n, err
}

func (o *memOps) GetEntry(_ context.Context, bucketname string) (*model.FileEntry, error) {
	var out *model.FileEntry
	err := o.with(func(s *memState) error {
		if entry := o.row(s, bucketname); entry != nil {
			out = copyEntry(entry)
		}
		return nil
	})
	return out, err
}

func (o *memOps) GetEntries(_ context.Context, bucketnames []string) ([]*model.FileEntry, error) {
	wanted := toSet(bucketnames)
	return o.selectEntries(func(e *model.FileEntry) bool {
		_, ok := wanted[e.Bucketname]
		return ok
	})
}

func (o *memOps) GetAllEntries(_ context.Context) ([]*model.FileEntry, error) {
	return o.selectEntries(func(*model.FileEntry) bool { return true })
}

func (o *memOps) GetEntriesByHash(_ context.Context, hash string) ([]*model.FileEntry, error) {
	return o.selectEntries(func(e *model.FileEntry) bool {
		return e.Hash != nil && *e.Hash == hash
	})
}

func (o *memOps) GetUnprocessedEntries(_ context.Context, numDays int) ([]*model.FileEntry, error) {
	now := o.t.db.Now()
	return o.selectEntries(func(e *model.FileEntry) bool {
		if !hasStatus(e, unprocessed) {
			return false
		}
		age, ok := e.AgeDays(now)
		return !ok || age >= numDays
	})
}

func (o *memOps) DeleteEntry(_ context.Context, bucketname string) (int64, error) {
	var n int64
	err := o.with(func(s *memState) error {
		if o.row(s, bucketname) != nil {
			delete(s.rows, bucketname)
			n = 1
		}
		return nil
	})
	return n, err
}

func (o *memOps) DeleteEntries(_ context.Context, bucketnames []string) (int64, error) {
	doomed := toSet(bucketnames)
	return o.deleteWhere(func(e *model.FileEntry) bool {
		_, ok := doomed[e.Bucketname]
		return ok
	})
}

func (o *memOps) KeepEntries(_ context.Context, bucketnames []string) (int64, error) {
	kept := toSet(bucketnames)
	return o.deleteWhere(func(e *model.FileEntry) bool {
		_, ok := kept[e.Bucketname]
		return !ok
	})
}

func (o *memOps) DeleteAllEntries(_ context.Context) (int64, error) {
	return o.deleteWhere(func(*model.FileEntry) bool { return true })
}

func (o *memOps) DeleteOldEntries(_ context.Context, numDays int) (int64, error) {
	now := o.t.db.Now()
	return o.deleteWhere(func(e *model.FileEntry) bool {
		if !hasStatus(e, abandoned) {
			return false
		}
		// A null creation never compares as aged, as in SQL.
		age, ok := e.AgeDays(now)
		return ok && age >= numDays
	})
}

// row returns the live row of bucketname when it belongs to the table's
// bucket.
func (o *memOps) row(s *memState, bucketname string) *model.FileEntry {
	entry := s.rows[bucketname]
	if entry == nil || entry.Bucket != o.t.bucket {
		return nil
	}
	return entry
}

// selectEntries returns copies of the bucket's rows matching keep, by id.
func (o *memOps) selectEntries(keep func(*model.FileEntry) bool) ([]*model.FileEntry, error) {
	var out []*model.FileEntry
	err := o.with(func(s *memState) error {
		for _, entry := range s.rows {
			if entry.Bucket == o.t.bucket && keep(entry) {
				out = append(out, copyEntry(entry))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (o *memOps) deleteWhere(match func(*model.FileEntry) bool) (int64, error) {
	var n int64
	err := o.with(func(s *memState) error {
		for key, entry := range s.rows {
			if entry.Bucket == o.t.bucket && match(entry) {
				delete(s.rows, key)
				n++
			}
		}
		return nil
	})
	return n, err
}

func hasStatus(e *model.FileEntry, statuses []model.Status) bool {
	for _, s := range statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func copyEntry(e *model.FileEntry) *model.FileEntry {
	c := *e
	if e.Size != nil {
		v := *e.Size
		c.Size = &v
	}
	if e.Hash != nil {
		v := *e.Hash
		c.Hash = &v
	}
	if e.Creation != nil {
		v := *e.Creation
		c.Creation = &v
	}
	return &c
}
