// Package alloc wraps the alloc table, the metadata store that is the source
// of truth for which files exist and where they are in their lifecycle.
//
// Every mutation is a named operation on Ops. Ops obtained from Table.Open run
// each call on its own; Ops handed to the Transact callback share one
// transaction that commits when the callback returns nil.
package alloc

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/filealloc/internal/model"
)

var (
	// ErrConflict is returned when an explicit bucketname is already taken.
	ErrConflict = errors.New("bucketname already exists")
	// ErrNotFound is returned by operations that require an existing row.
	ErrNotFound = errors.New("entry not found")
)

// maxInsertAttempts bounds the generated-name retry loop of CreateEntry.
const maxInsertAttempts = 5

// Table acquires Ops bound either to a transaction or to the ambient
// connection.
type Table interface {
	// Transact runs fn inside one transaction. It commits when fn returns nil
	// and rolls back otherwise, returning fn's error.
	Transact(ctx context.Context, fn func(ops Ops) error) error
	// Open returns Ops for single-call use without cross-call atomicity.
	Open() Ops
	// Bucket is the logical bucket this table is scoped to.
	Bucket() string
}

// Ops is the set of atomic alloc table operations. Every operation is scoped
// to the table's bucket: a bucketname owned by another bucket reads as
// missing. Only CreateEntry sees other buckets, since bucketnames are unique
// across the table.
type Ops interface {
	// CreateEntry inserts a created entry. An empty bucketname is replaced by a
	// generated token, retried on collision.
	CreateEntry(ctx context.Context, bucketname string) (*model.FileEntry, error)
	// SetAvailable moves the entry from created to uploaded. It returns nil
	// when the entry was not in the created status.
	SetAvailable(ctx context.Context, bucketname string) (*model.FileEntry, error)
	// SetStatus writes status and, when non-nil, size and hash. Ready and
	// rejected entries are final and are left untouched, so the returned count
	// is zero for them.
	SetStatus(ctx context.Context, bucketname string, status model.Status, size *int64, hash *string) (int64, error)
	SetReady(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error)
	SetRejected(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error)
	SetCreation(ctx context.Context, bucketname string, creation time.Time) (int64, error)

	// GetEntry returns nil when no entry exists.
	GetEntry(ctx context.Context, bucketname string) (*model.FileEntry, error)
	GetEntries(ctx context.Context, bucketnames []string) ([]*model.FileEntry, error)
	GetAllEntries(ctx context.Context) ([]*model.FileEntry, error)
	GetEntriesByHash(ctx context.Context, hash string) ([]*model.FileEntry, error)
	// GetUnprocessedEntries selects created, uploading and uploaded entries
	// aged numDays or more, or with no creation time, ordered by id.
	GetUnprocessedEntries(ctx context.Context, numDays int) ([]*model.FileEntry, error)

	DeleteEntry(ctx context.Context, bucketname string) (int64, error)
	DeleteEntries(ctx context.Context, bucketnames []string) (int64, error)
	// KeepEntries deletes every entry of the bucket not named in bucketnames.
	KeepEntries(ctx context.Context, bucketnames []string) (int64, error)
	DeleteAllEntries(ctx context.Context) (int64, error)
	// DeleteOldEntries deletes created and uploading entries aged numDays or
	// more.
	DeleteOldEntries(ctx context.Context, numDays int) (int64, error)
}

// unprocessed are the statuses GetUnprocessedEntries selects.
var unprocessed = []model.Status{model.StatusCreated, model.StatusUploading, model.StatusUploaded}

// terminal are the statuses no status write moves an entry out of.
var terminal = []model.Status{model.StatusReady, model.StatusRejected}

// abandoned are the statuses DeleteOldEntries removes.
var abandoned = []model.Status{model.StatusCreated, model.StatusUploading}
