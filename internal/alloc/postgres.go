package alloc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/filealloc/internal/model"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the same operations
// run inside and outside transactions. Begin on a pgx.Tx opens a savepoint.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgTable is the Postgres alloc table <schema>.files, scoped to one bucket.
type PgTable struct {
	db     DBTX
	bucket string
	files  string
	status string
}

var _ Table = (*PgTable)(nil)

// NewPgTable constructs a table over db for bucket in schema.
func NewPgTable(db DBTX, schema, bucket string) *PgTable {
	return &PgTable{
		db:     db,
		bucket: bucket,
		files:  pgx.Identifier{schema, "files"}.Sanitize(),
		status: pgx.Identifier{schema, "filestatus"}.Sanitize(),
	}
}

func (t *PgTable) Bucket() string {
	return t.bucket
}

func (t *PgTable) Transact(ctx context.Context, fn func(ops Ops) error) error {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&pgOps{t: t, db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *PgTable) Open() Ops {
	return &pgOps{t: t, db: t.db}
}

type pgOps struct {
	t  *PgTable
	db DBTX
}

const entryColumns = `id, bucket, bucketname, status::text, size, hash, creation`

func (o *pgOps) q(format string) string {
	return fmt.Sprintf(format, o.t.files, o.t.status, entryColumns)
}

func (o *pgOps) CreateEntry(ctx context.Context, bucketname string) (*model.FileEntry, error) {
	query := o.q(`INSERT INTO %[1]s (bucket, bucketname) VALUES ($1, $2) RETURNING %[3]s`)
	if bucketname != "" {
		entry, err := scanEntry(o.db.QueryRow(ctx, query, o.t.bucket, bucketname))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s", ErrConflict, bucketname)
			}
			return nil, fmt.Errorf("insert entry: %w", err)
		}
		return entry, nil
	}
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		entry, err := o.tryInsert(ctx, query, uuid.NewString())
		if err == nil {
			return entry, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("insert entry: %w", err)
		}
	}
	return nil, fmt.Errorf("insert entry: no unique bucketname after %d attempts", maxInsertAttempts)
}

// tryInsert runs the insert under a savepoint so a unique violation does not
// abort an enclosing transaction.
func (o *pgOps) tryInsert(ctx context.Context, query, bucketname string) (*model.FileEntry, error) {
	sp, err := o.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := scanEntry(sp.QueryRow(ctx, query, o.t.bucket, bucketname))
	if err != nil {
		_ = sp.Rollback(ctx)
		return nil, err
	}
	if err := sp.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func (o *pgOps) SetAvailable(ctx context.Context, bucketname string) (*model.FileEntry, error) {
	query := o.q(`UPDATE %[1]s
		SET status = 'uploaded'::%[2]s
		WHERE bucket = $1 AND bucketname = $2 AND status = 'created'::%[2]s
		RETURNING %[3]s`)
	entry, err := scanEntry(o.db.QueryRow(ctx, query, o.t.bucket, bucketname))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set uploaded: %w", err)
	}
	return entry, nil
}

func (o *pgOps) SetStatus(ctx context.Context, bucketname string, status model.Status, size *int64, hash *string) (int64, error) {
	query := o.q(`UPDATE %[1]s
		SET status = $3::%[2]s,
			size = COALESCE($4, size),
			hash = COALESCE($5, hash)
		WHERE bucket = $1 AND bucketname = $2 AND status::text <> ALL($6::text[])`)
	tag, err := o.db.Exec(ctx, query, o.t.bucket, bucketname, string(status), size, hash, statusStrings(terminal))
	if err != nil {
		return 0, fmt.Errorf("set status %s: %w", status, err)
	}
	return tag.RowsAffected(), nil
}

func (o *pgOps) SetReady(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error) {
	return o.SetStatus(ctx, bucketname, model.StatusReady, size, hash)
}

func (o *pgOps) SetRejected(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error) {
	return o.SetStatus(ctx, bucketname, model.StatusRejected, size, hash)
}

func (o *pgOps) SetCreation(ctx context.Context, bucketname string, creation time.Time) (int64, error) {
	tag, err := o.db.Exec(ctx, o.q(`UPDATE %[1]s SET creation = $3 WHERE bucket = $1 AND bucketname = $2`),
		o.t.bucket, bucketname, creation)
	if err != nil {
		return 0, fmt.Errorf("set creation: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (o *pgOps) GetEntry(ctx context.Context, bucketname string) (*model.FileEntry, error) {
	entry, err := scanEntry(o.db.QueryRow(ctx, o.q(`SELECT %[3]s FROM %[1]s WHERE bucket = $1 AND bucketname = $2`),
		o.t.bucket, bucketname))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select entry: %w", err)
	}
	return entry, nil
}

func (o *pgOps) GetEntries(ctx context.Context, bucketnames []string) ([]*model.FileEntry, error) {
	return o.queryEntries(ctx, o.q(`SELECT %[3]s FROM %[1]s
		WHERE bucket = $1 AND bucketname = ANY($2::text[])
		ORDER BY id`), o.t.bucket, bucketnames)
}

func (o *pgOps) GetAllEntries(ctx context.Context) ([]*model.FileEntry, error) {
	return o.queryEntries(ctx, o.q(`SELECT %[3]s FROM %[1]s WHERE bucket = $1 ORDER BY id`), o.t.bucket)
}

func (o *pgOps) GetEntriesByHash(ctx context.Context, hash string) ([]*model.FileEntry, error) {
	return o.queryEntries(ctx, o.q(`SELECT %[3]s FROM %[1]s
		WHERE bucket = $1 AND hash = $2
		ORDER BY id`), o.t.bucket, hash)
}

func (o *pgOps) GetUnprocessedEntries(ctx context.Context, numDays int) ([]*model.FileEntry, error) {
	return o.queryEntries(ctx, o.q(`SELECT %[3]s FROM %[1]s
		WHERE bucket = $1
			AND status::text = ANY($2::text[])
			AND (DATE_PART('day', current_timestamp - creation) >= $3 OR creation IS NULL)
		ORDER BY id`), o.t.bucket, statusStrings(unprocessed), numDays)
}

func (o *pgOps) DeleteEntry(ctx context.Context, bucketname string) (int64, error) {
	return o.exec(ctx, "delete entry", o.q(`DELETE FROM %[1]s WHERE bucket = $1 AND bucketname = $2`),
		o.t.bucket, bucketname)
}

func (o *pgOps) DeleteEntries(ctx context.Context, bucketnames []string) (int64, error) {
	return o.exec(ctx, "delete entries", o.q(`DELETE FROM %[1]s
		WHERE bucket = $1 AND bucketname = ANY($2::text[])`), o.t.bucket, bucketnames)
}

func (o *pgOps) KeepEntries(ctx context.Context, bucketnames []string) (int64, error) {
	if bucketnames == nil {
		// A nil slice encodes as NULL, and <> ALL(NULL) matches nothing.
		bucketnames = []string{}
	}
	return o.exec(ctx, "keep entries", o.q(`DELETE FROM %[1]s
		WHERE bucket = $1 AND bucketname <> ALL($2::text[])`), o.t.bucket, bucketnames)
}

func (o *pgOps) DeleteAllEntries(ctx context.Context) (int64, error) {
	return o.exec(ctx, "delete all entries", o.q(`DELETE FROM %[1]s WHERE bucket = $1`), o.t.bucket)
}

func (o *pgOps) DeleteOldEntries(ctx context.Context, numDays int) (int64, error) {
	return o.exec(ctx, "delete old entries", o.q(`DELETE FROM %[1]s
		WHERE bucket = $1
			AND status::text = ANY($2::text[])
			AND DATE_PART('day', current_timestamp - creation) >= $3`),
		o.t.bucket, statusStrings(abandoned), numDays)
}

func (o *pgOps) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	tag, err := o.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return tag.RowsAffected(), nil
}

func (o *pgOps) queryEntries(ctx context.Context, query string, args ...any) ([]*model.FileEntry, error) {
	rows, err := o.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []*model.FileEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*model.FileEntry, error) {
	var (
		e      model.FileEntry
		status string
	)
	if err := row.Scan(&e.ID, &e.Bucket, &e.Bucketname, &status, &e.Size, &e.Hash, &e.Creation); err != nil {
		return nil, err
	}
	e.Status = model.Status(status)
	return &e, nil
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
