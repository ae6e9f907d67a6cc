// Package files implements the file lifecycle engine: entry creation, status
// transitions, the validate and process pipeline, and the passes that
// reconcile the alloc table with the file store.
package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/alloc"
	"github.com/dharsanguruparan/filealloc/internal/filestore"
	"github.com/dharsanguruparan/filealloc/internal/model"
)

var (
	// ErrStoreDelete is returned when the file store fails to delete objects.
	ErrStoreDelete = errors.New("unable to delete files from file store")
	// ErrStoreList is returned when the file store cannot be enumerated.
	ErrStoreList = errors.New("unable to list files from file store")
	// ErrStatusFinal is returned when a status write targets a ready or
	// rejected entry.
	ErrStatusFinal = errors.New("file status is final")
)

// DefaultNumDays is the age, in days, used by the aged reconciliation passes.
const DefaultNumDays = 3

// Manager orchestrates one bucket's alloc table and file store.
type Manager struct {
	bucket string
	table  alloc.Table
	store  filestore.FileStore
	policy Policy
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the validate and process steps. DefaultPolicy is used
// otherwise.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager constructs a Manager for bucket.
func NewManager(bucket string, table alloc.Table, store filestore.FileStore, opts ...Option) *Manager {
	m := &Manager{
		bucket: bucket,
		table:  table,
		store:  store,
		policy: DefaultPolicy{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "file-manager").Str("bucket", bucket).Logger()
	return m
}

// Bucket returns the logical bucket the manager serves.
func (m *Manager) Bucket() string {
	return m.bucket
}

// CreateEntry records a new entry and returns it with the URL the client
// uploads to. The row is rolled back when no URL can be issued.
func (m *Manager) CreateEntry(ctx context.Context, bucketname string) (*model.FileEntry, string, error) {
	var (
		entry     *model.FileEntry
		uploadURL string
	)
	err := m.table.Transact(ctx, func(ops alloc.Ops) error {
		var err error
		entry, err = ops.CreateEntry(ctx, bucketname)
		if err != nil {
			return err
		}
		uploadURL, err = m.store.GetPostURL(ctx, entry.Bucketname)
		if err != nil {
			return fmt.Errorf("issue upload url: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	m.logger.Debug().Str("bucketname", entry.Bucketname).Msg("entry created")
	return entry, uploadURL, nil
}

// GetFileSignedURL returns a time-limited download URL.
func (m *Manager) GetFileSignedURL(ctx context.Context, bucketname string) (string, error) {
	return m.store.GetSignedURL(ctx, bucketname)
}

// SetFileAvailable moves the entry from created to uploaded. It returns nil
// when the entry is missing or was already past created.
func (m *Manager) SetFileAvailable(ctx context.Context, bucketname string) (*model.FileEntry, error) {
	m.logger.Debug().Str("bucketname", bucketname).Msg("setting file available")
	return m.table.Open().SetAvailable(ctx, bucketname)
}

// DeleteFiles removes the objects and then the rows. A store failure leaves
// every row in place so the deletion can be retried.
func (m *Manager) DeleteFiles(ctx context.Context, bucketnames ...string) (int64, error) {
	if len(bucketnames) == 0 {
		return 0, nil
	}
	var deleted int64
	err := m.table.Transact(ctx, func(ops alloc.Ops) error {
		if err := m.store.DeleteObjects(ctx, bucketnames); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreDelete, err)
		}
		var err error
		deleted, err = ops.DeleteEntries(ctx, bucketnames)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// RemoveFiles deletes rows only, for callers that know the store is clean.
func (m *Manager) RemoveFiles(ctx context.Context, bucketnames ...string) (int64, error) {
	if len(bucketnames) == 0 {
		return 0, nil
	}
	return m.table.Open().DeleteEntries(ctx, bucketnames)
}

// SetFileStatus writes status and, when non-nil, size and hash. It returns
// ErrStatusFinal for ready and rejected entries and zero for missing ones.
func (m *Manager) SetFileStatus(ctx context.Context, bucketname string, status model.Status, size *int64, hash *string) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("unknown status %q", status)
	}
	ops := m.table.Open()
	n, err := ops.SetStatus(ctx, bucketname, status, size, hash)
	if err != nil || n > 0 {
		return n, err
	}
	return 0, m.finalErr(ctx, ops, bucketname)
}

// SetFileRejected rejects an entry that is not final yet.
func (m *Manager) SetFileRejected(ctx context.Context, bucketname string, size *int64, hash *string) (int64, error) {
	m.logger.Debug().Str("bucketname", bucketname).Msg("setting file rejected")
	ops := m.table.Open()
	n, err := ops.SetRejected(ctx, bucketname, size, hash)
	if err != nil || n > 0 {
		return n, err
	}
	return 0, m.finalErr(ctx, ops, bucketname)
}

// finalErr explains a status write that matched no row.
func (m *Manager) finalErr(ctx context.Context, ops alloc.Ops, bucketname string) error {
	entry, err := ops.GetEntry(ctx, bucketname)
	if err != nil {
		return err
	}
	if entry != nil && entry.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrStatusFinal, bucketname, entry.Status)
	}
	return nil
}

// UpdateCreationTime moves the age anchor of an entry. A zero at means now.
func (m *Manager) UpdateCreationTime(ctx context.Context, bucketname string, at time.Time) error {
	if at.IsZero() {
		at = m.now()
	}
	n, err := m.table.Open().SetCreation(ctx, bucketname, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", alloc.ErrNotFound, bucketname)
	}
	return nil
}

// GetEntries returns the named entries, or all of the bucket's entries when
// bucketnames is nil.
func (m *Manager) GetEntries(ctx context.Context, bucketnames []string) ([]*model.FileEntry, error) {
	ops := m.table.Open()
	if bucketnames == nil {
		return ops.GetAllEntries(ctx)
	}
	return ops.GetEntries(ctx, bucketnames)
}

// GetEntry returns nil when no entry exists.
func (m *Manager) GetEntry(ctx context.Context, bucketname string) (*model.FileEntry, error) {
	return m.table.Open().GetEntry(ctx, bucketname)
}

// GetEntriesByHash returns every entry of the bucket whose content hash is
// hash.
func (m *Manager) GetEntriesByHash(ctx context.Context, hash string) ([]*model.FileEntry, error) {
	return m.table.Open().GetEntriesByHash(ctx, hash)
}

// ReadFile returns the stored object, or nil when it does not exist. The
// caller must Close it.
func (m *Manager) ReadFile(ctx context.Context, bucketname string) (*filestore.Object, error) {
	return m.store.GetObject(ctx, bucketname)
}

// ProcessFile runs the validate and process pipeline for one file. Each step
// commits on its own so progress survives a crash midway.
func (m *Manager) ProcessFile(ctx context.Context, bucketname string) (model.ProcessResult, error) {
	result, err := m.processFile(ctx, bucketname)
	if err == nil {
		filesProcessedTotal.WithLabelValues(m.bucket, string(result.Status)).Inc()
	}
	return result, err
}

func (m *Manager) processFile(ctx context.Context, bucketname string) (model.ProcessResult, error) {
	ops := m.table.Open()
	log := m.logger.With().Str("bucketname", bucketname).Logger()
	log.Debug().Msg("processing file")

	entry, err := ops.GetEntry(ctx, bucketname)
	if err != nil {
		return model.ProcessResult{}, err
	}
	if entry == nil {
		log.Debug().Msg("file not found in entries")
		return model.ProcessResult{Status: model.ErrorFileNotFound, Bucketname: bucketname}, nil
	}
	if entry.Status.Terminal() {
		log.Debug().Str("status", string(entry.Status)).Msg("file already processed")
		return model.ProcessResult{Status: model.ErrorFileAlreadyProcessed, Bucketname: bucketname, Entry: entry}, nil
	}

	obj, err := m.store.GetObject(ctx, bucketname)
	if err != nil {
		return model.ProcessResult{}, fmt.Errorf("get object: %w", err)
	}
	if obj == nil {
		log.Debug().Msg("file not found in file store, deleting entry")
		if _, err := ops.DeleteEntry(ctx, bucketname); err != nil {
			return model.ProcessResult{}, err
		}
		return model.ProcessResult{Status: model.ErrorFileNotFound, Bucketname: bucketname, Entry: entry}, nil
	}
	defer obj.Close()

	status, err := m.policy.Validate(ctx, entry, obj)
	if err != nil {
		return model.ProcessResult{}, fmt.Errorf("validate: %w", err)
	}
	if status.Rejected() {
		log.Info().Str("status", string(status)).Msg("file flagged as invalid, rejecting")
		size, hash := obj.Size, obj.Hash
		n, err := ops.SetRejected(ctx, bucketname, &size, &hash)
		if err != nil {
			return model.ProcessResult{}, err
		}
		if n == 0 {
			return m.concluded(ctx, ops, entry)
		}
		return m.reload(ctx, ops, status, entry)
	}

	status, err = m.policy.Process(ctx, entry, obj)
	if err != nil {
		return model.ProcessResult{}, fmt.Errorf("process: %w", err)
	}
	if status != model.SuccessFileProcessed {
		log.Info().Str("status", string(status)).Msg("file processed with errors")
		return model.ProcessResult{Status: status, Bucketname: bucketname, Entry: entry}, nil
	}

	// Processing may rewrite the object, so size and hash are read again.
	info, err := m.store.GetObjectInfo(ctx, bucketname)
	if err != nil {
		return model.ProcessResult{}, fmt.Errorf("get object info: %w", err)
	}
	if info == nil {
		log.Warn().Msg("file vanished during processing, deleting entry")
		if _, err := ops.DeleteEntry(ctx, bucketname); err != nil {
			return model.ProcessResult{}, err
		}
		return model.ProcessResult{Status: model.ErrorFileNotFound, Bucketname: bucketname, Entry: entry}, nil
	}
	n, err := ops.SetReady(ctx, bucketname, &info.Size, &info.Hash)
	if err != nil {
		return model.ProcessResult{}, err
	}
	if n == 0 {
		return m.concluded(ctx, ops, entry)
	}
	log.Debug().Msg("file processed successfully")
	return m.reload(ctx, ops, status, entry)
}

// reload returns a result carrying the entry as currently stored, falling
// back to prev if it was removed concurrently.
func (m *Manager) reload(ctx context.Context, ops alloc.Ops, status model.Result, prev *model.FileEntry) (model.ProcessResult, error) {
	entry, err := ops.GetEntry(ctx, prev.Bucketname)
	if err != nil {
		return model.ProcessResult{}, err
	}
	if entry == nil {
		entry = prev
	}
	return model.ProcessResult{Status: status, Bucketname: prev.Bucketname, Entry: entry}, nil
}

// concluded reports an entry that another run finalized or removed while
// this one was validating or processing it.
func (m *Manager) concluded(ctx context.Context, ops alloc.Ops, prev *model.FileEntry) (model.ProcessResult, error) {
	entry, err := ops.GetEntry(ctx, prev.Bucketname)
	if err != nil {
		return model.ProcessResult{}, err
	}
	if entry == nil {
		m.logger.Debug().Str("bucketname", prev.Bucketname).Msg("entry removed during processing")
		return model.ProcessResult{Status: model.ErrorFileNotFound, Bucketname: prev.Bucketname}, nil
	}
	m.logger.Debug().Str("bucketname", prev.Bucketname).Str("status", string(entry.Status)).Msg("entry finalized during processing")
	return model.ProcessResult{Status: model.ErrorFileAlreadyProcessed, Bucketname: prev.Bucketname, Entry: entry}, nil
}

// ProcessMissedNewFiles runs the pipeline over entries that have waited
// numDays or more without reaching a terminal status. Files are processed one
// at a time outside any transaction; a failing file is reported and skipped.
func (m *Manager) ProcessMissedNewFiles(ctx context.Context, numDays int) (model.BatchReport, error) {
	defer m.observe(passProcessMissed)()
	m.logger.Info().Int("num_days", numDays).Msg("processing files missed by validation")

	entries, err := m.table.Open().GetUnprocessedEntries(ctx, numDays)
	if err != nil {
		return model.BatchReport{}, err
	}
	report := model.BatchReport{Total: len(entries)}
	if len(entries) == 0 {
		m.logger.Info().Msg("no file to process, all clean")
		return report, nil
	}

	m.logger.Info().Int("count", len(entries)).Msg("starting process of pending files")
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := m.ProcessFile(ctx, entry.Bucketname)
		if err != nil {
			m.logger.Error().Err(err).Str("bucketname", entry.Bucketname).Msg("process file failed")
			report.Failed = append(report.Failed, entry.Bucketname)
			continue
		}
		report.Add(entry.Bucketname, result.Status)
		m.logger.Info().
			Str("bucketname", entry.Bucketname).
			Str("status", string(result.Status)).
			Msgf("(%d/%d)", i+1, len(entries))
	}
	m.logger.Info().
		Int("total", report.Total).
		Int("accepted", len(report.Accepted)).
		Int("rejected", len(report.Rejected)).
		Int("not_found", len(report.NotFound)).
		Int("failed", len(report.Failed)).
		Msg("processed pending files")
	return report, nil
}

// CleanFileStore deletes store objects that have no entry. Nothing is deleted
// when the store cannot be listed.
func (m *Manager) CleanFileStore(ctx context.Context) (int, error) {
	defer m.observe(passCleanStore)()
	m.logger.Info().Msg("removing files from file store not in database")

	var removed int
	err := m.table.Transact(ctx, func(ops alloc.Ops) error {
		entries, err := ops.GetAllEntries(ctx)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			known[e.Bucketname] = struct{}{}
		}
		m.logger.Info().Int("count", len(entries)).Msg("files in database")

		keys, err := m.store.ListObjects(ctx)
		if err != nil {
			m.logger.Error().Err(err).Msg("unable to list files from file store")
			return fmt.Errorf("%w: %w", ErrStoreList, err)
		}
		m.logger.Info().Int("count", len(keys)).Msg("files in file store")

		var orphans []string
		for _, key := range keys {
			if _, ok := known[key]; !ok {
				orphans = append(orphans, key)
			}
		}
		if len(orphans) == 0 {
			m.logger.Info().Msg("no file to remove, all clean")
			return nil
		}

		m.logger.Info().Int("count", len(orphans)).Msg("removing files from file store")
		if err := m.store.DeleteObjects(ctx, orphans); err != nil {
			m.logger.Error().Err(err).Int("count", len(orphans)).Msg("unable to remove files from file store")
			return fmt.Errorf("%w: %w", ErrStoreDelete, err)
		}
		removed = len(orphans)
		return nil
	})
	if err != nil {
		return 0, err
	}
	reconcileRemovedTotal.WithLabelValues(m.bucket, passCleanStore).Add(float64(removed))
	return removed, nil
}

// CleanDatabase deletes entries whose object is missing from the store. An
// empty store purges every entry of the bucket. Nothing is deleted when the
// store cannot be listed.
func (m *Manager) CleanDatabase(ctx context.Context) (int64, error) {
	defer m.observe(passCleanDatabase)()
	m.logger.Info().Msg("cleaning database for files not in file store")

	keys, err := m.store.ListObjects(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("unable to list files from file store")
		return 0, fmt.Errorf("%w: %w", ErrStoreList, err)
	}

	var removed int64
	err = m.table.Transact(ctx, func(ops alloc.Ops) error {
		var err error
		if len(keys) == 0 {
			m.logger.Info().Msg("no files in file store, purging all files from database")
			removed, err = ops.DeleteAllEntries(ctx)
		} else {
			removed, err = ops.KeepEntries(ctx, keys)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	m.logRemoved(removed, "removed files from database")
	reconcileRemovedTotal.WithLabelValues(m.bucket, passCleanDatabase).Add(float64(removed))
	return removed, nil
}

// CleanOldFiles deletes entries still created or uploading after numDays.
func (m *Manager) CleanOldFiles(ctx context.Context, numDays int) (int64, error) {
	defer m.observe(passCleanOld)()
	m.logger.Info().Int("num_days", numDays).Msg("cleaning database from files never uploaded")

	var removed int64
	err := m.table.Transact(ctx, func(ops alloc.Ops) error {
		var err error
		removed, err = ops.DeleteOldEntries(ctx, numDays)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.logRemoved(removed, "deleted files never uploaded")
	reconcileRemovedTotal.WithLabelValues(m.bucket, passCleanOld).Add(float64(removed))
	return removed, nil
}

func (m *Manager) logRemoved(n int64, msg string) {
	if n == 0 {
		m.logger.Info().Msg("no file to remove, all clean")
		return
	}
	m.logger.Info().Int64("count", n).Msg(msg)
}

// observe starts timing a pass; call the returned func when it ends.
func (m *Manager) observe(pass string) func() {
	start := time.Now()
	return func() {
		reconcileDurationSeconds.WithLabelValues(m.bucket, pass).Observe(time.Since(start).Seconds())
	}
}
