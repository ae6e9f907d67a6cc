package files

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/queue"
)

// ErrUnknownBucket is returned when no manager serves the requested bucket.
var ErrUnknownBucket = errors.New("unknown bucket")

// Queue submits background jobs. Submitting a jobID that is already queued is
// absorbed by the queue and returns nil.
type Queue interface {
	Submit(ctx context.Context, jobName string, payload any, jobID string) error
}

// Managers indexes managers by bucket.
type Managers map[string]*Manager

// NewManagers indexes ms by their bucket.
func NewManagers(ms ...*Manager) Managers {
	out := make(Managers, len(ms))
	for _, m := range ms {
		out[m.Bucket()] = m
	}
	return out
}

// Lookup returns the manager of bucket.
func (ms Managers) Lookup(bucket string) (*Manager, error) {
	m, ok := ms[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	return m, nil
}

// Buckets returns the served buckets in sorted order.
func (ms Managers) Buckets() []string {
	out := make([]string, 0, len(ms))
	for b := range ms {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Notification reports that the bytes of a file have reached the store.
type Notification struct {
	Bucketname string `json:"bucketname"`
	Bucket     string `json:"bucket"`
}

// Receiver turns upload notifications into status transitions and
// processing jobs.
type Receiver struct {
	managers Managers
	queue    Queue
	logger   zerolog.Logger
}

// NewReceiver constructs a Receiver.
func NewReceiver(managers Managers, q Queue, logger zerolog.Logger) *Receiver {
	return &Receiver{
		managers: managers,
		queue:    q,
		logger:   logger.With().Str("component", "file-receiver").Logger(),
	}
}

// ReceiveFile marks the file uploaded and enqueues its processing, keyed by
// bucketname so repeated notifications queue at most one job. It reports
// false when the entry was not waiting for its upload.
func (r *Receiver) ReceiveFile(ctx context.Context, n Notification) (bool, error) {
	m, err := r.managers.Lookup(n.Bucket)
	if err != nil {
		return false, err
	}
	entry, err := m.SetFileAvailable(ctx, n.Bucketname)
	if err != nil {
		return false, err
	}
	if entry == nil {
		r.logger.Debug().Str("bucket", n.Bucket).Str("bucketname", n.Bucketname).Msg("notification ignored")
		return false, nil
	}

	payload := queue.ProcessFilePayload{Bucket: n.Bucket, Bucketname: n.Bucketname}
	if err := r.queue.Submit(ctx, queue.ProcessFileTask, payload, n.Bucketname); err != nil {
		return false, fmt.Errorf("submit %s: %w", queue.ProcessFileTask, err)
	}
	r.logger.Info().Str("bucket", n.Bucket).Str("bucketname", n.Bucketname).Msg("file received")
	return true, nil
}
