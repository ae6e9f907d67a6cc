// Package worker executes background jobs against the file managers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/files"
	"github.com/dharsanguruparan/filealloc/internal/queue"
)

// Processor maps job names onto Manager operations. It is plugged into the
// asynq worker loop and into the in-process processing pool.
type Processor struct {
	managers files.Managers
	logger   zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(managers files.Managers, logger zerolog.Logger) *Processor {
	return &Processor{
		managers: managers,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Handler registers every job handler on an asynq mux.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, name := range []string{
		queue.ProcessFileTask,
		queue.CleanStoreTask,
		queue.CleanDatabaseTask,
		queue.CleanOldTask,
		queue.ProcessMissedTask,
	} {
		mux.HandleFunc(name, p.handleTask)
	}
	return mux
}

func (p *Processor) handleTask(ctx context.Context, task *asynq.Task) error {
	return p.HandleJob(ctx, task.Type(), task.Payload())
}

// HandleJob runs the job name with its JSON payload.
func (p *Processor) HandleJob(ctx context.Context, name string, payload []byte) error {
	if name == queue.ProcessFileTask {
		return p.processFile(ctx, payload)
	}

	var args queue.BucketPayload
	if err := json.Unmarshal(payload, &args); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	m, err := p.managers.Lookup(args.Bucket)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	numDays := args.NumDays
	if numDays <= 0 {
		numDays = files.DefaultNumDays
	}
	log := p.logger.With().Str("job", name).Str("bucket", args.Bucket).Logger()

	switch name {
	case queue.CleanStoreTask:
		n, err := m.CleanFileStore(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("removed", n).Msg("file store cleaned")
	case queue.CleanDatabaseTask:
		n, err := m.CleanDatabase(ctx)
		if err != nil {
			return err
		}
		log.Info().Int64("removed", n).Msg("database cleaned")
	case queue.CleanOldTask:
		n, err := m.CleanOldFiles(ctx, numDays)
		if err != nil {
			return err
		}
		log.Info().Int64("removed", n).Msg("old files cleaned")
	case queue.ProcessMissedTask:
		report, err := m.ProcessMissedNewFiles(ctx, numDays)
		if err != nil {
			return err
		}
		log.Info().
			Int("total", report.Total).
			Int("accepted", len(report.Accepted)).
			Int("rejected", len(report.Rejected)).
			Msg("missed files processed")
	default:
		return fmt.Errorf("unknown job %q: %w", name, asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) processFile(ctx context.Context, payload []byte) error {
	var args queue.ProcessFilePayload
	if err := json.Unmarshal(payload, &args); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	m, err := p.managers.Lookup(args.Bucket)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	result, err := m.ProcessFile(ctx, args.Bucketname)
	if err != nil {
		p.logger.Error().Err(err).Str("bucket", args.Bucket).Str("bucketname", args.Bucketname).Msg("process file failed")
		return err
	}
	p.logger.Info().
		Str("bucket", args.Bucket).
		Str("bucketname", args.Bucketname).
		Str("status", string(result.Status)).
		Msg("file processed")
	return nil
}
