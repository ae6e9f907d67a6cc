package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/filealloc/internal/config"
)

// scheduleLockTTL bounds how long a queued or failed periodic pass blocks the
// next tick of the same task and bucket.
const scheduleLockTTL = 30 * time.Minute

// RegisterSchedules registers the periodic reconciliation tasks of every
// configured bucket. A spec of "off" disables its task.
func RegisterSchedules(scheduler *asynq.Scheduler, cfg *config.Config) error {
	schedules := []struct {
		task    string
		spec    string
		numDays int
	}{
		{CleanStoreTask, cfg.ScheduleCleanStore, 0},
		{CleanDatabaseTask, cfg.ScheduleCleanDatabase, 0},
		{CleanOldTask, cfg.ScheduleCleanOld, cfg.ExpiryDays},
		{ProcessMissedTask, cfg.ScheduleProcessMissed, cfg.ExpiryDays},
	}
	for _, bucket := range cfg.Buckets {
		for _, s := range schedules {
			if s.spec == "" || s.spec == "off" {
				continue
			}
			task, err := scheduledTask(s.task, bucket, s.numDays)
			if err != nil {
				return err
			}
			if _, err := scheduler.Register(s.spec, task); err != nil {
				return fmt.Errorf("register %s for %s: %w", s.task, bucket, err)
			}
		}
	}
	return nil
}

// scheduledTask builds one periodic pass. The unique lock drops a tick that
// finds the previous pass of the bucket still queued; it is released when the
// pass completes and expires after scheduleLockTTL otherwise.
func scheduledTask(name, bucket string, numDays int) (*asynq.Task, error) {
	data, err := Encode(BucketPayload{Bucket: bucket, NumDays: numDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, data, asynq.MaxRetry(0), asynq.Unique(scheduleLockTTL)), nil
}
