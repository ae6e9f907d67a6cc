package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/filealloc/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSubmitDeduplicatesByJobID(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	payload := ProcessFilePayload{Bucket: "parts", Bucketname: "file-1"}

	require.NoError(t, client.Submit(ctx, ProcessFileTask, payload, "file-1"))
	require.NoError(t, client.Submit(ctx, ProcessFileTask, payload, "file-1"), "duplicate job id is absorbed")
	require.NoError(t, client.Submit(ctx, ProcessFileTask, ProcessFilePayload{Bucket: "parts", Bucketname: "file-2"}, "file-2"))

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestEncode(t *testing.T) {
	raw := []byte(`{"bucket":"parts"}`)
	data, err := Encode(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	data, err = Encode(BucketPayload{Bucket: "parts", NumDays: 3})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "parts", decoded["bucket"])
	assert.EqualValues(t, 3, decoded["num_days"])

	data, err = Encode(BucketPayload{Bucket: "parts"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bucket":"parts"}`, string(data))
}

func TestRegisterSchedules(t *testing.T) {
	mr := miniredis.RunT(t)
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: mr.Addr()}, nil)

	cfg := &config.Config{
		Buckets:               []string{"parts", "avatars"},
		ExpiryDays:            3,
		ScheduleCleanStore:    "@every 24h",
		ScheduleCleanDatabase: "off",
		ScheduleCleanOld:      "@every 6h",
		ScheduleProcessMissed: "@every 1h",
	}
	require.NoError(t, RegisterSchedules(scheduler, cfg))

	cfg.ScheduleCleanStore = "not a cron spec"
	assert.Error(t, RegisterSchedules(asynq.NewScheduler(asynq.RedisClientOpt{Addr: mr.Addr()}, nil), cfg))
}

func TestScheduledTaskRecoversAfterFailedPass(t *testing.T) {
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := asynq.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() { _ = inspector.Close() })

	task, err := scheduledTask(CleanOldTask, "parts", 3)
	require.NoError(t, err)
	info, err := client.Enqueue(task)
	require.NoError(t, err)

	// A tick while the pass is queued is dropped.
	_, err = client.Enqueue(task)
	assert.ErrorIs(t, err, asynq.ErrDuplicateTask)

	// Other buckets are not blocked.
	other, err := scheduledTask(CleanOldTask, "avatars", 3)
	require.NoError(t, err)
	_, err = client.Enqueue(other)
	require.NoError(t, err)

	// A failed pass is archived without retries; later ticks run again once
	// the lock expires.
	require.NoError(t, inspector.ArchiveTask("default", info.ID))
	mr.FastForward(scheduleLockTTL + time.Second)
	_, err = client.Enqueue(task)
	assert.NoError(t, err)
}
