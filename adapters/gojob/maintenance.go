package gojob

import (
	"context"
	"fmt"
	"time"

	"github.com/contractlane/go-webhooks/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// IdempotencyPurgeJob drops expired idempotency claims. It runs on a schedule
// so the claims table stays bounded without touching the hot claim path.
type IdempotencyPurgeJob struct {
	Store  core.IdempotencyStore
	Logger core.Logger
}

func NewIdempotencyPurgeJob(store core.IdempotencyStore) *IdempotencyPurgeJob {
	return &IdempotencyPurgeJob{Store: store}
}

func (j *IdempotencyPurgeJob) Run(ctx context.Context) error {
	if j == nil || j.Store == nil {
		return fmt.Errorf("gojob: idempotency purge requires a store")
	}
	purged, err := j.Store.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("gojob: purge idempotency keys: %w", err)
	}
	if purged > 0 {
		j.logger().Info("purged expired idempotency keys", "count", purged)
	}
	return nil
}

func (j *IdempotencyPurgeJob) logger() core.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return glog.Nop()
}

// DeadLetterSweepJob scans for dead-lettered dispatch records and enqueues a
// replay message per record. Replay itself stays manual-paced through the
// queue; the sweep only surfaces the backlog.
type DeadLetterSweepJob struct {
	Log         core.DispatchLog
	Enqueuer    core.JobEnqueuer
	Logger      core.Logger
	MaxAttempts int
	BatchSize   int
}

func NewDeadLetterSweepJob(log core.DispatchLog, enqueuer core.JobEnqueuer) *DeadLetterSweepJob {
	return &DeadLetterSweepJob{
		Log:         log,
		Enqueuer:    enqueuer,
		MaxAttempts: 3,
		BatchSize:   50,
	}
}

func (j *DeadLetterSweepJob) Run(ctx context.Context) error {
	if j == nil || j.Log == nil {
		return fmt.Errorf("gojob: dead-letter sweep requires a dispatch log")
	}
	if j.Enqueuer == nil {
		return fmt.Errorf("gojob: dead-letter sweep requires an enqueuer")
	}

	maxAttempts := j.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	batch := j.BatchSize
	if batch <= 0 {
		batch = 50
	}

	letters, err := j.Log.ListDeadLetters(ctx, maxAttempts, batch)
	if err != nil {
		return fmt.Errorf("gojob: list dead letters: %w", err)
	}
	if len(letters) == 0 {
		return nil
	}

	enqueued := 0
	for _, record := range letters {
		msg := &core.JobExecutionMessage{
			JobID: JobIDDispatchReplay,
			Parameters: map[string]any{
				"dispatch_id": record.ID,
				"event_type":  record.EventType,
			},
			IdempotencyKey: "replay_" + record.ID + "_" + uuid.NewString(),
		}
		if err := j.Enqueuer.Enqueue(ctx, msg); err != nil {
			j.logger().Error("enqueue dead-letter replay failed",
				"dispatch_id", record.ID,
				"error", err,
			)
			continue
		}
		enqueued++
	}

	j.logger().Info("dead-letter sweep complete",
		"found", len(letters),
		"enqueued", enqueued,
		"swept_at", time.Now().UTC().Format(time.RFC3339),
	)
	return nil
}

func (j *DeadLetterSweepJob) logger() core.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return glog.Nop()
}
