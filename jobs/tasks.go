package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReorderScan scans the ledger for records at or below their reorder point.
	TaskReorderScan = "inventory:reorder_scan"
	// TaskLedgerIntegrity verifies that movement deltas sum to stored stock.
	TaskLedgerIntegrity = "inventory:ledger_integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// RunMeta tags a job execution so log lines from one run can be correlated.
type RunMeta struct {
	RunID        string    `json:"run_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

func newRunMeta(at time.Time) RunMeta {
	return RunMeta{RunID: uuid.NewString(), ScheduledFor: at}
}

// ReorderScanPayload carries scheduling metadata for the reorder scan.
type ReorderScanPayload struct {
	RunMeta
}

// NewReorderScanTask constructs an Asynq task for the reorder scan.
func NewReorderScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReorderScanPayload{RunMeta: newRunMeta(at)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, body, asynq.Queue(QueueDefault)), nil
}

// LedgerIntegrityPayload carries scheduling metadata for the integrity check.
type LedgerIntegrityPayload struct {
	RunMeta
}

// NewLedgerIntegrityTask constructs an Asynq task for the ledger integrity check.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{RunMeta: newRunMeta(at)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries scheduling metadata for key pruning.
type IdempotencyCleanupPayload struct {
	RunMeta
}

// NewIdempotencyCleanupTask constructs an Asynq task for idempotency key pruning.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RunMeta: newRunMeta(at)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
