package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tradewind-erp/tradewind-erp/internal/jobs"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// NewIdempotencyCleanupHandler returns the handler that prunes idempotency
// keys older than the retention window.
func NewIdempotencyCleanupHandler(logger *slog.Logger, store *shared.IdempotencyStore, retention time.Duration, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("idempotency_cleanup")
		if err := store.Cleanup(ctx, retention); err != nil {
			return tracker.End(err)
		}
		logger.Info("idempotency keys pruned",
			slog.String("job", "idempotency_cleanup"),
			slog.String("run_id", payload.RunID),
			slog.Duration("retention", retention))
		return tracker.End(nil)
	}
}
