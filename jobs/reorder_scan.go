package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tradewind-erp/tradewind-erp/internal/inventory"
	jobmetrics "github.com/tradewind-erp/tradewind-erp/internal/jobs"
)

// NewReorderScanHandler returns the handler for the nightly reorder scan. It
// publishes the low-stock gauge per location type and logs every record that
// needs restocking.
func NewReorderScanHandler(logger *slog.Logger, svc *inventory.Service, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReorderScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("reorder_scan")
		log := logger.With(slog.String("job", "reorder_scan"), slog.String("run_id", payload.RunID))

		for _, locType := range []inventory.LocationType{inventory.LocationCompany, inventory.LocationFranchise} {
			records, err := svc.BelowReorderPoint(ctx, locType)
			if err != nil {
				return tracker.End(err)
			}
			metrics.SetLowStock(string(locType), len(records))
			for _, rec := range records {
				log.Warn("record below reorder point",
					slog.Int64("inventory_id", rec.ID),
					slog.String("location_type", string(rec.LocationType)),
					slog.Int64("location_id", rec.LocationID),
					slog.Int64("variant_id", rec.VariantID),
					slog.Int64("stock", rec.Stock),
					slog.Int64("reorder_point", rec.ReorderPoint))
			}
			log.Info("reorder scan finished", slog.String("location_type", string(locType)), slog.Int("low_stock", len(records)))
		}
		return tracker.End(nil)
	}
}
