package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/tradewind-erp/tradewind-erp/internal/jobs"
)

// ledgerDrift is one record whose stored stock disagrees with its history.
type ledgerDrift struct {
	InventoryID  int64
	LocationType string
	Stock        int64
	MovementSum  int64
}

// NewLedgerIntegrityHandler returns the handler for the nightly ledger audit.
// For every record the stock-affecting movement deltas must sum to the stored
// stock figure; reservations and releases are excluded because they only move
// quantity between reserved and available. Location types are checked in
// parallel. Drift is reported, never auto-corrected.
func NewLedgerIntegrityHandler(logger *slog.Logger, pool *pgxpool.Pool, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("ledger_integrity")
		log := logger.With(slog.String("job", "ledger_integrity"), slog.String("run_id", payload.RunID))

		g, ctx := errgroup.WithContext(ctx)
		results := make(chan ledgerDrift, 64)
		for _, locType := range []string{"COMPANY", "FRANCHISE"} {
			locType := locType
			g.Go(func() error {
				return collectDrift(ctx, pool, locType, results)
			})
		}
		done := make(chan error, 1)
		go func() {
			done <- g.Wait()
			close(results)
		}()

		drifted := 0
		for drift := range results {
			drifted++
			metrics.AddLedgerDrift(drift.LocationType, 1)
			log.Error("ledger drift detected",
				slog.Int64("inventory_id", drift.InventoryID),
				slog.String("location_type", drift.LocationType),
				slog.Int64("stock", drift.Stock),
				slog.Int64("movement_sum", drift.MovementSum))
		}
		if err := <-done; err != nil {
			return tracker.End(err)
		}
		log.Info("ledger integrity check finished", slog.Int("drifted", drifted))
		return tracker.End(nil)
	}
}

func collectDrift(ctx context.Context, pool *pgxpool.Pool, locType string, out chan<- ledgerDrift) error {
	rows, err := pool.Query(ctx, `
SELECT r.id, r.stock, COALESCE(SUM(m.delta) FILTER (WHERE m.kind NOT IN ('RESERVATION','RELEASE')), 0) AS movement_sum
FROM inventory_records r
LEFT JOIN stock_movements m ON m.inventory_id = r.id
WHERE r.location_type = $1
GROUP BY r.id, r.stock
HAVING r.stock <> COALESCE(SUM(m.delta) FILTER (WHERE m.kind NOT IN ('RESERVATION','RELEASE')), 0)`, locType)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		drift := ledgerDrift{LocationType: locType}
		if err := rows.Scan(&drift.InventoryID, &drift.Stock, &drift.MovementSum); err != nil {
			return err
		}
		select {
		case out <- drift:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Err()
}
