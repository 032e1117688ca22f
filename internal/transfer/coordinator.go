package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradewind-erp/tradewind-erp/internal/inventory"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// IdempotencyPort guards completions against duplicate submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Coordinator drives the completion flows, the only operations that touch
// both the bill state machine and the stock ledger. All effects of one
// completion happen in a single transaction.
type Coordinator struct {
	repo  RepositoryPort
	audit AuditPort
	idem  IdempotencyPort
}

// NewCoordinator constructs the completion coordinator.
func NewCoordinator(repo RepositoryPort, audit AuditPort, idem IdempotencyPort) *Coordinator {
	return &Coordinator{repo: repo, audit: audit, idem: idem}
}

// CompleteExitBill commits a draft exit bill: every item is checked against
// available company stock, the outbound movements are written, and the
// paired entry bill is materialized for the destination franchise. If any
// item is short the whole completion rolls back and the error enumerates
// every offending line, not just the first.
func (c *Coordinator) CompleteExitBill(ctx context.Context, billID int64, actorID int64) (Bill, Bill, error) {
	idemKey := fmt.Sprintf("EXITBILL:%d", billID)
	if c.idem != nil {
		if err := c.idem.CheckAndInsert(ctx, idemKey, "transfer"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Bill{}, Bill{}, ErrAlreadyCompleted
			}
			return Bill{}, Bill{}, err
		}
	}

	var (
		exit  Bill
		entry Bill
	)
	err := c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			items []BillItem
			err   error
		)
		exit, items, err = tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if exit.Type != BillTypeExit {
			return fmt.Errorf("%w: bill %s is not an exit bill", ErrValidation, exit.Number)
		}
		switch exit.Status {
		case BillStatusCompleted:
			return ErrAlreadyCompleted
		case BillStatusDraft:
		default:
			return fmt.Errorf("%w: bill %s is %s", ErrInvalidStateTransition, exit.Number, exit.Status)
		}

		var issues []StockIssue
		for _, item := range items {
			_, err := inventory.ApplyMovement(ctx, tx.Ledger(), inventory.MovementParams{
				LocationType: inventory.LocationCompany,
				LocationID:   exit.CompanyID,
				VariantID:    item.VariantID,
				Delta:        -item.Quantity,
				Kind:         inventory.MovementTransferOut,
				RefType:      "transfer_bill",
				RefID:        exit.Number,
				ActorID:      actorID,
			})
			if err == nil {
				continue
			}
			var shortage *inventory.ShortageError
			switch {
			case errors.As(err, &shortage):
				issues = append(issues, StockIssue{VariantID: item.VariantID, Requested: item.Quantity, Available: shortage.Available})
			case errors.Is(err, inventory.ErrRecordNotFound):
				issues = append(issues, StockIssue{VariantID: item.VariantID, Requested: item.Quantity, Available: 0})
			default:
				return err
			}
		}
		if len(issues) > 0 {
			return &InsufficientStockError{BillID: exit.ID, Issues: issues}
		}

		entry, err = c.materializeEntryBill(ctx, tx, exit, items)
		if err != nil {
			return err
		}

		exit.CompletedAt = time.Now().UTC()
		exit.Status = BillStatusCompleted
		return tx.MarkCompleted(ctx, exit.ID, exit.CompletedAt)
	})
	if err != nil {
		if c.idem != nil && !errors.Is(err, ErrAlreadyCompleted) {
			_ = c.idem.Delete(ctx, idemKey)
		}
		return Bill{}, Bill{}, err
	}
	c.recordAudit(ctx, actorID, "transfer:exit_complete", exit.ID, map[string]any{
		"number":       exit.Number,
		"entry_bill":   entry.Number,
		"total_amount": exit.TotalAmount,
	})
	return exit, entry, nil
}

// materializeEntryBill creates the draft entry bill paired to a completed
// exit bill. Expected quantities mirror the shipped quantities; received
// stays unset until verification.
func (c *Coordinator) materializeEntryBill(ctx context.Context, tx TxRepository, exit Bill, items []BillItem) (Bill, error) {
	number, err := tx.NextBillNumber(ctx, exit.CompanyID, BillTypeEntry)
	if err != nil {
		return Bill{}, err
	}
	entry := Bill{
		Number:       number,
		Type:         BillTypeEntry,
		Status:       BillStatusDraft,
		CompanyID:    exit.CompanyID,
		FranchiseID:  exit.FranchiseID,
		SourceBillID: exit.ID,
		TotalAmount:  exit.TotalAmount,
		Verification: VerificationPending,
	}
	id, err := tx.InsertBill(ctx, entry)
	if err != nil {
		return Bill{}, err
	}
	entry.ID = id
	for _, item := range items {
		if _, err := tx.InsertItem(ctx, BillItem{
			BillID:    id,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}); err != nil {
			return Bill{}, err
		}
	}
	return entry, nil
}

// CompleteEntryBill commits a verified entry bill: received quantities are
// credited to franchise stock and the bill becomes immutable. Items with a
// zero receipt produce no movement. Records are created on first receipt of
// a variant at the franchise.
func (c *Coordinator) CompleteEntryBill(ctx context.Context, billID int64, actorID int64) (Bill, error) {
	idemKey := fmt.Sprintf("ENTRYBILL:%d", billID)
	if c.idem != nil {
		if err := c.idem.CheckAndInsert(ctx, idemKey, "transfer"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Bill{}, ErrAlreadyCompleted
			}
			return Bill{}, err
		}
	}

	var bill Bill
	err := c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			items []BillItem
			err   error
		)
		bill, items, err = tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Type != BillTypeEntry {
			return fmt.Errorf("%w: bill %s is not an entry bill", ErrValidation, bill.Number)
		}
		switch bill.Status {
		case BillStatusCompleted:
			return ErrAlreadyCompleted
		case BillStatusVerified:
		default:
			return fmt.Errorf("%w: bill %s must be verified before completion", ErrInvalidStateTransition, bill.Number)
		}

		for _, item := range items {
			received := item.ReceivedQuantity()
			if received == 0 {
				continue
			}
			if _, err := inventory.ApplyMovement(ctx, tx.Ledger(), inventory.MovementParams{
				LocationType:    inventory.LocationFranchise,
				LocationID:      bill.FranchiseID,
				VariantID:       item.VariantID,
				Delta:           received,
				Kind:            inventory.MovementTransferIn,
				RefType:         "transfer_bill",
				RefID:           bill.Number,
				ActorID:         actorID,
				CreateIfMissing: true,
			}); err != nil {
				return err
			}
		}

		bill.CompletedAt = time.Now().UTC()
		bill.Status = BillStatusCompleted
		return tx.MarkCompleted(ctx, bill.ID, bill.CompletedAt)
	})
	if err != nil {
		if c.idem != nil && !errors.Is(err, ErrAlreadyCompleted) {
			_ = c.idem.Delete(ctx, idemKey)
		}
		return Bill{}, err
	}
	c.recordAudit(ctx, actorID, "transfer:entry_complete", bill.ID, map[string]any{
		"number":       bill.Number,
		"verification": string(bill.Verification),
	})
	return bill, nil
}

func (c *Coordinator) recordAudit(ctx context.Context, actorID int64, action string, billID int64, meta map[string]any) {
	if c.audit == nil {
		return
	}
	_ = c.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer_bill",
		EntityID: fmt.Sprintf("%d", billID),
		Meta:     meta,
	})
}
