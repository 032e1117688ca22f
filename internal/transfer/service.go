package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/tradewind-erp/tradewind-erp/internal/inventory"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the bill services.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (Bill, []BillItem, error)
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, int, error)
}

// TxRepository exposes transactional bill operations plus the ledger store
// bound to the same transaction, so bill transitions and their stock effects
// commit or roll back together.
type TxRepository interface {
	GetBillForUpdate(ctx context.Context, id int64) (Bill, []BillItem, error)
	InsertBill(ctx context.Context, bill Bill) (int64, error)
	InsertItem(ctx context.Context, item BillItem) (int64, error)
	ReplaceItems(ctx context.Context, billID int64, items []BillItem) error
	SetItemReceipt(ctx context.Context, itemID int64, received int64, discrepancy DiscrepancyType, notes string) error
	UpdateBillTotal(ctx context.Context, billID int64, total float64) error
	MarkVerified(ctx context.Context, billID int64, status VerificationStatus, at time.Time, notes string) error
	MarkCompleted(ctx context.Context, billID int64, at time.Time) error
	MarkCancelled(ctx context.Context, billID int64) error
	NextBillNumber(ctx context.Context, companyID int64, billType BillType) (string, error)
	Ledger() inventory.TxStore
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the bill state machine: creation, draft editing,
// verification, and cancellation. Completions live on the Coordinator.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the bill service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateExitBill validates the cart and persists a draft exit bill. The
// ledger is untouched: stock is only committed at completion so abandoned
// drafts never lock stock.
func (s *Service) CreateExitBill(ctx context.Context, input CreateExitInput) (Bill, []BillItem, error) {
	if input.CompanyID == 0 || input.FranchiseID == 0 {
		return Bill{}, nil, fmt.Errorf("%w: company and franchise required", ErrValidation)
	}
	if err := validateItems(input.Items); err != nil {
		return Bill{}, nil, err
	}

	bill := Bill{
		Type:        BillTypeExit,
		Status:      BillStatusDraft,
		CompanyID:   input.CompanyID,
		FranchiseID: input.FranchiseID,
		Notes:       input.Notes,
		TotalAmount: itemsTotal(input.Items),
	}
	var items []BillItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextBillNumber(ctx, input.CompanyID, BillTypeExit)
		if err != nil {
			return err
		}
		bill.Number = number
		id, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		for _, in := range input.Items {
			item := BillItem{BillID: id, VariantID: in.VariantID, Quantity: in.Quantity, UnitPrice: in.UnitPrice}
			itemID, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return Bill{}, nil, err
	}
	s.recordAudit(ctx, input.ActorID, "transfer:exit_create", bill.ID, map[string]any{"number": bill.Number, "total": bill.TotalAmount})
	return bill, items, nil
}

// UpdateExitBillItems replaces the item set of a draft exit bill and
// recomputes the total.
func (s *Service) UpdateExitBillItems(ctx context.Context, billID int64, items []ItemInput, actorID int64) (Bill, []BillItem, error) {
	if err := validateItems(items); err != nil {
		return Bill{}, nil, err
	}
	var (
		bill    Bill
		updated []BillItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, _, err = tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Type != BillTypeExit {
			return fmt.Errorf("%w: items can only be replaced on exit bills", ErrValidation)
		}
		if bill.Status != BillStatusDraft {
			return fmt.Errorf("%w: bill %s is %s", ErrInvalidStateTransition, bill.Number, bill.Status)
		}
		replacement := make([]BillItem, 0, len(items))
		for _, in := range items {
			replacement = append(replacement, BillItem{BillID: billID, VariantID: in.VariantID, Quantity: in.Quantity, UnitPrice: in.UnitPrice})
		}
		if err := tx.ReplaceItems(ctx, billID, replacement); err != nil {
			return err
		}
		bill.TotalAmount = itemsTotal(items)
		if err := tx.UpdateBillTotal(ctx, billID, bill.TotalAmount); err != nil {
			return err
		}
		updated = replacement
		return nil
	})
	if err != nil {
		return Bill{}, nil, err
	}
	s.recordAudit(ctx, actorID, "transfer:exit_update_items", bill.ID, map[string]any{"number": bill.Number, "total": bill.TotalAmount})
	return bill, updated, nil
}

// CancelBill cancels a draft bill of either type. Drafts never touched the
// ledger, so cancellation has no stock effect. Cancellation is terminal.
func (s *Service) CancelBill(ctx context.Context, billID int64, actorID int64) (Bill, error) {
	var bill Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, _, err = tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status != BillStatusDraft {
			return fmt.Errorf("%w: cannot cancel %s bill %s", ErrInvalidStateTransition, bill.Status, bill.Number)
		}
		if err := tx.MarkCancelled(ctx, billID); err != nil {
			return err
		}
		bill.Status = BillStatusCancelled
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordAudit(ctx, actorID, "transfer:cancel", bill.ID, map[string]any{"number": bill.Number})
	return bill, nil
}

// VerifyEntryBill records received quantities against a draft entry bill
// and derives per-item discrepancies. Receipts for variants outside the
// expected set are appended as extra items with expected quantity zero.
// Verification records facts only; no ledger mutation happens until the
// franchise confirms completion.
func (s *Service) VerifyEntryBill(ctx context.Context, input VerifyInput) (Bill, []BillItem, error) {
	receipts := make(map[int64]ReceiptInput, len(input.Receipts))
	for _, receipt := range input.Receipts {
		if receipt.VariantID == 0 {
			return Bill{}, nil, fmt.Errorf("%w: receipt variant required", ErrValidation)
		}
		if receipt.Received < 0 {
			return Bill{}, nil, fmt.Errorf("%w: received quantity must be >= 0", ErrValidation)
		}
		if _, dup := receipts[receipt.VariantID]; dup {
			return Bill{}, nil, fmt.Errorf("%w: duplicate receipt for variant %d", ErrValidation, receipt.VariantID)
		}
		receipts[receipt.VariantID] = receipt
	}

	var (
		bill  Bill
		items []BillItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, items, err = tx.GetBillForUpdate(ctx, input.BillID)
		if err != nil {
			return err
		}
		if bill.Type != BillTypeEntry {
			return fmt.Errorf("%w: only entry bills are verified", ErrValidation)
		}
		if bill.Status != BillStatusDraft {
			return fmt.Errorf("%w: bill %s is %s", ErrInvalidStateTransition, bill.Number, bill.Status)
		}

		discrepanciesFound := false
		for i := range items {
			receipt := receipts[items[i].VariantID]
			delete(receipts, items[i].VariantID)
			received := receipt.Received
			discrepancy := Classify(items[i].Quantity, received)
			if discrepancy != DiscrepancyNone {
				discrepanciesFound = true
			}
			if err := tx.SetItemReceipt(ctx, items[i].ID, received, discrepancy, receipt.Notes); err != nil {
				return err
			}
			items[i].Received = &received
			items[i].Discrepancy = discrepancy
			items[i].DiscrepancyNotes = receipt.Notes
		}

		// remaining receipts are units received but never billed
		for _, receipt := range receipts {
			if receipt.Received == 0 {
				continue
			}
			extra, err := appendVerificationItem(ctx, tx, bill.ID, receipt)
			if err != nil {
				return err
			}
			discrepanciesFound = true
			items = append(items, extra)
		}

		bill.Verification = VerificationVerified
		if discrepanciesFound {
			bill.Verification = VerificationDiscrepancies
		}
		bill.Status = BillStatusVerified
		bill.VerifiedAt = time.Now().UTC()
		bill.Notes = appendNotes(bill.Notes, input.Notes)
		return tx.MarkVerified(ctx, bill.ID, bill.Verification, bill.VerifiedAt, input.Notes)
	})
	if err != nil {
		return Bill{}, nil, err
	}
	meta := map[string]any{
		"number":       bill.Number,
		"verification": string(bill.Verification),
	}
	if input.Notes != "" {
		meta["notes"] = input.Notes
	}
	s.recordAudit(ctx, input.ActorID, "transfer:entry_verify", bill.ID, meta)
	return bill, items, nil
}

// appendVerificationItem grows the entry bill's item set with a line for
// units received outside the expected set. The item is classified extra by
// construction.
func appendVerificationItem(ctx context.Context, tx TxRepository, billID int64, receipt ReceiptInput) (BillItem, error) {
	received := receipt.Received
	item := BillItem{
		BillID:           billID,
		VariantID:        receipt.VariantID,
		Quantity:         0,
		Received:         &received,
		Discrepancy:      Classify(0, received),
		DiscrepancyNotes: receipt.Notes,
	}
	id, err := tx.InsertItem(ctx, item)
	if err != nil {
		return BillItem{}, err
	}
	item.ID = id
	return item, nil
}

// Bill loads one bill with its items.
func (s *Service) Bill(ctx context.Context, id int64) (Bill, []BillItem, error) {
	return s.repo.GetBill(ctx, id)
}

// Bills lists bills matching the filter.
func (s *Service) Bills(ctx context.Context, filter BillFilter) ([]Bill, shared.Pagination, error) {
	bills, total, err := s.repo.ListBills(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return bills, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// SummarizeDiscrepancies recomputes the discrepancy projection for an entry
// bill from stored item state.
func (s *Service) SummarizeDiscrepancies(ctx context.Context, billID int64) (DiscrepancySummary, error) {
	bill, items, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return DiscrepancySummary{}, err
	}
	if bill.Type != BillTypeEntry {
		return DiscrepancySummary{}, fmt.Errorf("%w: discrepancies exist only on entry bills", ErrValidation)
	}
	return Summarize(items), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, billID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer_bill",
		EntityID: fmt.Sprintf("%d", billID),
		Meta:     meta,
	})
}

// appendNotes joins the verification note onto any notes the bill carried
// from creation, one note per line.
func appendNotes(existing, addition string) string {
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if item.VariantID == 0 {
			return fmt.Errorf("%w: item variant required", ErrValidation)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", ErrValidation)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price must be >= 0", ErrValidation)
		}
		if _, dup := seen[item.VariantID]; dup {
			return fmt.Errorf("%w: duplicate item for variant %d", ErrValidation, item.VariantID)
		}
		seen[item.VariantID] = struct{}{}
	}
	return nil
}

func itemsTotal(items []ItemInput) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}
