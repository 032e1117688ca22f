package transfer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BillType distinguishes the two halves of a warehouse transfer.
type BillType string

const (
	// BillTypeExit moves stock out of central company inventory.
	BillTypeExit BillType = "EXIT"
	// BillTypeEntry receives stock at the destination franchise.
	BillTypeEntry BillType = "ENTRY"
)

// BillStatus is the bill lifecycle state. Exit bills go draft to completed
// directly; entry bills pass through verified. Cancellation is terminal and
// only reachable from draft.
type BillStatus string

const (
	BillStatusDraft     BillStatus = "DRAFT"
	BillStatusVerified  BillStatus = "VERIFIED"
	BillStatusCompleted BillStatus = "COMPLETED"
	BillStatusCancelled BillStatus = "CANCELLED"
)

// VerificationStatus tracks the reconciliation outcome of an entry bill.
type VerificationStatus string

const (
	VerificationPending       VerificationStatus = "PENDING"
	VerificationVerified      VerificationStatus = "VERIFIED"
	VerificationDiscrepancies VerificationStatus = "DISCREPANCIES_FOUND"
)

// DiscrepancyType classifies the gap between expected and received
// quantities on one entry bill item. It is always derived, never set by the
// caller.
type DiscrepancyType string

const (
	DiscrepancyNone     DiscrepancyType = "NONE"
	DiscrepancyMissing  DiscrepancyType = "MISSING"
	DiscrepancyExtra    DiscrepancyType = "EXTRA"
	DiscrepancyMismatch DiscrepancyType = "QUANTITY_MISMATCH"
)

// Bill is one warehouse transfer bill. Exit bills are owned by the company,
// entry bills by the destination franchise. An entry bill keeps the id of
// the exit bill it was materialized from; the pairing is 1:1 and immutable.
type Bill struct {
	ID           int64
	Number       string
	Type         BillType
	Status       BillStatus
	CompanyID    int64
	FranchiseID  int64
	SourceBillID int64
	Notes        string
	TotalAmount  float64
	Verification VerificationStatus
	CreatedAt    time.Time
	VerifiedAt   time.Time
	CompletedAt  time.Time
}

// BillItem is one line of a bill. Quantity is the shipped quantity on exit
// bills and the expected quantity on entry bills. Received stays nil until
// verification records it.
type BillItem struct {
	ID               int64
	BillID           int64
	VariantID        int64
	Quantity         int64
	Received         *int64
	UnitPrice        float64
	Discrepancy      DiscrepancyType
	DiscrepancyNotes string
}

// ReceivedQuantity returns the recorded receipt, zero when not yet verified.
func (i BillItem) ReceivedQuantity() int64 {
	if i.Received == nil {
		return 0
	}
	return *i.Received
}

// LineTotal is quantity times unit price.
func (i BillItem) LineTotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// ItemInput describes one line when creating or replacing exit bill items.
type ItemInput struct {
	VariantID int64
	Quantity  int64
	UnitPrice float64
}

// ReceiptInput records the received quantity for one variant during entry
// bill verification. Variants outside the expected set are appended as
// extra items.
type ReceiptInput struct {
	VariantID int64
	Received  int64
	Notes     string
}

// CreateExitInput describes a new exit bill.
type CreateExitInput struct {
	CompanyID   int64
	FranchiseID int64
	Notes       string
	Items       []ItemInput
	ActorID     int64
}

// VerifyInput records receipts against a draft entry bill.
type VerifyInput struct {
	BillID   int64
	Receipts []ReceiptInput
	Notes    string
	ActorID  int64
}

// BillFilter restricts bill listings.
type BillFilter struct {
	CompanyID   int64
	FranchiseID int64
	Type        BillType
	Status      BillStatus
	Page        int
	PerPage     int
}

var (
	// ErrBillNotFound indicates an unknown bill id.
	ErrBillNotFound = errors.New("transfer: bill not found")
	// ErrInvalidStateTransition indicates an operation not allowed in the bill's current status.
	ErrInvalidStateTransition = errors.New("transfer: invalid state transition")
	// ErrAlreadyCompleted guards re-entrant completion of a completed bill.
	ErrAlreadyCompleted = errors.New("transfer: bill already completed")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("transfer: invalid input")
	// ErrInsufficientStock is the sentinel behind InsufficientStockError.
	ErrInsufficientStock = errors.New("transfer: insufficient stock")
)

// StockIssue is one offending line of a failed exit completion.
type StockIssue struct {
	VariantID int64
	Requested int64
	Available int64
}

// InsufficientStockError enumerates every short item of a bill completion
// in one payload so the caller can present a complete remediation list.
type InsufficientStockError struct {
	BillID int64
	Issues []StockIssue
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("variant %d: requested %d, available %d", issue.VariantID, issue.Requested, issue.Available)
	}
	return fmt.Sprintf("transfer: bill %d cannot complete, insufficient stock: %s", e.BillID, strings.Join(parts, "; "))
}

// Unwrap lets callers match against ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
