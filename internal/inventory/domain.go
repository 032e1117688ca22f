package inventory

import (
	"errors"
	"fmt"
	"time"
)

// LocationType discriminates who holds the stock. A record belongs to
// exactly one company or one franchise, never both.
type LocationType string

const (
	// LocationCompany marks central company stock.
	LocationCompany LocationType = "COMPANY"
	// LocationFranchise marks franchise stock.
	LocationFranchise LocationType = "FRANCHISE"
)

// IsValid reports whether the location type is known.
func (t LocationType) IsValid() bool {
	return t == LocationCompany || t == LocationFranchise
}

// MovementKind enumerates stock movement categories.
type MovementKind string

const (
	// MovementAdjustment is a manual stock correction.
	MovementAdjustment MovementKind = "ADJUSTMENT"
	// MovementReservation holds stock without removing it.
	MovementReservation MovementKind = "RESERVATION"
	// MovementRelease returns reserved stock to the available pool.
	MovementRelease MovementKind = "RELEASE"
	// MovementTransferIn is stock arriving from a warehouse entry bill.
	MovementTransferIn MovementKind = "TRANSFER_IN"
	// MovementTransferOut is stock leaving through a warehouse exit bill.
	MovementTransferOut MovementKind = "TRANSFER_OUT"
	// MovementSale is a POS sale decrement.
	MovementSale MovementKind = "SALE"
	// MovementRefund is a POS refund increment.
	MovementRefund MovementKind = "REFUND"
)

// AffectsStock reports whether the kind mutates physical stock. Reservation
// and release only move quantity between reserved and available.
func (k MovementKind) AffectsStock() bool {
	switch k {
	case MovementReservation, MovementRelease:
		return false
	default:
		return true
	}
}

// Record is the stock figure for one product variant at one location.
// Available stock is always derived, never stored.
type Record struct {
	ID           int64
	LocationType LocationType
	LocationID   int64
	VariantID    int64
	Stock        int64
	Reserved     int64
	ReorderPoint int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Available returns stock minus reserved. This is the only place the figure
// is computed.
func (r Record) Available() int64 {
	return r.Stock - r.Reserved
}

// BelowReorderPoint reports whether the record needs restocking. A zero
// reorder point disables the alert.
func (r Record) BelowReorderPoint() bool {
	return r.ReorderPoint > 0 && r.Stock <= r.ReorderPoint
}

// Movement is one immutable ledger entry. Every mutation of stock or
// reserved stock writes exactly one movement.
type Movement struct {
	ID          int64
	InventoryID int64
	Delta       int64
	Kind        MovementKind
	RefType     string
	RefID       string
	Notes       string
	ActorID     int64
	CreatedAt   time.Time
}

// CreateRecordInput describes explicit record creation.
type CreateRecordInput struct {
	LocationType LocationType
	LocationID   int64
	VariantID    int64
	ReorderPoint int64
	ActorID      int64
}

// AdjustInput describes a manual stock adjustment.
type AdjustInput struct {
	InventoryID int64
	Delta       int64
	Notes       string
	ActorID     int64
	RefType     string
	RefID       string
}

// ReserveInput describes a soft hold on available stock.
type ReserveInput struct {
	InventoryID int64
	Quantity    int64
	RefType     string
	RefID       string
	Notes       string
	ActorID     int64
}

// ReleaseInput returns reserved stock to the available pool.
type ReleaseInput struct {
	InventoryID int64
	Quantity    int64
	Notes       string
	ActorID     int64
}

// SaleInput describes a POS sale or refund quantity.
type SaleInput struct {
	InventoryID int64
	Quantity    int64
	RefType     string
	RefID       string
	Notes       string
	ActorID     int64
}

// MovementFilter restricts movement listings.
type MovementFilter struct {
	InventoryID int64
	Kinds       []MovementKind
	Page        int
	PerPage     int
}

// RecordFilter restricts record listings to a location.
type RecordFilter struct {
	LocationType LocationType
	LocationID   int64
	ActiveOnly   bool
	Page         int
	PerPage      int
}

var (
	// ErrInvalidAdjustment indicates a zero adjustment delta.
	ErrInvalidAdjustment = errors.New("inventory: adjustment delta must be non zero")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInsufficientAvailableStock indicates a reservation exceeding available stock.
	ErrInsufficientAvailableStock = errors.New("inventory: insufficient available stock")
	// ErrInsufficientReservedStock indicates a release exceeding reserved stock.
	ErrInsufficientReservedStock = errors.New("inventory: insufficient reserved stock")
	// ErrRecordNotFound indicates a missing inventory record.
	ErrRecordNotFound = errors.New("inventory: record not found")
	// ErrRecordExists indicates a duplicate (location, variant) record.
	ErrRecordExists = errors.New("inventory: record already exists for location and variant")
	// ErrRecordInactive indicates a mutation against a deactivated record.
	ErrRecordInactive = errors.New("inventory: record is deactivated")
	// ErrNegativeStock is returned only when the negative-stock policy rejects the result.
	ErrNegativeStock = errors.New("inventory: stock would go negative")
	// ErrStockBelowReserved indicates a decrement that would consume reserved units.
	ErrStockBelowReserved = errors.New("inventory: stock would fall below reserved")
)

// ShortageError reports a single-record shortfall with the figures the
// caller needs to remediate it.
type ShortageError struct {
	InventoryID int64
	VariantID   int64
	Requested   int64
	Available   int64
	Reserved    int64
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("inventory: record %d variant %d short: requested %d, available %d", e.InventoryID, e.VariantID, e.Requested, e.Available)
}

// Unwrap lets callers match the shortage against the sentinel.
func (e *ShortageError) Unwrap() error {
	return ErrInsufficientAvailableStock
}
