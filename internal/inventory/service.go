package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetRecord(ctx context.Context, id int64) (Record, error)
	FindRecord(ctx context.Context, locType LocationType, locID, variantID int64) (Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	ListBelowReorderPoint(ctx context.Context, locType LocationType) ([]Record, error)
}

// TxStore exposes transactional operations used by the ledger. Bill
// completion flows obtain one bound to their own transaction so ledger
// effects and bill transitions commit together.
type TxStore interface {
	GetRecordForUpdate(ctx context.Context, id int64) (Record, error)
	FindRecordForUpdate(ctx context.Context, locType LocationType, locID, variantID int64) (Record, error)
	InsertRecord(ctx context.Context, rec Record) (int64, error)
	UpdateQuantities(ctx context.Context, id int64, stock, reserved int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowNegativeStock keeps the warn-but-allow policy for manual
	// adjustments and POS sales. Reservations and transfer exits are always
	// bounded by available stock regardless of this flag.
	AllowNegativeStock bool
}

// Service owns the stock ledger: per-record quantities and the append-only
// movement history.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	allowNeg bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, allowNeg: cfg.AllowNegativeStock}
}

// MovementParams drives one ledger mutation. Either InventoryID or the
// (LocationType, LocationID, VariantID) triple identifies the record;
// CreateIfMissing covers first-time stocking at a location.
type MovementParams struct {
	InventoryID     int64
	LocationType    LocationType
	LocationID      int64
	VariantID       int64
	Delta           int64
	Kind            MovementKind
	RefType         string
	RefID           string
	Notes           string
	ActorID         int64
	CreateIfMissing bool
	AllowNegative   bool
}

// ApplyMovement mutates one record and writes its movement inside the
// caller's transaction. The guards depend on the movement kind:
// reservations are bounded by available stock, releases by reserved stock,
// transfer exits by available stock, and everything else follows the
// negative-stock policy. The strict policy keeps stock at or above the
// reserved quantity; the relaxed policy permits any result and leaves
// existing reservations claimed. Exactly one movement row is written per
// call.
func ApplyMovement(ctx context.Context, tx TxStore, params MovementParams) (Record, error) {
	rec, err := resolveRecord(ctx, tx, params)
	if err != nil {
		return Record{}, err
	}
	if !rec.IsActive {
		return Record{}, ErrRecordInactive
	}

	delta := params.Delta
	switch params.Kind {
	case MovementReservation:
		if delta <= 0 {
			return Record{}, ErrInvalidQuantity
		}
		if delta > rec.Available() {
			return Record{}, &ShortageError{InventoryID: rec.ID, VariantID: rec.VariantID, Requested: delta, Available: rec.Available(), Reserved: rec.Reserved}
		}
		rec.Reserved += delta
	case MovementRelease:
		if delta <= 0 {
			return Record{}, ErrInvalidQuantity
		}
		if delta > rec.Reserved {
			return Record{}, fmt.Errorf("%w: requested %d, reserved %d", ErrInsufficientReservedStock, delta, rec.Reserved)
		}
		rec.Reserved -= delta
		delta = -delta
	case MovementTransferOut:
		if delta >= 0 {
			return Record{}, ErrInvalidQuantity
		}
		if -delta > rec.Available() {
			return Record{}, &ShortageError{InventoryID: rec.ID, VariantID: rec.VariantID, Requested: -delta, Available: rec.Available(), Reserved: rec.Reserved}
		}
		rec.Stock += delta
	case MovementTransferIn:
		if delta <= 0 {
			return Record{}, ErrInvalidQuantity
		}
		rec.Stock += delta
	default:
		if delta == 0 {
			return Record{}, ErrInvalidAdjustment
		}
		next := rec.Stock + delta
		if next < rec.Reserved && !params.AllowNegative {
			if next < 0 {
				return Record{}, ErrNegativeStock
			}
			return Record{}, fmt.Errorf("%w: stock %d, reserved %d", ErrStockBelowReserved, next, rec.Reserved)
		}
		rec.Stock = next
	}

	if err := tx.UpdateQuantities(ctx, rec.ID, rec.Stock, rec.Reserved); err != nil {
		return Record{}, err
	}
	if _, err := tx.InsertMovement(ctx, Movement{
		InventoryID: rec.ID,
		Delta:       delta,
		Kind:        params.Kind,
		RefType:     params.RefType,
		RefID:       params.RefID,
		Notes:       params.Notes,
		ActorID:     params.ActorID,
	}); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func resolveRecord(ctx context.Context, tx TxStore, params MovementParams) (Record, error) {
	if params.InventoryID != 0 {
		return tx.GetRecordForUpdate(ctx, params.InventoryID)
	}
	rec, err := tx.FindRecordForUpdate(ctx, params.LocationType, params.LocationID, params.VariantID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) || !params.CreateIfMissing {
		return Record{}, err
	}
	rec = Record{
		LocationType: params.LocationType,
		LocationID:   params.LocationID,
		VariantID:    params.VariantID,
		IsActive:     true,
	}
	id, err := tx.InsertRecord(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}

// CreateRecord explicitly creates an inventory record with zero stock.
func (s *Service) CreateRecord(ctx context.Context, input CreateRecordInput) (Record, error) {
	if !input.LocationType.IsValid() {
		return Record{}, fmt.Errorf("inventory: unknown location type %q", input.LocationType)
	}
	if input.LocationID == 0 || input.VariantID == 0 {
		return Record{}, errors.New("inventory: location and variant required")
	}
	if input.ReorderPoint < 0 {
		return Record{}, errors.New("inventory: reorder point must be >= 0")
	}
	var created Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if _, err := tx.FindRecordForUpdate(ctx, input.LocationType, input.LocationID, input.VariantID); err == nil {
			return ErrRecordExists
		} else if !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		rec := Record{
			LocationType: input.LocationType,
			LocationID:   input.LocationID,
			VariantID:    input.VariantID,
			ReorderPoint: input.ReorderPoint,
			IsActive:     true,
		}
		id, err := tx.InsertRecord(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		created = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:create", created.ID, map[string]any{
		"location_type": string(created.LocationType),
		"location_id":   created.LocationID,
		"variant_id":    created.VariantID,
	})
	return created, nil
}

// AdjustStock applies a signed delta to physical stock. Negative results are
// permitted under the warn-but-allow policy and flagged in the audit trail.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (Record, error) {
	if input.Delta == 0 {
		return Record{}, ErrInvalidAdjustment
	}
	rec, err := s.apply(ctx, MovementParams{
		InventoryID:   input.InventoryID,
		Delta:         input.Delta,
		Kind:          MovementAdjustment,
		RefType:       input.RefType,
		RefID:         input.RefID,
		Notes:         input.Notes,
		ActorID:       input.ActorID,
		AllowNegative: s.allowNeg,
	})
	if err != nil {
		return Record{}, err
	}
	meta := map[string]any{"delta": input.Delta, "stock": rec.Stock}
	action := "inventory:adjust"
	if rec.Stock < 0 {
		action = "inventory:adjust_negative"
	}
	s.recordAudit(ctx, input.ActorID, action, rec.ID, meta)
	return rec, nil
}

// Reserve places a soft hold on available stock.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Record, error) {
	if input.Quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	rec, err := s.apply(ctx, MovementParams{
		InventoryID: input.InventoryID,
		Delta:       input.Quantity,
		Kind:        MovementReservation,
		RefType:     input.RefType,
		RefID:       input.RefID,
		Notes:       input.Notes,
		ActorID:     input.ActorID,
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:reserve", rec.ID, map[string]any{"quantity": input.Quantity, "reserved": rec.Reserved})
	return rec, nil
}

// Release returns reserved stock to the available pool.
func (s *Service) Release(ctx context.Context, input ReleaseInput) (Record, error) {
	if input.Quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	rec, err := s.apply(ctx, MovementParams{
		InventoryID: input.InventoryID,
		Delta:       input.Quantity,
		Kind:        MovementRelease,
		Notes:       input.Notes,
		ActorID:     input.ActorID,
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:release", rec.ID, map[string]any{"quantity": input.Quantity, "reserved": rec.Reserved})
	return rec, nil
}

// RecordSale decrements stock on behalf of the POS flow.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (Record, error) {
	if input.Quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	rec, err := s.apply(ctx, MovementParams{
		InventoryID:   input.InventoryID,
		Delta:         -input.Quantity,
		Kind:          MovementSale,
		RefType:       input.RefType,
		RefID:         input.RefID,
		Notes:         input.Notes,
		ActorID:       input.ActorID,
		AllowNegative: s.allowNeg,
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:sale", rec.ID, map[string]any{"quantity": input.Quantity, "stock": rec.Stock})
	return rec, nil
}

// RecordRefund returns sold stock on behalf of the POS flow.
func (s *Service) RecordRefund(ctx context.Context, input SaleInput) (Record, error) {
	if input.Quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	rec, err := s.apply(ctx, MovementParams{
		InventoryID: input.InventoryID,
		Delta:       input.Quantity,
		Kind:        MovementRefund,
		RefType:     input.RefType,
		RefID:       input.RefID,
		Notes:       input.Notes,
		ActorID:     input.ActorID,
	})
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, input.ActorID, "inventory:refund", rec.ID, map[string]any{"quantity": input.Quantity, "stock": rec.Stock})
	return rec, nil
}

// Deactivate hides a record from active listings. Records are never deleted
// so the movement history stays intact.
func (s *Service) Deactivate(ctx context.Context, id int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if _, err := tx.GetRecordForUpdate(ctx, id); err != nil {
			return err
		}
		return tx.SetActive(ctx, id, false)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "inventory:deactivate", id, nil)
	return nil
}

// Record loads one inventory record.
func (s *Service) Record(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// FindRecord loads the record for a variant at a location.
func (s *Service) FindRecord(ctx context.Context, locType LocationType, locID, variantID int64) (Record, error) {
	return s.repo.FindRecord(ctx, locType, locID, variantID)
}

// Records lists inventory records at a location.
func (s *Service) Records(ctx context.Context, filter RecordFilter) ([]Record, shared.Pagination, error) {
	records, total, err := s.repo.ListRecords(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Movements lists the movement history newest-first.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, shared.Pagination, error) {
	if filter.InventoryID == 0 {
		return nil, shared.Pagination{}, errors.New("inventory: inventory id required")
	}
	movements, total, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// BelowReorderPoint lists active records at or below their reorder point.
func (s *Service) BelowReorderPoint(ctx context.Context, locType LocationType) ([]Record, error) {
	return s.repo.ListBelowReorderPoint(ctx, locType)
}

func (s *Service) apply(ctx context.Context, params MovementParams) (Record, error) {
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		rec, err = ApplyMovement(ctx, tx, params)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, recordID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_record",
		EntityID: fmt.Sprintf("%d", recordID),
		Meta:     meta,
	})
}
