package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind-erp/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// NewTxStore binds ledger operations to an existing transaction. Bill
// completion uses this so ledger and bill rows commit together.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

const recordColumns = `id, location_type, location_id, variant_id, stock, reserved_stock, reorder_point, is_active, created_at, updated_at`

func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id=$1`, id)
	return scanRecord(row)
}

func (r *Repository) FindRecord(ctx context.Context, locType LocationType, locID, variantID int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE location_type=$1 AND location_id=$2 AND variant_id=$3`, string(locType), locID, variantID)
	return scanRecord(row)
}

func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error) {
	where := []string{"location_type=$1", "location_id=$2"}
	args := []any{string(filter.LocationType), filter.LocationID}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_records WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM inventory_records WHERE %s ORDER BY variant_id ASC LIMIT $%d OFFSET $%d`, recordColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	where := []string{"inventory_id=$1"}
	args := []any{filter.InventoryID}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		where = append(where, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT id, inventory_id, delta, kind, ref_type, ref_id, notes, actor_id, created_at
FROM stock_movements WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		var refType, refID, notes *string
		if err := rows.Scan(&mv.ID, &mv.InventoryID, &mv.Delta, &mv.Kind, &refType, &refID, &notes, &mv.ActorID, &mv.CreatedAt); err != nil {
			return nil, 0, err
		}
		mv.RefType = deref(refType)
		mv.RefID = deref(refID)
		mv.Notes = deref(notes)
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func (r *Repository) ListBelowReorderPoint(ctx context.Context, locType LocationType) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records
WHERE is_active AND reorder_point > 0 AND stock <= reorder_point AND ($1 = '' OR location_type = $1)
ORDER BY location_type, location_id, variant_id`, string(locType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id=$1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (s *txStore) FindRecordForUpdate(ctx context.Context, locType LocationType, locID, variantID int64) (Record, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE location_type=$1 AND location_id=$2 AND variant_id=$3 FOR UPDATE`, string(locType), locID, variantID)
	return scanRecord(row)
}

func (s *txStore) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO inventory_records (location_type, location_id, variant_id, stock, reserved_stock, reorder_point, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		string(rec.LocationType), rec.LocationID, rec.VariantID, rec.Stock, rec.Reserved, rec.ReorderPoint, rec.IsActive).Scan(&id)
	return id, err
}

func (s *txStore) UpdateQuantities(ctx context.Context, id int64, stock, reserved int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE inventory_records SET stock=$2, reserved_stock=$3, updated_at=NOW() WHERE id=$1`, id, stock, reserved)
	return err
}

func (s *txStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.tx.Exec(ctx, `UPDATE inventory_records SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	return err
}

func (s *txStore) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (inventory_id, delta, kind, ref_type, ref_id, notes, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		mv.InventoryID, mv.Delta, string(mv.Kind), nullStr(mv.RefType), nullStr(mv.RefID), nullStr(mv.Notes), mv.ActorID).Scan(&id)
	return id, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.LocationType, &rec.LocationID, &rec.VariantID, &rec.Stock, &rec.Reserved, &rec.ReorderPoint, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
