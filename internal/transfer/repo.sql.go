package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind-erp/internal/inventory"
	"github.com/tradewind-erp/tradewind-erp/internal/platform/db"
)

// Repository persists transfer bills in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction. The
// TxRepository it hands out carries a ledger store bound to the same
// transaction, so completions mutate bills and stock atomically.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: inventory.NewTxStore(tx)})
	})
}

const billColumns = `id, number, bill_type, status, company_id, franchise_id, source_bill_id, notes, total_amount, verification_status, created_at, verified_at, completed_at`

const itemColumns = `id, bill_id, variant_id, quantity, received_quantity, unit_price, discrepancy_type, discrepancy_notes`

func (r *Repository) GetBill(ctx context.Context, id int64) (Bill, []BillItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM transfer_bills WHERE id=$1`, id)
	bill, err := scanBill(row)
	if err != nil {
		return Bill{}, nil, err
	}
	items, err := listItems(ctx, r.pool, id)
	if err != nil {
		return Bill{}, nil, err
	}
	return bill, items, nil
}

func (r *Repository) ListBills(ctx context.Context, filter BillFilter) ([]Bill, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.CompanyID != 0 {
		args = append(args, filter.CompanyID)
		where = append(where, fmt.Sprintf("company_id=$%d", len(args)))
	}
	if filter.FranchiseID != 0 {
		args = append(args, filter.FranchiseID)
		where = append(where, fmt.Sprintf("franchise_id=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("bill_type=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_bills WHERE `+cond, args...).Scan(&total); err != nil {
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
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM transfer_bills WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, billColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	bills := []Bill{}
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return bills, total, nil
}

type txRepo struct {
	tx     pgx.Tx
	ledger inventory.TxStore
}

func (s *txRepo) Ledger() inventory.TxStore {
	return s.ledger
}

func (s *txRepo) GetBillForUpdate(ctx context.Context, id int64) (Bill, []BillItem, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM transfer_bills WHERE id=$1 FOR UPDATE`, id)
	bill, err := scanBill(row)
	if err != nil {
		return Bill{}, nil, err
	}
	items, err := listItems(ctx, s.tx, id)
	if err != nil {
		return Bill{}, nil, err
	}
	return bill, items, nil
}

func (s *txRepo) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO transfer_bills (number, bill_type, status, company_id, franchise_id, source_bill_id, notes, total_amount, verification_status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		bill.Number, string(bill.Type), string(bill.Status), bill.CompanyID, bill.FranchiseID, nullID(bill.SourceBillID), nullStr(bill.Notes), bill.TotalAmount, nullStr(string(bill.Verification))).Scan(&id)
	return id, err
}

func (s *txRepo) InsertItem(ctx context.Context, item BillItem) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO transfer_bill_items (bill_id, variant_id, quantity, received_quantity, unit_price, discrepancy_type, discrepancy_notes)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		item.BillID, item.VariantID, item.Quantity, item.Received, item.UnitPrice, nullStr(string(item.Discrepancy)), nullStr(item.DiscrepancyNotes)).Scan(&id)
	return id, err
}

func (s *txRepo) ReplaceItems(ctx context.Context, billID int64, items []BillItem) error {
	if _, err := s.tx.Exec(ctx, `DELETE FROM transfer_bill_items WHERE bill_id=$1`, billID); err != nil {
		return err
	}
	for _, item := range items {
		item.BillID = billID
		if _, err := s.InsertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *txRepo) SetItemReceipt(ctx context.Context, itemID int64, received int64, discrepancy DiscrepancyType, notes string) error {
	_, err := s.tx.Exec(ctx, `UPDATE transfer_bill_items SET received_quantity=$2, discrepancy_type=$3, discrepancy_notes=$4 WHERE id=$1`,
		itemID, received, string(discrepancy), nullStr(notes))
	return err
}

func (s *txRepo) UpdateBillTotal(ctx context.Context, billID int64, total float64) error {
	_, err := s.tx.Exec(ctx, `UPDATE transfer_bills SET total_amount=$2 WHERE id=$1`, billID, total)
	return err
}

func (s *txRepo) MarkVerified(ctx context.Context, billID int64, status VerificationStatus, at time.Time, notes string) error {
	_, err := s.tx.Exec(ctx, `UPDATE transfer_bills SET status=$2, verification_status=$3, verified_at=$4,
notes = CASE WHEN $5 = '' THEN notes WHEN notes IS NULL OR notes = '' THEN $5 ELSE notes || E'\n' || $5 END
WHERE id=$1`,
		billID, string(BillStatusVerified), string(status), at, notes)
	return err
}

func (s *txRepo) MarkCompleted(ctx context.Context, billID int64, at time.Time) error {
	_, err := s.tx.Exec(ctx, `UPDATE transfer_bills SET status=$2, completed_at=$3 WHERE id=$1`,
		billID, string(BillStatusCompleted), at)
	return err
}

func (s *txRepo) MarkCancelled(ctx context.Context, billID int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE transfer_bills SET status=$2 WHERE id=$1`, billID, string(BillStatusCancelled))
	return err
}

// NextBillNumber hands out the next sequential number for the company and
// bill type, formatted like EX-2025-000042. The counter row is locked so
// concurrent completions never share a number.
func (s *txRepo) NextBillNumber(ctx context.Context, companyID int64, billType BillType) (string, error) {
	prefix := "EX"
	if billType == BillTypeEntry {
		prefix = "EN"
	}
	year := time.Now().Year()
	var next int64
	err := s.tx.QueryRow(ctx, `INSERT INTO bill_number_seqs (company_id, bill_type, year, counter)
VALUES ($1,$2,$3,1)
ON CONFLICT (company_id, bill_type, year) DO UPDATE SET counter = bill_number_seqs.counter + 1
RETURNING counter`, companyID, string(billType), year).Scan(&next)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, year, next), nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q queryer, billID int64) ([]BillItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM transfer_bill_items WHERE bill_id=$1 ORDER BY id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []BillItem{}
	for rows.Next() {
		var item BillItem
		var discrepancy, notes *string
		if err := rows.Scan(&item.ID, &item.BillID, &item.VariantID, &item.Quantity, &item.Received, &item.UnitPrice, &discrepancy, &notes); err != nil {
			return nil, err
		}
		if discrepancy != nil {
			item.Discrepancy = DiscrepancyType(*discrepancy)
		}
		if notes != nil {
			item.DiscrepancyNotes = *notes
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (Bill, error) {
	var bill Bill
	var sourceID *int64
	var notes, verification *string
	var verifiedAt, completedAt *time.Time
	err := row.Scan(&bill.ID, &bill.Number, &bill.Type, &bill.Status, &bill.CompanyID, &bill.FranchiseID, &sourceID, &notes, &bill.TotalAmount, &verification, &bill.CreatedAt, &verifiedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	if sourceID != nil {
		bill.SourceBillID = *sourceID
	}
	if notes != nil {
		bill.Notes = *notes
	}
	if verification != nil {
		bill.Verification = VerificationStatus(*verification)
	}
	if verifiedAt != nil {
		bill.VerifiedAt = *verifiedAt
	}
	if completedAt != nil {
		bill.CompletedAt = *completedAt
	}
	return bill, nil
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullID(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
