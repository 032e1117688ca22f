package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradewind-erp/tradewind-erp/internal/inventory"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// memoryState is the mutable state shared by bills and the ledger. WithTx
// snapshots it so a failed callback genuinely rolls everything back.
type memoryState struct {
	bills     map[int64]Bill
	items     map[int64]BillItem
	records   map[int64]inventory.Record
	movements []inventory.Movement
	counters  map[string]int64
	nextBill  int64
	nextItem  int64
	nextRec   int64
	nextMove  int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		bills:    make(map[int64]Bill),
		items:    make(map[int64]BillItem),
		records:  make(map[int64]inventory.Record),
		counters: make(map[string]int64),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for id, b := range s.bills {
		c.bills[id] = b
	}
	for id, i := range s.items {
		c.items[id] = i
	}
	for id, r := range s.records {
		c.records[id] = r
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	c.movements = append(c.movements, s.movements...)
	c.nextBill, c.nextItem, c.nextRec, c.nextMove = s.nextBill, s.nextItem, s.nextRec, s.nextMove
	return c
}

func (s *memoryState) billItems(billID int64) []BillItem {
	items := []BillItem{}
	for _, item := range s.items {
		if item.BillID == billID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemoryState()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	tx := &memoryTx{state: r.state}
	if err := fn(ctx, tx); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetBill(ctx context.Context, id int64) (Bill, []BillItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.state.bills[id]
	if !ok {
		return Bill{}, nil, ErrBillNotFound
	}
	return bill, r.state.billItems(id), nil
}

func (r *memoryRepo) ListBills(ctx context.Context, filter BillFilter) ([]Bill, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bills := []Bill{}
	for _, bill := range r.state.bills {
		if filter.CompanyID != 0 && bill.CompanyID != filter.CompanyID {
			continue
		}
		if filter.FranchiseID != 0 && bill.FranchiseID != filter.FranchiseID {
			continue
		}
		if filter.Type != "" && bill.Type != filter.Type {
			continue
		}
		if filter.Status != "" && bill.Status != filter.Status {
			continue
		}
		bills = append(bills, bill)
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].ID > bills[j].ID })
	return bills, len(bills), nil
}

// record looks up a ledger record outside any transaction.
func (r *memoryRepo) record(locType inventory.LocationType, locID, variantID int64) (inventory.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.state.records {
		if rec.LocationType == locType && rec.LocationID == locID && rec.VariantID == variantID {
			return rec, true
		}
	}
	return inventory.Record{}, false
}

// seedStock creates a ledger record with opening stock.
func (r *memoryRepo) seedStock(locType inventory.LocationType, locID, variantID, stock int64) inventory.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextRec++
	rec := inventory.Record{
		ID:           r.state.nextRec,
		LocationType: locType,
		LocationID:   locID,
		VariantID:    variantID,
		Stock:        stock,
		IsActive:     true,
	}
	r.state.records[rec.ID] = rec
	return rec
}

func (r *memoryRepo) movementCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.movements)
}

type memoryTx struct {
	state *memoryState
}

func (tx *memoryTx) Ledger() inventory.TxStore {
	return &memoryLedger{state: tx.state}
}

func (tx *memoryTx) GetBillForUpdate(ctx context.Context, id int64) (Bill, []BillItem, error) {
	bill, ok := tx.state.bills[id]
	if !ok {
		return Bill{}, nil, ErrBillNotFound
	}
	return bill, tx.state.billItems(id), nil
}

func (tx *memoryTx) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	tx.state.nextBill++
	bill.ID = tx.state.nextBill
	bill.CreatedAt = time.Now()
	tx.state.bills[bill.ID] = bill
	return bill.ID, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item BillItem) (int64, error) {
	tx.state.nextItem++
	item.ID = tx.state.nextItem
	tx.state.items[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) ReplaceItems(ctx context.Context, billID int64, items []BillItem) error {
	for id, item := range tx.state.items {
		if item.BillID == billID {
			delete(tx.state.items, id)
		}
	}
	for _, item := range items {
		item.BillID = billID
		if _, err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) SetItemReceipt(ctx context.Context, itemID int64, received int64, discrepancy DiscrepancyType, notes string) error {
	item, ok := tx.state.items[itemID]
	if !ok {
		return fmt.Errorf("item %d not found", itemID)
	}
	item.Received = &received
	item.Discrepancy = discrepancy
	item.DiscrepancyNotes = notes
	tx.state.items[itemID] = item
	return nil
}

func (tx *memoryTx) UpdateBillTotal(ctx context.Context, billID int64, total float64) error {
	bill, ok := tx.state.bills[billID]
	if !ok {
		return ErrBillNotFound
	}
	bill.TotalAmount = total
	tx.state.bills[billID] = bill
	return nil
}

func (tx *memoryTx) MarkVerified(ctx context.Context, billID int64, status VerificationStatus, at time.Time, notes string) error {
	bill, ok := tx.state.bills[billID]
	if !ok {
		return ErrBillNotFound
	}
	bill.Status = BillStatusVerified
	bill.Verification = status
	bill.VerifiedAt = at
	bill.Notes = appendNotes(bill.Notes, notes)
	tx.state.bills[billID] = bill
	return nil
}

func (tx *memoryTx) MarkCompleted(ctx context.Context, billID int64, at time.Time) error {
	bill, ok := tx.state.bills[billID]
	if !ok {
		return ErrBillNotFound
	}
	bill.Status = BillStatusCompleted
	bill.CompletedAt = at
	tx.state.bills[billID] = bill
	return nil
}

func (tx *memoryTx) MarkCancelled(ctx context.Context, billID int64) error {
	bill, ok := tx.state.bills[billID]
	if !ok {
		return ErrBillNotFound
	}
	bill.Status = BillStatusCancelled
	tx.state.bills[billID] = bill
	return nil
}

func (tx *memoryTx) NextBillNumber(ctx context.Context, companyID int64, billType BillType) (string, error) {
	key := fmt.Sprintf("%d:%s", companyID, billType)
	tx.state.counters[key]++
	prefix := "EX"
	if billType == BillTypeEntry {
		prefix = "EN"
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, time.Now().Year(), tx.state.counters[key]), nil
}

// memoryLedger implements the ledger store over the same state as the bill
// transaction.
type memoryLedger struct {
	state *memoryState
}

func (l *memoryLedger) GetRecordForUpdate(ctx context.Context, id int64) (inventory.Record, error) {
	rec, ok := l.state.records[id]
	if !ok {
		return inventory.Record{}, inventory.ErrRecordNotFound
	}
	return rec, nil
}

func (l *memoryLedger) FindRecordForUpdate(ctx context.Context, locType inventory.LocationType, locID, variantID int64) (inventory.Record, error) {
	for _, rec := range l.state.records {
		if rec.LocationType == locType && rec.LocationID == locID && rec.VariantID == variantID {
			return rec, nil
		}
	}
	return inventory.Record{}, inventory.ErrRecordNotFound
}

func (l *memoryLedger) InsertRecord(ctx context.Context, rec inventory.Record) (int64, error) {
	l.state.nextRec++
	rec.ID = l.state.nextRec
	l.state.records[rec.ID] = rec
	return rec.ID, nil
}

func (l *memoryLedger) UpdateQuantities(ctx context.Context, id int64, stock, reserved int64) error {
	rec, ok := l.state.records[id]
	if !ok {
		return inventory.ErrRecordNotFound
	}
	rec.Stock = stock
	rec.Reserved = reserved
	l.state.records[id] = rec
	return nil
}

func (l *memoryLedger) SetActive(ctx context.Context, id int64, active bool) error {
	rec, ok := l.state.records[id]
	if !ok {
		return inventory.ErrRecordNotFound
	}
	rec.IsActive = active
	l.state.records[id] = rec
	return nil
}

func (l *memoryLedger) InsertMovement(ctx context.Context, mv inventory.Movement) (int64, error) {
	l.state.nextMove++
	mv.ID = l.state.nextMove
	l.state.movements = append(l.state.movements, mv)
	return mv.ID, nil
}

// memoryIdem is an in-memory idempotency guard.
type memoryIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{seen: make(map[string]bool)}
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[key] = true
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}
