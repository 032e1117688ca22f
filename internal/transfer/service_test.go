package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind-erp/internal/inventory"
)

const (
	testCompany   = int64(1)
	testFranchise = int64(9)
)

func newFixture() (*memoryRepo, *Service, *Coordinator) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	coord := NewCoordinator(repo, nil, newMemoryIdem())
	return repo, svc, coord
}

func createDraftExit(t *testing.T, svc *Service, items ...ItemInput) Bill {
	t.Helper()
	if len(items) == 0 {
		items = []ItemInput{{VariantID: 100, Quantity: 5, UnitPrice: 10}}
	}
	bill, _, err := svc.CreateExitBill(context.Background(), CreateExitInput{
		CompanyID:   testCompany,
		FranchiseID: testFranchise,
		Items:       items,
	})
	require.NoError(t, err)
	return bill
}

func TestCreateExitBill(t *testing.T) {
	_, svc, _ := newFixture()
	ctx := context.Background()

	bill, items, err := svc.CreateExitBill(ctx, CreateExitInput{
		CompanyID:   testCompany,
		FranchiseID: testFranchise,
		Items: []ItemInput{
			{VariantID: 100, Quantity: 5, UnitPrice: 10},
			{VariantID: 200, Quantity: 2, UnitPrice: 3.5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, BillTypeExit, bill.Type)
	require.Equal(t, BillStatusDraft, bill.Status)
	require.Equal(t, "EX", bill.Number[:2])
	require.InDelta(t, 57.0, bill.TotalAmount, 0.001)
	require.Len(t, items, 2)
}

func TestCreateExitBillValidation(t *testing.T) {
	_, svc, _ := newFixture()
	ctx := context.Background()

	_, _, err := svc.CreateExitBill(ctx, CreateExitInput{CompanyID: testCompany, FranchiseID: testFranchise})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.CreateExitBill(ctx, CreateExitInput{
		CompanyID:   testCompany,
		FranchiseID: testFranchise,
		Items:       []ItemInput{{VariantID: 100, Quantity: 0, UnitPrice: 1}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.CreateExitBill(ctx, CreateExitInput{
		CompanyID:   testCompany,
		FranchiseID: testFranchise,
		Items: []ItemInput{
			{VariantID: 100, Quantity: 1, UnitPrice: 1},
			{VariantID: 100, Quantity: 2, UnitPrice: 1},
		},
	})
	require.ErrorIs(t, err, ErrValidation, "duplicate variants in one bill are rejected")
}

func TestSequentialBillNumbers(t *testing.T) {
	_, svc, _ := newFixture()

	first := createDraftExit(t, svc)
	second := createDraftExit(t, svc)
	require.NotEqual(t, first.Number, second.Number)
	require.Equal(t, first.Number[:8], second.Number[:8])
}

func TestUpdateExitBillItems(t *testing.T) {
	_, svc, _ := newFixture()
	ctx := context.Background()

	bill := createDraftExit(t, svc)
	updated, items, err := svc.UpdateExitBillItems(ctx, bill.ID, []ItemInput{
		{VariantID: 300, Quantity: 4, UnitPrice: 2.5},
	}, 0)
	require.NoError(t, err)
	require.InDelta(t, 10.0, updated.TotalAmount, 0.001)
	require.Len(t, items, 1)
	require.EqualValues(t, 300, items[0].VariantID)
}

func TestCompleteExitBill(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	repo.seedStock(inventory.LocationCompany, testCompany, 100, 20)
	bill := createDraftExit(t, svc)

	exit, entry, err := coord.CompleteExitBill(ctx, bill.ID, 0)
	require.NoError(t, err)
	require.Equal(t, BillStatusCompleted, exit.Status)
	require.False(t, exit.CompletedAt.IsZero())

	rec, ok := repo.record(inventory.LocationCompany, testCompany, 100)
	require.True(t, ok)
	require.EqualValues(t, 15, rec.Stock)

	require.Equal(t, BillTypeEntry, entry.Type)
	require.Equal(t, BillStatusDraft, entry.Status)
	require.Equal(t, VerificationPending, entry.Verification)
	require.Equal(t, exit.ID, entry.SourceBillID)
	require.Equal(t, "EN", entry.Number[:2])
	require.InDelta(t, exit.TotalAmount, entry.TotalAmount, 0.001)

	_, entryItems, err := svc.Bill(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, entryItems, 1)
	require.EqualValues(t, 5, entryItems[0].Quantity)
	require.Nil(t, entryItems[0].Received, "expected quantity is set, receipt is not")
}

func TestCompleteExitBillInsufficientStockRollsBack(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	repo.seedStock(inventory.LocationCompany, testCompany, 100, 3)
	repo.seedStock(inventory.LocationCompany, testCompany, 200, 50)
	bill := createDraftExit(t, svc,
		ItemInput{VariantID: 100, Quantity: 5, UnitPrice: 10},
		ItemInput{VariantID: 200, Quantity: 10, UnitPrice: 1},
		ItemInput{VariantID: 300, Quantity: 2, UnitPrice: 4},
	)
	movesBefore := repo.movementCount()

	_, _, err := coord.CompleteExitBill(ctx, bill.ID, 0)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Issues, 2, "every short line is reported, not just the first")
	require.EqualValues(t, 100, insufficient.Issues[0].VariantID)
	require.EqualValues(t, 3, insufficient.Issues[0].Available)
	require.EqualValues(t, 300, insufficient.Issues[1].VariantID)
	require.EqualValues(t, 0, insufficient.Issues[1].Available, "unknown records report zero availability")

	// nothing moved, nothing transitioned
	rec, _ := repo.record(inventory.LocationCompany, testCompany, 200)
	require.EqualValues(t, 50, rec.Stock)
	require.Equal(t, movesBefore, repo.movementCount())
	got, _, err := svc.Bill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillStatusDraft, got.Status)
}

func TestCompleteExitBillReservedStockIsUntouchable(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	rec := repo.seedStock(inventory.LocationCompany, testCompany, 100, 10)
	repo.mu.Lock()
	rec.Reserved = 6
	repo.state.records[rec.ID] = rec
	repo.mu.Unlock()

	bill := createDraftExit(t, svc) // wants 5, available is only 4
	_, _, err := coord.CompleteExitBill(ctx, bill.ID, 0)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.EqualValues(t, 4, insufficient.Issues[0].Available)
}

func TestCompleteExitBillTwice(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	repo.seedStock(inventory.LocationCompany, testCompany, 100, 20)
	bill := createDraftExit(t, svc)

	_, _, err := coord.CompleteExitBill(ctx, bill.ID, 0)
	require.NoError(t, err)
	_, _, err = coord.CompleteExitBill(ctx, bill.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	rec, _ := repo.record(inventory.LocationCompany, testCompany, 100)
	require.EqualValues(t, 15, rec.Stock, "stock is deducted once")
}

func completeExitFixture(t *testing.T) (*memoryRepo, *Service, *Coordinator, Bill) {
	t.Helper()
	repo, svc, coord := newFixture()
	repo.seedStock(inventory.LocationCompany, testCompany, 100, 20)
	bill := createDraftExit(t, svc)
	_, entry, err := coord.CompleteExitBill(context.Background(), bill.ID, 0)
	require.NoError(t, err)
	return repo, svc, coord, entry
}

func TestVerifyEntryBillClean(t *testing.T) {
	_, svc, _, entry := completeExitFixture(t)
	ctx := context.Background()

	bill, items, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, BillStatusVerified, bill.Status)
	require.Equal(t, VerificationVerified, bill.Verification)
	require.False(t, bill.VerifiedAt.IsZero())
	require.Equal(t, DiscrepancyNone, items[0].Discrepancy)
	require.EqualValues(t, 5, items[0].ReceivedQuantity())
}

func TestVerifyEntryBillPersistsNotes(t *testing.T) {
	repo, svc, _, entry := completeExitFixture(t)
	ctx := context.Background()

	bill, _, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 5}},
		Notes:    "pallet arrived resealed",
	})
	require.NoError(t, err)
	require.Equal(t, "pallet arrived resealed", bill.Notes)

	stored, _, err := repo.GetBill(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, "pallet arrived resealed", stored.Notes)
}

func TestVerifyNotesAppendToExistingNotes(t *testing.T) {
	require.Equal(t, "first\nsecond", appendNotes("first", "second"))
	require.Equal(t, "first", appendNotes("first", ""))
	require.Equal(t, "second", appendNotes("", "second"))
}

func TestVerifyEntryBillDiscrepancies(t *testing.T) {
	_, svc, _, entry := completeExitFixture(t)
	ctx := context.Background()

	bill, items, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID: entry.ID,
		Receipts: []ReceiptInput{
			{VariantID: 100, Received: 3, Notes: "box damaged"},
			{VariantID: 999, Received: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, VerificationDiscrepancies, bill.Verification)
	require.Len(t, items, 2)
	require.Equal(t, DiscrepancyMismatch, items[0].Discrepancy)
	require.Equal(t, "box damaged", items[0].DiscrepancyNotes)
	require.Equal(t, DiscrepancyExtra, items[1].Discrepancy)
	require.EqualValues(t, 0, items[1].Quantity)
	require.EqualValues(t, 2, items[1].ReceivedQuantity())

	summary, err := svc.SummarizeDiscrepancies(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 1, summary.MismatchCount)
	require.Equal(t, 1, summary.ExtraCount)
	require.False(t, summary.Clean())
}

func TestVerifyEntryBillMissingReceiptMeansMissing(t *testing.T) {
	_, svc, _, entry := completeExitFixture(t)

	bill, items, err := svc.VerifyEntryBill(context.Background(), VerifyInput{BillID: entry.ID})
	require.NoError(t, err)
	require.Equal(t, VerificationDiscrepancies, bill.Verification)
	require.Equal(t, DiscrepancyMissing, items[0].Discrepancy)
	require.EqualValues(t, 0, items[0].ReceivedQuantity())
}

func TestCompleteEntryBill(t *testing.T) {
	repo, svc, coord, entry := completeExitFixture(t)
	ctx := context.Background()

	_, _, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 3}},
	})
	require.NoError(t, err)

	bill, err := coord.CompleteEntryBill(ctx, entry.ID, 0)
	require.NoError(t, err)
	require.Equal(t, BillStatusCompleted, bill.Status)

	rec, ok := repo.record(inventory.LocationFranchise, testFranchise, 100)
	require.True(t, ok, "first receipt creates the franchise record")
	require.EqualValues(t, 3, rec.Stock, "the received quantity is credited, not the expected one")
}

func TestCompleteEntryBillRequiresVerification(t *testing.T) {
	_, _, coord, entry := completeExitFixture(t)

	_, err := coord.CompleteEntryBill(context.Background(), entry.ID, 0)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCompleteEntryBillTwice(t *testing.T) {
	repo, svc, coord, entry := completeExitFixture(t)
	ctx := context.Background()

	_, _, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 5}},
	})
	require.NoError(t, err)
	_, err = coord.CompleteEntryBill(ctx, entry.ID, 0)
	require.NoError(t, err)
	_, err = coord.CompleteEntryBill(ctx, entry.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	rec, _ := repo.record(inventory.LocationFranchise, testFranchise, 100)
	require.EqualValues(t, 5, rec.Stock)
}

func TestZeroReceiptsProduceNoMovements(t *testing.T) {
	repo, svc, coord, entry := completeExitFixture(t)
	ctx := context.Background()

	_, _, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 0}},
	})
	require.NoError(t, err)
	movesBefore := repo.movementCount()

	_, err = coord.CompleteEntryBill(ctx, entry.ID, 0)
	require.NoError(t, err)
	require.Equal(t, movesBefore, repo.movementCount())

	_, ok := repo.record(inventory.LocationFranchise, testFranchise, 100)
	require.False(t, ok, "no record is created for a fully missing shipment")
}

func TestVerifyCompletedEntryBill(t *testing.T) {
	_, svc, coord, entry := completeExitFixture(t)
	ctx := context.Background()

	_, _, err := svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 5}},
	})
	require.NoError(t, err)
	_, err = coord.CompleteEntryBill(ctx, entry.ID, 0)
	require.NoError(t, err)

	_, _, err = svc.VerifyEntryBill(ctx, VerifyInput{
		BillID:   entry.ID,
		Receipts: []ReceiptInput{{VariantID: 100, Received: 4}},
	})
	require.ErrorIs(t, err, ErrInvalidStateTransition, "completed bills are immutable")
}

func TestCancelBill(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	bill := createDraftExit(t, svc)
	cancelled, err := svc.CancelBill(ctx, bill.ID, 0)
	require.NoError(t, err)
	require.Equal(t, BillStatusCancelled, cancelled.Status)
	require.Equal(t, 0, repo.movementCount(), "drafts never touch the ledger")

	_, err = svc.CancelBill(ctx, bill.ID, 0)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	repo.seedStock(inventory.LocationCompany, testCompany, 100, 20)
	completed := createDraftExit(t, svc)
	_, _, err = coord.CompleteExitBill(ctx, completed.ID, 0)
	require.NoError(t, err)
	_, err = svc.CancelBill(ctx, completed.ID, 0)
	require.ErrorIs(t, err, ErrInvalidStateTransition, "completed bills cannot be cancelled")
}

func TestUpdateItemsRejectedOffDraft(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	repo.seedStock(inventory.LocationCompany, testCompany, 100, 20)
	bill := createDraftExit(t, svc)
	_, _, err := coord.CompleteExitBill(ctx, bill.ID, 0)
	require.NoError(t, err)

	_, _, err = svc.UpdateExitBillItems(ctx, bill.ID, []ItemInput{{VariantID: 100, Quantity: 1, UnitPrice: 1}}, 0)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestListBillsFilter(t *testing.T) {
	repo, svc, coord := newFixture()
	ctx := context.Background()

	repo.seedStock(inventory.LocationCompany, testCompany, 100, 50)
	first := createDraftExit(t, svc)
	createDraftExit(t, svc)
	_, _, err := coord.CompleteExitBill(ctx, first.ID, 0)
	require.NoError(t, err)

	drafts, _, err := svc.Bills(ctx, BillFilter{Type: BillTypeExit, Status: BillStatusDraft})
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	entries, _, err := svc.Bills(ctx, BillFilter{Type: BillTypeEntry})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	all, page, err := svc.Bills(ctx, BillFilter{CompanyID: testCompany})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, 3, page.Total)
}
