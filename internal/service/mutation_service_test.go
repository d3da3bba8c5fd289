package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestApplyPurchaseCompletion_MovingAverage(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	// 10 units on hand at WAC 2000, receiving 5 more at 4000.
	itemID := st.addItem("Tepung Terigu", "Bumbu", dec(10), dec(2000), true)
	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(5), UnitCost: dec(4000)},
	})

	result, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("ApplyPurchaseCompletion() error = %v", err)
	}
	if result.StockItemsUpdated != 1 {
		t.Errorf("StockItemsUpdated = %d, want 1", result.StockItemsUpdated)
	}

	item := st.item(itemID)
	if !item.CurrentStock.Equal(dec(15)) {
		t.Errorf("CurrentStock = %s, want 15", item.CurrentStock)
	}
	// (10*2000 + 5*4000) / 15 = 2666.6667
	want := mustDec(t, "2666.6667")
	if !item.CurrentWAC.Equal(want) {
		t.Errorf("CurrentWAC = %s, want %s", item.CurrentWAC, want)
	}
}

func TestApplyPurchaseCompletion_FirstReceiptSetsWac(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Daging Sapi", "Daging", decimal.Zero, decimal.Zero, false)
	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(8), UnitCost: dec(120000)},
	})

	if _, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1"); err != nil {
		t.Fatalf("ApplyPurchaseCompletion() error = %v", err)
	}

	item := st.item(itemID)
	if !item.CurrentWAC.Equal(dec(120000)) {
		t.Errorf("CurrentWAC = %s, want 120000", item.CurrentWAC)
	}
	if !item.Valued {
		t.Error("item should be valued after first priced receipt")
	}
}

func TestApplyPurchaseCompletion_ZeroCostReceipt(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	// Free sample stock must add quantity without disturbing the WAC.
	itemID := st.addItem("Gula", "Bumbu", dec(4), dec(15000), true)
	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(2), UnitCost: decimal.Zero},
	})

	result, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("ApplyPurchaseCompletion() error = %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a zero-cost warning")
	}

	item := st.item(itemID)
	if !item.CurrentStock.Equal(dec(6)) {
		t.Errorf("CurrentStock = %s, want 6", item.CurrentStock)
	}
	if !item.CurrentWAC.Equal(dec(15000)) {
		t.Errorf("CurrentWAC = %s, want 15000 (unchanged)", item.CurrentWAC)
	}
}

func TestApplyPurchaseCompletion_Cancelled(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Bawang", "Sayuran", dec(3), dec(8000), true)
	st.addPurchase("P-1", domain.PurchaseStatusCancelled, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(5), UnitCost: dec(9000)},
	})

	_, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1")
	var cancelled *domain.PurchaseCancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("error = %v, want PurchaseCancelledError", err)
	}
	if !st.item(itemID).CurrentStock.Equal(dec(3)) {
		t.Error("stock must not change for a cancelled purchase")
	}
}

func TestApplyPurchaseCompletion_MissingItemRollsBackAll(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Cabai", "Sayuran", dec(2), dec(30000), true)
	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(5), UnitCost: dec(32000)},
		{ItemID: 999, QuantityReceived: dec(1), UnitCost: dec(1000)},
	})

	_, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1")
	var notFound *domain.ItemNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ItemNotFoundError", err)
	}
	if notFound.ItemID != 999 {
		t.Errorf("ItemNotFoundError.ItemID = %d, want 999", notFound.ItemID)
	}

	// The whole purchase must roll back, including the valid line
	// and the purchase status itself.
	if !st.item(itemID).CurrentStock.Equal(dec(2)) {
		t.Error("valid line must roll back with the failed one")
	}
	p, _ := st.GetPurchaseByID("P-1")
	if p.Status != domain.PurchaseStatusPending {
		t.Errorf("purchase status = %s, want pending", p.Status)
	}
}

func TestApplyPurchaseCompletion_Idempotent(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)
	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(5), UnitCost: dec(4000)},
	})

	first, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("first completion error = %v", err)
	}
	second, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("second completion error = %v", err)
	}

	if !second.AlreadyApplied {
		t.Error("second completion should report AlreadyApplied")
	}
	if second.StockItemsUpdated != first.StockItemsUpdated {
		t.Errorf("replayed StockItemsUpdated = %d, want %d", second.StockItemsUpdated, first.StockItemsUpdated)
	}
	if !st.item(itemID).CurrentStock.Equal(dec(15)) {
		t.Error("stock must be applied exactly once")
	}
}

func TestApplyOrderCompletion_DeductsAndCosts(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	flour := st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)
	sugar := st.addItem("Gula", "Bumbu", dec(8), dec(15000), true)

	result, err := svc.ApplyOrderCompletion(context.Background(), &domain.OrderCompletionRequest{
		OrderID:     "O-1",
		OrderNumber: "ORD-001",
		LineItems: []domain.OrderLineItem{
			{ItemID: flour, QuantityNeeded: dec(4)},
			{ItemID: sugar, QuantityNeeded: dec(2)},
		},
	})
	if err != nil {
		t.Fatalf("ApplyOrderCompletion() error = %v", err)
	}

	if !result.Success {
		t.Error("result.Success = false, want true")
	}
	if result.StockItemsUpdated != 2 {
		t.Errorf("StockItemsUpdated = %d, want 2", result.StockItemsUpdated)
	}
	// 4*2000 + 2*15000 = 38000
	if !result.TotalAmount.Equal(dec(38000)) {
		t.Errorf("TotalAmount = %s, want 38000", result.TotalAmount)
	}
	if !st.item(flour).CurrentStock.Equal(dec(6)) {
		t.Errorf("flour stock = %s, want 6", st.item(flour).CurrentStock)
	}
	if !st.item(sugar).CurrentStock.Equal(dec(6)) {
		t.Errorf("sugar stock = %s, want 6", st.item(sugar).CurrentStock)
	}
	// Deduction must not move the WAC.
	if !st.item(flour).CurrentWAC.Equal(dec(2000)) {
		t.Error("deduction must not change WAC")
	}
}

func TestApplyOrderCompletion_ReportsAllShortages(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	flour := st.addItem("Tepung", "Bumbu", dec(1), dec(2000), true)
	sugar := st.addItem("Gula", "Bumbu", dec(2), dec(15000), true)
	salt := st.addItem("Garam", "Bumbu", dec(50), dec(5000), true)

	_, err := svc.ApplyOrderCompletion(context.Background(), &domain.OrderCompletionRequest{
		OrderID: "O-1",
		LineItems: []domain.OrderLineItem{
			{ItemID: flour, QuantityNeeded: dec(4)},
			{ItemID: sugar, QuantityNeeded: dec(5)},
			{ItemID: salt, QuantityNeeded: dec(1)},
		},
	})

	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientStockError", err)
	}
	if len(insufficient.Shortages) != 2 {
		t.Fatalf("shortages = %d, want 2 (every deficient item listed)", len(insufficient.Shortages))
	}
	if insufficient.Shortages[0].ItemID != flour || !insufficient.Shortages[0].Shortfall.Equal(dec(3)) {
		t.Errorf("first shortage = %+v, want item %d short 3", insufficient.Shortages[0], flour)
	}
	if insufficient.Shortages[1].ItemID != sugar || !insufficient.Shortages[1].Shortfall.Equal(dec(3)) {
		t.Errorf("second shortage = %+v, want item %d short 3", insufficient.Shortages[1], sugar)
	}

	// No partial deduction: even the sufficient item stays untouched.
	if !st.item(salt).CurrentStock.Equal(dec(50)) {
		t.Error("sufficient item must not be deducted when the order fails")
	}
}

func TestApplyOrderCompletion_RetryAfterRestock(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Tepung", "Bumbu", dec(1), dec(2000), true)
	req := &domain.OrderCompletionRequest{
		OrderID:   "O-1",
		LineItems: []domain.OrderLineItem{{ItemID: itemID, QuantityNeeded: dec(4)}},
	}

	// Failed attempt must not burn the idempotency key.
	if _, err := svc.ApplyOrderCompletion(context.Background(), req); err == nil {
		t.Fatal("expected insufficient stock error")
	}

	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(10), UnitCost: dec(2000)},
	})
	if _, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1"); err != nil {
		t.Fatalf("restock error = %v", err)
	}

	result, err := svc.ApplyOrderCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("retry after restock error = %v", err)
	}
	if result.AlreadyApplied {
		t.Error("retry after a failed attempt must apply, not replay")
	}
	if !st.item(itemID).CurrentStock.Equal(dec(7)) {
		t.Errorf("stock = %s, want 7", st.item(itemID).CurrentStock)
	}
}

func TestApplyOrderCompletion_Idempotent(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)
	req := &domain.OrderCompletionRequest{
		OrderID:     "O-1",
		OrderNumber: "ORD-001",
		LineItems:   []domain.OrderLineItem{{ItemID: itemID, QuantityNeeded: dec(4)}},
	}

	first, err := svc.ApplyOrderCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("first completion error = %v", err)
	}
	second, err := svc.ApplyOrderCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("second completion error = %v", err)
	}

	if !second.AlreadyApplied {
		t.Error("second completion should report AlreadyApplied")
	}
	if !second.TotalAmount.Equal(first.TotalAmount) {
		t.Errorf("replayed TotalAmount = %s, want %s", second.TotalAmount, first.TotalAmount)
	}
	if !st.item(itemID).CurrentStock.Equal(dec(6)) {
		t.Error("stock must be deducted exactly once")
	}
}

func TestApplyOrderCompletion_MergesDuplicateLines(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)
	result, err := svc.ApplyOrderCompletion(context.Background(), &domain.OrderCompletionRequest{
		OrderID: "O-1",
		LineItems: []domain.OrderLineItem{
			{ItemID: itemID, QuantityNeeded: dec(3)},
			{ItemID: itemID, QuantityNeeded: dec(4)},
		},
	})
	if err != nil {
		t.Fatalf("ApplyOrderCompletion() error = %v", err)
	}
	if result.StockItemsUpdated != 1 {
		t.Errorf("StockItemsUpdated = %d, want 1 (duplicate lines merged)", result.StockItemsUpdated)
	}
	if !st.item(itemID).CurrentStock.Equal(dec(3)) {
		t.Errorf("stock = %s, want 3", st.item(itemID).CurrentStock)
	}
}

func TestApplyOrderCompletion_ConcurrentOverdraw(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	// 5 units on hand, two orders racing for 4 each: exactly one may win.
	itemID := st.addItem("Tepung", "Bumbu", dec(5), dec(2000), true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyOrderCompletion(context.Background(), &domain.OrderCompletionRequest{
				OrderID:   []string{"O-A", "O-B"}[i],
				LineItems: []domain.OrderLineItem{{ItemID: itemID, QuantityNeeded: dec(4)}},
			})
		}(i)
	}
	wg.Wait()

	var successes, shortfalls int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var insufficient *domain.InsufficientStockError
		if errors.As(err, &insufficient) {
			shortfalls++
		} else {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || shortfalls != 1 {
		t.Fatalf("successes = %d, shortfalls = %d, want exactly 1 and 1", successes, shortfalls)
	}
	if !st.item(itemID).CurrentStock.Equal(dec(1)) {
		t.Errorf("stock = %s, want 1 (never negative)", st.item(itemID).CurrentStock)
	}
}

func TestCanCompleteOrder(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	flour := st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)
	sugar := st.addItem("Gula", "Bumbu", dec(1), dec(15000), true)

	tests := []struct {
		name          string
		lines         []domain.OrderLineItem
		wantComplete  bool
		wantShortages int
	}{
		{
			name:         "sufficient stock",
			lines:        []domain.OrderLineItem{{ItemID: flour, QuantityNeeded: dec(5)}},
			wantComplete: true,
		},
		{
			name: "one item short",
			lines: []domain.OrderLineItem{
				{ItemID: flour, QuantityNeeded: dec(5)},
				{ItemID: sugar, QuantityNeeded: dec(3)},
			},
			wantComplete:  false,
			wantShortages: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.CanCompleteOrder(context.Background(), &domain.OrderCompletionRequest{
				OrderID:   "O-check",
				LineItems: tt.lines,
			})
			if err != nil {
				t.Fatalf("CanCompleteOrder() error = %v", err)
			}
			if result.CanComplete != tt.wantComplete {
				t.Errorf("CanComplete = %v, want %v", result.CanComplete, tt.wantComplete)
			}
			if len(result.InsufficientStock) != tt.wantShortages {
				t.Errorf("shortages = %d, want %d", len(result.InsufficientStock), tt.wantShortages)
			}
		})
	}

	// The dry run must not touch stock.
	if !st.item(flour).CurrentStock.Equal(dec(10)) {
		t.Error("dry run must not deduct stock")
	}
}

func TestReconcileStock(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	itemID := st.addItem("Tepung", "Bumbu", decimal.Zero, decimal.Zero, false)
	st.addPurchase("P-1", domain.PurchaseStatusPending, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(10), UnitCost: dec(5000)},
		{ItemID: itemID, QuantityReceived: dec(5), UnitCost: dec(8000)},
	})
	if _, err := svc.ApplyPurchaseCompletion(context.Background(), "P-1"); err != nil {
		t.Fatalf("completion error = %v", err)
	}

	report, err := svc.ReconcileStock(context.Background(), itemID)
	if err != nil {
		t.Fatalf("ReconcileStock() error = %v", err)
	}
	if !report.InSync {
		t.Errorf("InSync = false, drift = %s", report.Drift)
	}
	// (10*5000 + 5*8000) / 15 = 6000
	if !report.LedgerWAC.Equal(dec(6000)) {
		t.Errorf("LedgerWAC = %s, want 6000", report.LedgerWAC)
	}
	if report.QualifyingLines != 2 {
		t.Errorf("QualifyingLines = %d, want 2", report.QualifyingLines)
	}
}

func TestReconcileStock_ReportsDrift(t *testing.T) {
	st := newMockStore()
	svc := newMutationService(st)

	// Stored WAC diverges from what the ledger says.
	itemID := st.addItem("Tepung", "Bumbu", dec(10), dec(9999), true)
	st.addPurchase("P-1", domain.PurchaseStatusCompleted, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(10), UnitCost: dec(5000)},
	})

	report, err := svc.ReconcileStock(context.Background(), itemID)
	if err != nil {
		t.Fatalf("ReconcileStock() error = %v", err)
	}
	if report.InSync {
		t.Error("InSync = true, want false")
	}
	if !report.Drift.Equal(dec(4999)) {
		t.Errorf("Drift = %s, want 4999", report.Drift)
	}
	// Reconciliation is read-only.
	if !st.item(itemID).CurrentWAC.Equal(dec(9999)) {
		t.Error("reconcile must not correct the stored WAC")
	}
}
