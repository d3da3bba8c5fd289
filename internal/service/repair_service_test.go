package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
)

func newRepairService(st *mockStore) *ValuationRepairService {
	config := &RepairServiceConfig{
		DefaultPrices: map[string]decimal.Decimal{
			"Daging":  dec(50000),
			"Sayuran": dec(15000),
			"Bumbu":   dec(10000),
		},
		FallbackPrice: dec(5000),
	}
	return NewValuationRepairService(st, &purchaseRepoAdapter{store: st}, nil, config, nil)
}

func TestDiagnose(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)                // healthy
	broken := st.addItem("Gula", "Bumbu", dec(5), decimal.Zero, false)     // needs repair, has history
	st.addItem("Garam", "Bumbu", dec(3), decimal.Zero, false)              // needs repair, no history
	st.addItem("Kemasan", "Lainnya", decimal.Zero, decimal.Zero, false)    // no stock, not reported

	st.addPurchase("P-1", domain.PurchaseStatusCompleted, []domain.PurchaseLineItem{
		{ItemID: broken, QuantityReceived: dec(5), UnitCost: dec(12000)},
	})

	report, err := svc.Diagnose(context.Background())
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}

	if report.TotalItems != 4 {
		t.Errorf("TotalItems = %d, want 4", report.TotalItems)
	}
	if report.ZeroPriceItems != 2 {
		t.Errorf("ZeroPriceItems = %d, want 2", report.ZeroPriceItems)
	}
	if report.ItemsWithPurchaseHistory != 1 {
		t.Errorf("ItemsWithPurchaseHistory = %d, want 1", report.ItemsWithPurchaseHistory)
	}
	if report.FixableItems != 2 {
		t.Errorf("FixableItems = %d, want 2", report.FixableItems)
	}
	if report.FixResults != nil {
		t.Error("Diagnose must not carry fix results")
	}
}

func TestFix_PrefersLedgerOverDefault(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	withHistory := st.addItem("Gula", "Bumbu", dec(5), decimal.Zero, false)
	noHistory := st.addItem("Garam", "Bumbu", dec(3), decimal.Zero, false)

	st.addPurchase("P-1", domain.PurchaseStatusCompleted, []domain.PurchaseLineItem{
		{ItemID: withHistory, QuantityReceived: dec(5), UnitCost: dec(12000)},
	})

	report, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix() error = %v", err)
	}

	results := report.FixResults
	if results == nil {
		t.Fatal("Fix() returned no fix results")
	}
	if results.TotalFixed != 2 {
		t.Errorf("TotalFixed = %d, want 2", results.TotalFixed)
	}
	if results.FixedViaWacRecalculation != 1 {
		t.Errorf("FixedViaWacRecalculation = %d, want 1", results.FixedViaWacRecalculation)
	}
	if results.FixedViaDefaultPrice != 1 {
		t.Errorf("FixedViaDefaultPrice = %d, want 1", results.FixedViaDefaultPrice)
	}
	if len(results.Errors) != 0 {
		t.Errorf("Errors = %v, want none", results.Errors)
	}

	// Ledger replay wins for the item with priced history.
	if !st.item(withHistory).CurrentWAC.Equal(dec(12000)) {
		t.Errorf("ledger-backed WAC = %s, want 12000", st.item(withHistory).CurrentWAC)
	}
	// Category default for the item without one.
	if !st.item(noHistory).CurrentWAC.Equal(dec(10000)) {
		t.Errorf("default-priced WAC = %s, want 10000", st.item(noHistory).CurrentWAC)
	}
}

func TestFix_FreeSampleHistoryFallsBackToDefault(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	// Only zero-cost history: no pricing signal, category default applies.
	itemID := st.addItem("Kunyit", "Bumbu", dec(2), decimal.Zero, false)
	st.addPurchase("P-1", domain.PurchaseStatusCompleted, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(2), UnitCost: decimal.Zero},
	})

	report, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix() error = %v", err)
	}
	if report.FixResults.FixedViaDefaultPrice != 1 {
		t.Errorf("FixedViaDefaultPrice = %d, want 1", report.FixResults.FixedViaDefaultPrice)
	}
	if !st.item(itemID).CurrentWAC.Equal(dec(10000)) {
		t.Errorf("CurrentWAC = %s, want 10000 (Bumbu default)", st.item(itemID).CurrentWAC)
	}
}

func TestFix_FallbackPriceForUnknownCategory(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	itemID := st.addItem("Kotak Kue", "Kemasan", dec(7), decimal.Zero, false)

	if _, err := svc.Fix(context.Background()); err != nil {
		t.Fatalf("Fix() error = %v", err)
	}
	if !st.item(itemID).CurrentWAC.Equal(dec(5000)) {
		t.Errorf("CurrentWAC = %s, want 5000 (fallback)", st.item(itemID).CurrentWAC)
	}
}

func TestFix_SecondRunIsNoop(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	st.addItem("Garam", "Bumbu", dec(3), decimal.Zero, false)

	if _, err := svc.Fix(context.Background()); err != nil {
		t.Fatalf("first Fix() error = %v", err)
	}
	report, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("second Fix() error = %v", err)
	}
	if report.FixResults.TotalFixed != 0 {
		t.Errorf("second run TotalFixed = %d, want 0", report.FixResults.TotalFixed)
	}
}

func TestFix_NeverOverwritesValidWac(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	healthy := st.addItem("Tepung", "Bumbu", dec(10), dec(2000), true)

	if _, err := svc.Fix(context.Background()); err != nil {
		t.Fatalf("Fix() error = %v", err)
	}
	if !st.item(healthy).CurrentWAC.Equal(dec(2000)) {
		t.Errorf("healthy WAC = %s, want 2000 (untouched)", st.item(healthy).CurrentWAC)
	}
}

func TestQuickFix_SkipsLedgerReplay(t *testing.T) {
	st := newMockStore()
	svc := newRepairService(st)

	// Even with priced history, quick mode applies the category default.
	itemID := st.addItem("Gula", "Bumbu", dec(5), decimal.Zero, false)
	st.addPurchase("P-1", domain.PurchaseStatusCompleted, []domain.PurchaseLineItem{
		{ItemID: itemID, QuantityReceived: dec(5), UnitCost: dec(12000)},
	})

	report, err := svc.QuickFix(context.Background())
	if err != nil {
		t.Fatalf("QuickFix() error = %v", err)
	}
	if report.FixResults.FixedViaDefaultPrice != 1 || report.FixResults.FixedViaWacRecalculation != 0 {
		t.Errorf("fix results = %+v, want default-price only", report.FixResults)
	}
	if !st.item(itemID).CurrentWAC.Equal(dec(10000)) {
		t.Errorf("CurrentWAC = %s, want 10000", st.item(itemID).CurrentWAC)
	}
}
