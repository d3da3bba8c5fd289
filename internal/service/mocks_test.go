package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/repo"
)

// mockStore is an in-memory backend implementing the repository ports.
// Transactions are serialized by a mutex and staged on deep copies, so a
// failed transaction leaves no trace (including its idempotency claim).
type mockStore struct {
	mu        sync.Mutex
	items     map[int64]*domain.InventoryItem
	purchases map[string]*domain.Purchase
	claims    map[string][]byte
	mutations []*domain.StockMutation
	nextID    int64
}

func newMockStore() *mockStore {
	return &mockStore{
		items:     make(map[int64]*domain.InventoryItem),
		purchases: make(map[string]*domain.Purchase),
		claims:    make(map[string][]byte),
		nextID:    1,
	}
}

func claimKey(correlationID string, reason domain.MutationReason) string {
	return correlationID + "|" + string(reason)
}

// addItem seeds an inventory item and returns its id.
func (st *mockStore) addItem(name, category string, stock, wac decimal.Decimal, valued bool) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := st.nextID
	st.nextID++
	st.items[id] = &domain.InventoryItem{
		ID:           id,
		Name:         name,
		Category:     category,
		Unit:         "kg",
		CurrentStock: stock,
		CurrentWAC:   wac,
		Valued:       valued,
	}
	return id
}

// addPurchase seeds a purchase in the given status.
func (st *mockStore) addPurchase(id string, status domain.PurchaseStatus, lines []domain.PurchaseLineItem) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p := &domain.Purchase{
		ID:        id,
		Status:    status,
		LineItems: lines,
		CreatedAt: time.Now(),
	}
	if status == domain.PurchaseStatusCompleted {
		now := time.Now()
		p.CompletedAt = &now
	}
	st.purchases[id] = p
}

func (st *mockStore) item(id int64) *domain.InventoryItem {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.items[id]
}

func copyItem(item *domain.InventoryItem) *domain.InventoryItem {
	cp := *item
	return &cp
}

func copyPurchase(p *domain.Purchase) *domain.Purchase {
	cp := *p
	cp.LineItems = append([]domain.PurchaseLineItem(nil), p.LineItems...)
	return &cp
}

// --- repo.UnitOfWork ---

func (st *mockStore) WithinTx(ctx context.Context, fn func(tx repo.MutationTx) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	tx := &mockTx{
		items:     make(map[int64]*domain.InventoryItem, len(st.items)),
		purchases: make(map[string]*domain.Purchase, len(st.purchases)),
		claims:    make(map[string][]byte, len(st.claims)),
		mutations: append([]*domain.StockMutation(nil), st.mutations...),
	}
	for id, item := range st.items {
		tx.items[id] = copyItem(item)
	}
	for id, p := range st.purchases {
		tx.purchases[id] = copyPurchase(p)
	}
	for k, v := range st.claims {
		tx.claims[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	st.items = tx.items
	st.purchases = tx.purchases
	st.claims = tx.claims
	st.mutations = tx.mutations
	return nil
}

// mockTx stages changes until the enclosing WithinTx commits.
type mockTx struct {
	items     map[int64]*domain.InventoryItem
	purchases map[string]*domain.Purchase
	claims    map[string][]byte
	mutations []*domain.StockMutation
	nextMutID int64
}

func (t *mockTx) LockItems(ids []int64) (map[int64]*domain.InventoryItem, error) {
	out := make(map[int64]*domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := t.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (t *mockTx) UpdateItem(item *domain.InventoryItem) error {
	if _, ok := t.items[item.ID]; !ok {
		return &domain.ItemNotFoundError{ItemID: item.ID}
	}
	item.Version++
	t.items[item.ID] = item
	return nil
}

func (t *mockTx) GetPurchaseForUpdate(id string) (*domain.Purchase, error) {
	p, ok := t.purchases[id]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (t *mockTx) MarkPurchaseCompleted(id string, completedAt time.Time) (bool, error) {
	p, ok := t.purchases[id]
	if !ok {
		return false, errors.New("purchase not found")
	}
	if p.Status != domain.PurchaseStatusPending {
		return false, nil
	}
	p.Status = domain.PurchaseStatusCompleted
	p.CompletedAt = &completedAt
	return true, nil
}

func (t *mockTx) Claim(correlationID string, reason domain.MutationReason) (bool, error) {
	key := claimKey(correlationID, reason)
	if _, exists := t.claims[key]; exists {
		return false, nil
	}
	t.claims[key] = nil
	return true, nil
}

func (t *mockTx) StoredResult(correlationID string, reason domain.MutationReason) ([]byte, error) {
	return t.claims[claimKey(correlationID, reason)], nil
}

func (t *mockTx) SaveResult(correlationID string, reason domain.MutationReason, result []byte) error {
	t.claims[claimKey(correlationID, reason)] = result
	return nil
}

func (t *mockTx) RecordMutation(m *domain.StockMutation) error {
	t.nextMutID++
	m.ID = t.nextMutID
	m.CreatedAt = time.Now()
	t.mutations = append(t.mutations, m)
	return nil
}

// --- repo.InventoryItemRepository ---

func (st *mockStore) Create(item *domain.InventoryItem) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	item.ID = st.nextID
	st.nextID++
	item.CurrentStock = decimal.Zero
	item.CurrentWAC = decimal.Zero
	item.Valued = false
	st.items[item.ID] = copyItem(item)
	return nil
}

func (st *mockStore) GetByID(id int64) (*domain.InventoryItem, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	item, ok := st.items[id]
	if !ok {
		return nil, nil
	}
	return copyItem(item), nil
}

func (st *mockStore) GetByIDs(ids []int64) ([]*domain.InventoryItem, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*domain.InventoryItem
	for _, id := range ids {
		if item, ok := st.items[id]; ok {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *mockStore) List(req *domain.ItemListRequest) ([]*domain.InventoryItem, int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*domain.InventoryItem
	for _, item := range st.items {
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (st *mockStore) ListNeedingValuation() ([]*domain.InventoryItem, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*domain.InventoryItem
	for _, item := range st.items {
		if item.NeedsValuation() {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *mockStore) FillValuation(id int64, price decimal.Decimal) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	item, ok := st.items[id]
	if !ok {
		return false, nil
	}
	if item.Valued && !item.CurrentWAC.IsZero() {
		return false, nil
	}
	item.CurrentWAC = price
	item.Valued = true
	item.Version++
	return true, nil
}

func (st *mockStore) Count() (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return int64(len(st.items)), nil
}

// --- repo.PurchaseRepository ---

func (st *mockStore) CreatePurchase(p *domain.Purchase) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.Status = domain.PurchaseStatusPending
	p.CreatedAt = time.Now()
	st.purchases[p.ID] = copyPurchase(p)
	return nil
}

func (st *mockStore) GetPurchaseByID(id string) (*domain.Purchase, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.purchases[id]
	if !ok {
		return nil, nil
	}
	return copyPurchase(p), nil
}

func (st *mockStore) ListCompletedLineItemsByItem(itemID int64) ([]domain.PurchaseLineItem, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var lines []domain.PurchaseLineItem
	for _, p := range st.purchases {
		if p.Status != domain.PurchaseStatusCompleted {
			continue
		}
		for _, l := range p.LineItems {
			if l.ItemID == itemID {
				l.PurchaseID = p.ID
				if p.CompletedAt != nil {
					l.PurchaseTimestamp = *p.CompletedAt
				}
				lines = append(lines, l)
			}
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].PurchaseTimestamp.Before(lines[j].PurchaseTimestamp)
	})
	return lines, nil
}

func (st *mockStore) HasCompletedHistory(itemID int64) (bool, error) {
	lines, err := st.ListCompletedLineItemsByItem(itemID)
	return len(lines) > 0, err
}

// purchaseRepoAdapter exposes the store under the PurchaseRepository
// method names, which collide with the item repository ones.
type purchaseRepoAdapter struct {
	store *mockStore
}

func (a *purchaseRepoAdapter) Create(p *domain.Purchase) error {
	return a.store.CreatePurchase(p)
}

func (a *purchaseRepoAdapter) GetByID(id string) (*domain.Purchase, error) {
	return a.store.GetPurchaseByID(id)
}

func (a *purchaseRepoAdapter) ListCompletedLineItemsByItem(itemID int64) ([]domain.PurchaseLineItem, error) {
	return a.store.ListCompletedLineItemsByItem(itemID)
}

func (a *purchaseRepoAdapter) HasCompletedHistory(itemID int64) (bool, error) {
	return a.store.HasCompletedHistory(itemID)
}

// newMutationService wires a StockMutationService against a fresh mock store.
func newMutationService(st *mockStore) *StockMutationService {
	return NewStockMutationService(st, st, &purchaseRepoAdapter{store: st}, nil, nil, nil)
}
