package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/repo"
)

// PurchaseService 定义采购单管理的业务逻辑接口。
// 完成采购（入库与 WAC 更新）由 StockMutationService 承担。
type PurchaseService interface {
	CreatePurchase(req *domain.CreatePurchaseRequest) (*domain.Purchase, []string, error)
	GetPurchase(id string) (*domain.Purchase, error)
}

// purchaseService 实现 PurchaseService 接口。
type purchaseService struct {
	purchaseRepo repo.PurchaseRepository
	itemRepo     repo.InventoryItemRepository
}

// NewPurchaseService 创建采购服务实例。
func NewPurchaseService(purchaseRepo repo.PurchaseRepository, itemRepo repo.InventoryItemRepository) PurchaseService {
	return &purchaseService{
		purchaseRepo: purchaseRepo,
		itemRepo:     itemRepo,
	}
}

// CreatePurchase 创建 pending 状态的采购单。
// 创建时即校验行项目与条目存在性，把缺失条目的失败提前到
// 录入阶段而不是完成阶段。单价为 0 的行合法但返回警告。
func (s *purchaseService) CreatePurchase(req *domain.CreatePurchaseRequest) (*domain.Purchase, []string, error) {
	purchase := &domain.Purchase{
		ID:          uuid.NewString(),
		SupplierRef: req.SupplierRef,
		LineItems:   req.LineItems,
	}

	warnings, err := purchase.Validate()
	if err != nil {
		return nil, nil, err
	}

	ids := uniqueItemIDs(purchase.LineItems)
	items, err := s.itemRepo.GetByIDs(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load inventory items: %w", err)
	}
	known := make(map[int64]struct{}, len(items))
	for _, item := range items {
		known[item.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, nil, &domain.ItemNotFoundError{ItemID: id}
		}
	}

	if err := s.purchaseRepo.Create(purchase); err != nil {
		return nil, nil, fmt.Errorf("failed to create purchase: %w", err)
	}
	return purchase, warnings, nil
}

// GetPurchase 获取采购单及其行项目。
func (s *purchaseService) GetPurchase(id string) (*domain.Purchase, error) {
	purchase, err := s.purchaseRepo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	if purchase == nil {
		return nil, &domain.PurchaseNotFoundError{PurchaseID: id}
	}
	return purchase, nil
}
