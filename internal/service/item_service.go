package service

import (
	"fmt"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/repo"
)

// InventoryItemService 定义库存条目管理的业务逻辑接口。
// 只覆盖注册与查询；库存数量与 WAC 的变更走 StockMutationService。
type InventoryItemService interface {
	CreateItem(req *domain.CreateItemRequest) (*domain.InventoryItem, error)
	GetItem(id int64) (*domain.InventoryItem, error)
	ListItems(req *domain.ItemListRequest) (*ItemListResponse, error)
}

// ItemListResponse 库存条目列表响应。
type ItemListResponse struct {
	Items    []*domain.InventoryItem `json:"items"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// itemService 实现 InventoryItemService 接口。
type itemService struct {
	itemRepo repo.InventoryItemRepository
}

// NewInventoryItemService 创建库存条目服务实例。
func NewInventoryItemService(itemRepo repo.InventoryItemRepository) InventoryItemService {
	return &itemService{itemRepo: itemRepo}
}

// CreateItem 注册库存条目。新条目库存为 0 且处于未估值状态，
// 估值在首次带定价的采购完成时建立。
func (s *itemService) CreateItem(req *domain.CreateItemRequest) (*domain.InventoryItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	item := &domain.InventoryItem{
		Name:     req.Name,
		Category: req.Category,
		Unit:     req.Unit,
	}
	if err := s.itemRepo.Create(item); err != nil {
		return nil, fmt.Errorf("failed to create inventory item: %w", err)
	}
	return item, nil
}

// GetItem 获取库存条目详情。
func (s *itemService) GetItem(id int64) (*domain.InventoryItem, error) {
	item, err := s.itemRepo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory item: %w", err)
	}
	if item == nil {
		return nil, &domain.ItemNotFoundError{ItemID: id}
	}
	return item, nil
}

// ListItems 获取库存条目列表。
func (s *itemService) ListItems(req *domain.ItemListRequest) (*ItemListResponse, error) {
	req.Normalize()
	items, total, err := s.itemRepo.List(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory items: %w", err)
	}

	return &ItemListResponse{
		Items:    items,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}
