package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/cache"
	"github.com/rotihouse/inventory-core/internal/domain"
)

// ItemCacheInvalidator 供变更引擎在事务提交后清除读缓存。
// 变更路径不经过缓存写入，只负责失效。
type ItemCacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

// CachedInventoryItemRepository 带缓存的库存条目仓储。
// 只缓存按ID的点查；列表与修复相关查询直达数据库。
type CachedInventoryItemRepository struct {
	repo  InventoryItemRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedInventoryItemRepository 创建带缓存的库存条目仓储。
func NewCachedInventoryItemRepository(repo InventoryItemRepository, c cache.Cache, ttl time.Duration) *CachedInventoryItemRepository {
	return &CachedInventoryItemRepository{
		repo:  repo,
		cache: c,
		ttl:   ttl,
	}
}

// Create 注册库存条目（清除相关缓存）。
func (r *CachedInventoryItemRepository) Create(item *domain.InventoryItem) error {
	if err := r.repo.Create(item); err != nil {
		return err
	}
	r.Invalidate(context.Background(), item.ID)
	return nil
}

// GetByID 根据ID获取库存条目（带缓存）。
func (r *CachedInventoryItemRepository) GetByID(id int64) (*domain.InventoryItem, error) {
	ctx := context.Background()
	key := itemCacheKey(id)

	var item domain.InventoryItem
	if err := r.cache.Get(ctx, key, &item); err == nil {
		return &item, nil
	}

	result, err := r.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	// 库存数据变化频繁，TTL 取配置值的一半。
	r.cache.Set(ctx, key, result, r.ttl/2)
	return result, nil
}

// GetByIDs 批量获取库存条目（部分缓存）。
func (r *CachedInventoryItemRepository) GetByIDs(ids []int64) ([]*domain.InventoryItem, error) {
	ctx := context.Background()
	var cached []*domain.InventoryItem
	var missing []int64

	for _, id := range ids {
		var item domain.InventoryItem
		if err := r.cache.Get(ctx, itemCacheKey(id), &item); err == nil {
			cached = append(cached, &item)
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return cached, nil
	}

	fromDB, err := r.repo.GetByIDs(missing)
	if err != nil {
		return nil, err
	}
	for _, item := range fromDB {
		r.cache.Set(ctx, itemCacheKey(item.ID), item, r.ttl/2)
	}

	return append(cached, fromDB...), nil
}

// List 获取库存条目列表（不缓存，参数组合太多）。
func (r *CachedInventoryItemRepository) List(req *domain.ItemListRequest) ([]*domain.InventoryItem, int64, error) {
	return r.repo.List(req)
}

// ListNeedingValuation 返回需要估值修复的条目（不缓存，修复路径要求强一致读）。
func (r *CachedInventoryItemRepository) ListNeedingValuation() ([]*domain.InventoryItem, error) {
	return r.repo.ListNeedingValuation()
}

// FillValuation 条件写回估值（清除相关缓存）。
func (r *CachedInventoryItemRepository) FillValuation(id int64, price decimal.Decimal) (bool, error) {
	updated, err := r.repo.FillValuation(id, price)
	if err != nil {
		return false, err
	}
	if updated {
		r.Invalidate(context.Background(), id)
	}
	return updated, nil
}

// Count 获取库存条目总数（不缓存）。
func (r *CachedInventoryItemRepository) Count() (int64, error) {
	return r.repo.Count()
}

// Invalidate 清除指定条目的读缓存。
func (r *CachedInventoryItemRepository) Invalidate(ctx context.Context, ids ...int64) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemCacheKey(id)
	}
	r.cache.Del(ctx, keys...)
}

func itemCacheKey(id int64) string {
	return fmt.Sprintf("inventory:item:%d", id)
}
