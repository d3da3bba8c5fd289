// Package service 实现库存估值与变更的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/repo"
	"github.com/rotihouse/inventory-core/internal/wac"
)

// StockMutationService 是库存数量与 WAC 的唯一写入方。
// 采购完成、订单完成、对账都经由本服务，保证变更原子且幂等。
type StockMutationService struct {
	uow          repo.UnitOfWork
	itemRepo     repo.InventoryItemRepository
	purchaseRepo repo.PurchaseRepository
	invalidator  repo.ItemCacheInvalidator
	logger       *zap.Logger
	config       *MutationServiceConfig
}

// MutationServiceConfig 变更服务配置。
type MutationServiceConfig struct {
	// 并发冲突的重试配置
	MaxRetryAttempts int           `json:"max_retry_attempts"`
	RetryInterval    time.Duration `json:"retry_interval"`
}

// DefaultMutationServiceConfig 默认配置。
func DefaultMutationServiceConfig() *MutationServiceConfig {
	return &MutationServiceConfig{
		MaxRetryAttempts: 3,
		RetryInterval:    50 * time.Millisecond,
	}
}

// NewStockMutationService 创建库存变更服务。invalidator 可为 nil（未启用缓存）。
func NewStockMutationService(
	uow repo.UnitOfWork,
	itemRepo repo.InventoryItemRepository,
	purchaseRepo repo.PurchaseRepository,
	invalidator repo.ItemCacheInvalidator,
	config *MutationServiceConfig,
	logger *zap.Logger,
) *StockMutationService {
	if config == nil {
		config = DefaultMutationServiceConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StockMutationService{
		uow:          uow,
		itemRepo:     itemRepo,
		purchaseRepo: purchaseRepo,
		invalidator:  invalidator,
		config:       config,
		logger:       logger,
	}
}

// ApplyPurchaseCompletion 完成采购单并入库：
// 状态 pending→completed，每条行项目增加对应条目的库存并按
// 增量移动平均更新 WAC。整单在一个事务内生效，任一条目缺失
// 则全部回滚。重复调用回放首次结果。
func (s *StockMutationService) ApplyPurchaseCompletion(ctx context.Context, purchaseID string) (*domain.PurchaseCompletionResult, error) {
	if purchaseID == "" {
		return nil, fmt.Errorf("purchase id is required")
	}

	var result *domain.PurchaseCompletionResult
	var touched []int64

	err := s.withRetry(ctx, func(tx repo.MutationTx) error {
		result = nil
		touched = nil

		claimed, err := tx.Claim(purchaseID, domain.ReasonPurchaseCompleted)
		if err != nil {
			return err
		}
		if !claimed {
			replayed, err := s.replayPurchaseResult(tx, purchaseID)
			if err != nil {
				return err
			}
			result = replayed
			return nil
		}

		purchase, err := tx.GetPurchaseForUpdate(purchaseID)
		if err != nil {
			return err
		}
		if purchase == nil {
			return &domain.PurchaseNotFoundError{PurchaseID: purchaseID}
		}
		if purchase.Status == domain.PurchaseStatusCancelled {
			return &domain.PurchaseCancelledError{PurchaseID: purchaseID}
		}

		warnings, err := purchase.Validate()
		if err != nil {
			return err
		}

		completedAt := time.Now()
		ok, err := tx.MarkPurchaseCompleted(purchaseID, completedAt)
		if err != nil {
			return err
		}
		if !ok {
			// 状态已不是 pending 且幂等键未被占用：历史导入的已完成单，
			// 视为已生效，不再重放入库。
			result = &domain.PurchaseCompletionResult{PurchaseID: purchaseID, AlreadyApplied: true}
			return nil
		}

		ids := uniqueItemIDs(purchase.LineItems)
		items, err := tx.LockItems(ids)
		if err != nil {
			return err
		}

		for i := range purchase.LineItems {
			l := &purchase.LineItems[i]
			item, found := items[l.ItemID]
			if !found {
				return &domain.ItemNotFoundError{ItemID: l.ItemID}
			}
			if err := item.ApplyReceipt(l.QuantityReceived, l.UnitCost); err != nil {
				return fmt.Errorf("item %d: %w", l.ItemID, err)
			}
			if err := tx.RecordMutation(&domain.StockMutation{
				ItemID:        l.ItemID,
				Delta:         l.QuantityReceived,
				Reason:        domain.ReasonPurchaseCompleted,
				CorrelationID: purchaseID,
			}); err != nil {
				return err
			}
		}

		for _, id := range ids {
			item := items[id]
			item.LastRecalculatedAt = &completedAt
			if err := tx.UpdateItem(item); err != nil {
				return err
			}
		}

		result = &domain.PurchaseCompletionResult{
			PurchaseID:        purchaseID,
			StockItemsUpdated: len(ids),
			Warnings:          warnings,
		}
		touched = ids
		return s.saveResult(tx, purchaseID, domain.ReasonPurchaseCompleted, result)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, touched)
	s.logger.Info("purchase completed",
		zap.String("purchase_id", purchaseID),
		zap.Int("stock_items_updated", result.StockItemsUpdated),
		zap.Bool("already_applied", result.AlreadyApplied),
	)
	return result, nil
}

// ApplyOrderCompletion 完成订单并扣减库存。
// 先锁定全部涉及条目，收集所有缺口；任一条目不足则整单失败，
// 错误中列出全部缺口而不是只报第一条。成功时按各条目当前 WAC
// 估算消耗成本合计。OrderID 作为幂等键，重复调用回放首次结果。
func (s *StockMutationService) ApplyOrderCompletion(ctx context.Context, req *domain.OrderCompletionRequest) (*domain.OrderCompletionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	merged := mergeOrderLines(req.LineItems)
	var result *domain.OrderCompletionResult
	var touched []int64

	err := s.withRetry(ctx, func(tx repo.MutationTx) error {
		result = nil
		touched = nil

		claimed, err := tx.Claim(req.OrderID, domain.ReasonOrderCompleted)
		if err != nil {
			return err
		}
		if !claimed {
			replayed, err := s.replayOrderResult(tx, req)
			if err != nil {
				return err
			}
			result = replayed
			return nil
		}

		ids := make([]int64, 0, len(merged))
		for _, l := range merged {
			ids = append(ids, l.ItemID)
		}

		items, err := tx.LockItems(ids)
		if err != nil {
			return err
		}

		var shortages []domain.StockShortage
		for _, l := range merged {
			item, found := items[l.ItemID]
			if !found {
				return &domain.ItemNotFoundError{ItemID: l.ItemID}
			}
			if !item.HasSufficientStock(l.QuantityNeeded) {
				shortages = append(shortages, domain.StockShortage{
					ItemID:    item.ID,
					Name:      item.Name,
					Required:  l.QuantityNeeded,
					Available: item.CurrentStock,
					Shortfall: item.ShortfallFor(l.QuantityNeeded),
				})
			}
		}
		if len(shortages) > 0 {
			return &domain.InsufficientStockError{Shortages: shortages}
		}

		total := decimal.Zero
		deductions := make([]domain.StockDeduction, 0, len(merged))
		for _, l := range merged {
			item := items[l.ItemID]
			if err := item.Deduct(l.QuantityNeeded); err != nil {
				return fmt.Errorf("item %d: %w", l.ItemID, err)
			}
			total = total.Add(l.QuantityNeeded.Mul(item.CurrentWAC))
			deductions = append(deductions, domain.StockDeduction{
				ItemID:   item.ID,
				Name:     item.Name,
				Quantity: l.QuantityNeeded,
			})
			if err := tx.RecordMutation(&domain.StockMutation{
				ItemID:        item.ID,
				Delta:         l.QuantityNeeded.Neg(),
				Reason:        domain.ReasonOrderCompleted,
				CorrelationID: req.OrderID,
			}); err != nil {
				return err
			}
			if err := tx.UpdateItem(item); err != nil {
				return err
			}
		}

		result = &domain.OrderCompletionResult{
			Success:           true,
			OrderID:           req.OrderID,
			OrderNumber:       req.OrderNumber,
			TotalAmount:       total.Round(wac.Scale),
			StockItemsUpdated: len(merged),
			Deductions:        deductions,
		}
		touched = ids
		return s.saveResult(tx, req.OrderID, domain.ReasonOrderCompleted, result)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, touched)
	s.logger.Info("order completed",
		zap.String("order_id", req.OrderID),
		zap.String("order_number", req.OrderNumber),
		zap.Int("stock_items_updated", result.StockItemsUpdated),
		zap.Bool("already_applied", result.AlreadyApplied),
	)
	return result, nil
}

// CanCompleteOrder 订单完成前置检查（干跑）：
// 只读取当前库存并报告全部缺口，不加锁、不写入。
// 结果是建议性的，最终裁决在 ApplyOrderCompletion 的事务内。
func (s *StockMutationService) CanCompleteOrder(ctx context.Context, req *domain.OrderCompletionRequest) (*domain.StockCheckResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	merged := mergeOrderLines(req.LineItems)
	ids := make([]int64, 0, len(merged))
	for _, l := range merged {
		ids = append(ids, l.ItemID)
	}

	items, err := s.itemRepo.GetByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory items: %w", err)
	}
	byID := make(map[int64]*domain.InventoryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var shortages []domain.StockShortage
	for _, l := range merged {
		item, found := byID[l.ItemID]
		if !found {
			return nil, &domain.ItemNotFoundError{ItemID: l.ItemID}
		}
		if !item.HasSufficientStock(l.QuantityNeeded) {
			shortages = append(shortages, domain.StockShortage{
				ItemID:    item.ID,
				Name:      item.Name,
				Required:  l.QuantityNeeded,
				Available: item.CurrentStock,
				Shortfall: item.ShortfallFor(l.QuantityNeeded),
			})
		}
	}

	return &domain.StockCheckResult{
		CanComplete:       len(shortages) == 0,
		InsufficientStock: shortages,
	}, nil
}

// ReconcileStock 对账单个条目：以采购台账全量重算 WAC，
// 报告与存量值的偏差。只读操作，不修正任何数据。
func (s *StockMutationService) ReconcileStock(ctx context.Context, itemID int64) (*domain.ReconcileReport, error) {
	item, err := s.itemRepo.GetByID(itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory item: %w", err)
	}
	if item == nil {
		return nil, &domain.ItemNotFoundError{ItemID: itemID}
	}

	lines, err := s.purchaseRepo.ListCompletedLineItemsByItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase history: %w", err)
	}

	res := wac.Compute(lines)
	report := &domain.ReconcileReport{
		ItemID:          item.ID,
		Name:            item.Name,
		StoredWAC:       item.CurrentWAC,
		LedgerWAC:       res.Cost,
		LedgerValued:    res.Valued,
		QualifyingLines: res.QualifyingLines,
		Drift:           item.CurrentWAC.Sub(res.Cost),
	}
	if res.Valued {
		report.InSync = wac.InSync(item.CurrentWAC, res.Cost)
	} else {
		// 台账无定价信号时，存量也应处于未估值或零值状态。
		report.InSync = !item.Valued || item.CurrentWAC.IsZero()
	}
	return report, nil
}

// withRetry 在事务上执行 fn，并发冲突时按配置重试。
func (s *StockMutationService) withRetry(ctx context.Context, fn func(tx repo.MutationTx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetryAttempts; attempt++ {
		lastErr = s.uow.WithinTx(ctx, fn)
		if lastErr == nil || !domain.IsRetryable(lastErr) {
			return lastErr
		}

		s.logger.Warn("stock mutation conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.config.MaxRetryAttempts),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.RetryInterval):
		}
	}
	return &domain.ConflictError{Attempts: s.config.MaxRetryAttempts}
}

func (s *StockMutationService) replayPurchaseResult(tx repo.MutationTx, purchaseID string) (*domain.PurchaseCompletionResult, error) {
	stored, err := tx.StoredResult(purchaseID, domain.ReasonPurchaseCompleted)
	if err != nil {
		return nil, err
	}
	result := &domain.PurchaseCompletionResult{PurchaseID: purchaseID}
	if stored != nil {
		if err := json.Unmarshal(stored, result); err != nil {
			return nil, fmt.Errorf("failed to decode stored result for purchase %s: %w", purchaseID, err)
		}
	}
	result.AlreadyApplied = true
	return result, nil
}

func (s *StockMutationService) replayOrderResult(tx repo.MutationTx, req *domain.OrderCompletionRequest) (*domain.OrderCompletionResult, error) {
	stored, err := tx.StoredResult(req.OrderID, domain.ReasonOrderCompleted)
	if err != nil {
		return nil, err
	}
	result := &domain.OrderCompletionResult{Success: true, OrderID: req.OrderID, OrderNumber: req.OrderNumber}
	if stored != nil {
		if err := json.Unmarshal(stored, result); err != nil {
			return nil, fmt.Errorf("failed to decode stored result for order %s: %w", req.OrderID, err)
		}
	}
	result.AlreadyApplied = true
	return result, nil
}

func (s *StockMutationService) saveResult(tx repo.MutationTx, correlationID string, reason domain.MutationReason, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return tx.SaveResult(correlationID, reason, data)
}

func (s *StockMutationService) invalidate(ctx context.Context, ids []int64) {
	if s.invalidator == nil || len(ids) == 0 {
		return
	}
	s.invalidator.Invalidate(ctx, ids...)
}

// uniqueItemIDs 提取行项目涉及的条目ID，去重并升序排列。
func uniqueItemIDs(lines []domain.PurchaseLineItem) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for i := range lines {
		if _, ok := seen[lines[i].ItemID]; ok {
			continue
		}
		seen[lines[i].ItemID] = struct{}{}
		ids = append(ids, lines[i].ItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// mergeOrderLines 合并同一条目的重复行并按条目ID升序排列。
// 升序既用于确定加锁顺序，也让结果可预测。
func mergeOrderLines(lines []domain.OrderLineItem) []domain.OrderLineItem {
	byID := make(map[int64]decimal.Decimal, len(lines))
	for _, l := range lines {
		byID[l.ItemID] = byID[l.ItemID].Add(l.QuantityNeeded)
	}

	merged := make([]domain.OrderLineItem, 0, len(byID))
	for id, qty := range byID {
		merged = append(merged, domain.OrderLineItem{ItemID: id, QuantityNeeded: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ItemID < merged[j].ItemID })
	return merged
}
