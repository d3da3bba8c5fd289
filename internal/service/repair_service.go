package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/repo"
	"github.com/rotihouse/inventory-core/internal/wac"
)

// ValuationRepairService 诊断并修复估值缺失的库存条目。
// 修复只填补空缺：条目已有有效 WAC 时永不覆盖，该约束由
// 仓储层的条件写回保证。
type ValuationRepairService struct {
	itemRepo     repo.InventoryItemRepository
	purchaseRepo repo.PurchaseRepository
	invalidator  repo.ItemCacheInvalidator
	logger       *zap.Logger
	config       *RepairServiceConfig
}

// RepairServiceConfig 修复服务配置。
// 分类默认价格是条目完全没有定价历史时的业务兜底值。
type RepairServiceConfig struct {
	DefaultPrices map[string]decimal.Decimal
	FallbackPrice decimal.Decimal
}

// RepairReport 估值诊断报告。
type RepairReport struct {
	TotalItems               int64                   `json:"totalItems"`
	ZeroPriceItems           int                     `json:"zeroPriceItems"`
	FixableItems             int                     `json:"fixableItems"`
	ItemsWithPurchaseHistory int                     `json:"itemsWithPurchaseHistory"`
	FixResults               *FixResults             `json:"fixResults,omitempty"`
	Items                    []*domain.InventoryItem `json:"items,omitempty"`
}

// FixResults 修复执行结果。
type FixResults struct {
	TotalFixed               int                       `json:"totalFixed"`
	FixedViaWacRecalculation int                       `json:"fixedViaWacRecalculation"`
	FixedViaDefaultPrice     int                       `json:"fixedViaDefaultPrice"`
	Errors                   []*domain.RepairItemError `json:"errors,omitempty"`
}

// NewValuationRepairService 创建估值修复服务。invalidator 可为 nil。
func NewValuationRepairService(
	itemRepo repo.InventoryItemRepository,
	purchaseRepo repo.PurchaseRepository,
	invalidator repo.ItemCacheInvalidator,
	config *RepairServiceConfig,
	logger *zap.Logger,
) *ValuationRepairService {
	if config == nil {
		config = &RepairServiceConfig{FallbackPrice: decimal.NewFromInt(5000)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ValuationRepairService{
		itemRepo:     itemRepo,
		purchaseRepo: purchaseRepo,
		invalidator:  invalidator,
		config:       config,
		logger:       logger,
	}
}

// Diagnose 生成估值诊断报告，不做任何写入。
func (s *ValuationRepairService) Diagnose(ctx context.Context) (*RepairReport, error) {
	total, err := s.itemRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	needing, err := s.itemRepo.ListNeedingValuation()
	if err != nil {
		return nil, fmt.Errorf("failed to list items needing valuation: %w", err)
	}

	report := &RepairReport{
		TotalItems:     total,
		ZeroPriceItems: len(needing),
		Items:          needing,
	}

	for _, item := range needing {
		hasHistory, err := s.purchaseRepo.HasCompletedHistory(item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check history for item %d: %w", item.ID, err)
		}
		if hasHistory {
			report.ItemsWithPurchaseHistory++
		}
		// 有台账可回放或有分类兜底价的条目都可修复。
		report.FixableItems++
	}
	return report, nil
}

// Fix 修复全部估值缺失的条目。优先从采购台账重算 WAC，
// 台账无定价信号时回退到分类默认价格。单条失败不会中止批处理，
// 失败逐条出现在结果中。
func (s *ValuationRepairService) Fix(ctx context.Context) (*RepairReport, error) {
	return s.repair(ctx, false)
}

// QuickFix 跳过台账回放，直接以分类默认价格填补全部估值空缺。
// 台账较大时作为低开销的应急手段。
func (s *ValuationRepairService) QuickFix(ctx context.Context) (*RepairReport, error) {
	return s.repair(ctx, true)
}

func (s *ValuationRepairService) repair(ctx context.Context, quick bool) (*RepairReport, error) {
	report, err := s.Diagnose(ctx)
	if err != nil {
		return nil, err
	}

	results := &FixResults{}
	var fixed []int64

	for _, item := range report.Items {
		price, viaLedger, err := s.resolvePrice(item, quick)
		if err != nil {
			results.Errors = append(results.Errors, &domain.RepairItemError{
				ItemID: item.ID,
				Name:   item.Name,
				Detail: err.Error(),
			})
			continue
		}

		updated, err := s.itemRepo.FillValuation(item.ID, price)
		if err != nil {
			results.Errors = append(results.Errors, &domain.RepairItemError{
				ItemID: item.ID,
				Name:   item.Name,
				Detail: err.Error(),
			})
			continue
		}
		if !updated {
			// 诊断后、写回前条目已被正常估值，跳过。
			continue
		}

		results.TotalFixed++
		if viaLedger {
			results.FixedViaWacRecalculation++
		} else {
			results.FixedViaDefaultPrice++
		}
		fixed = append(fixed, item.ID)

		s.logger.Info("valuation repaired",
			zap.Int64("item_id", item.ID),
			zap.String("name", item.Name),
			zap.String("price", price.String()),
			zap.Bool("via_ledger", viaLedger),
		)
	}

	if s.invalidator != nil && len(fixed) > 0 {
		s.invalidator.Invalidate(ctx, fixed...)
	}

	report.FixResults = results
	report.Items = nil
	return report, nil
}

// resolvePrice 决定条目的修复价格。
func (s *ValuationRepairService) resolvePrice(item *domain.InventoryItem, quick bool) (decimal.Decimal, bool, error) {
	if !quick {
		lines, err := s.purchaseRepo.ListCompletedLineItemsByItem(item.ID)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("failed to load purchase history: %w", err)
		}
		if res := wac.Compute(lines); res.Valued {
			return res.Cost, true, nil
		}
	}
	return s.defaultPriceFor(item.Category), false, nil
}

func (s *ValuationRepairService) defaultPriceFor(category string) decimal.Decimal {
	if price, ok := s.config.DefaultPrices[category]; ok {
		return price
	}
	return s.config.FallbackPrice
}
