// Package domain 定义库存估值相关的业务领域模型和核心业务规则。
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem 表示库存条目领域模型。
// CurrentStock 与 CurrentWAC 由库存变更引擎独占写入，其他组件只读。
type InventoryItem struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CurrentWAC   decimal.Decimal `json:"current_wac"`
	// Valued 为 false 表示该条目尚无可靠的成本依据（"未估值"），
	// 区别于成本确实为 0 的情况。
	Valued             bool       `json:"valued"`
	Version            int64      `json:"version"` // 乐观锁版本号
	LastRecalculatedAt *time.Time `json:"last_recalculated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsUnvalued 判断该条目是否尚未估值。
func (i *InventoryItem) IsUnvalued() bool {
	return !i.Valued
}

// NeedsValuation 判断该条目是否需要修复估值：
// 未估值或 WAC 为 0，且仍持有库存。
func (i *InventoryItem) NeedsValuation() bool {
	return (!i.Valued || i.CurrentWAC.IsZero()) && i.CurrentStock.IsPositive()
}

// HasSufficientStock 判断当前库存是否足以扣减指定数量。
func (i *InventoryItem) HasSufficientStock(qty decimal.Decimal) bool {
	return i.CurrentStock.GreaterThanOrEqual(qty)
}

// ShortfallFor 返回扣减指定数量时的缺口；库存充足时返回 0。
func (i *InventoryItem) ShortfallFor(qty decimal.Decimal) decimal.Decimal {
	if i.HasSufficientStock(qty) {
		return decimal.Zero
	}
	return qty.Sub(i.CurrentStock)
}

// StockValue 返回当前库存价值（数量 × WAC），仅供展示。
func (i *InventoryItem) StockValue() decimal.Decimal {
	return i.CurrentStock.Mul(i.CurrentWAC)
}

// ApplyReceipt 应用一次入库：增加库存并按增量移动平均公式更新 WAC。
//
//	newWAC = (currentStock*currentWAC + qty*unitCost) / (currentStock + qty)
//
// 首次入库或尚未估值时 WAC 直接取本次单价；单价为 0 的入库（赠品/样品）
// 只增加库存，不携带定价信号，WAC 保持不变。
func (i *InventoryItem) ApplyReceipt(qty, unitCost decimal.Decimal) error {
	if !qty.IsPositive() {
		return errors.New("receipt quantity must be positive")
	}
	if unitCost.IsNegative() {
		return errors.New("receipt unit cost must not be negative")
	}

	if unitCost.IsZero() {
		i.CurrentStock = i.CurrentStock.Add(qty)
		return nil
	}

	if !i.Valued || i.CurrentStock.IsZero() {
		i.CurrentWAC = unitCost
	} else {
		newStock := i.CurrentStock.Add(qty)
		totalValue := i.CurrentStock.Mul(i.CurrentWAC).Add(qty.Mul(unitCost))
		i.CurrentWAC = totalValue.DivRound(newStock, 4)
	}
	i.CurrentStock = i.CurrentStock.Add(qty)
	i.Valued = true
	return nil
}

// Deduct 扣减库存。库存不足时返回错误且状态不变；
// WAC 不在扣减时重算（加权平均成本只在入库时变化）。
func (i *InventoryItem) Deduct(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return errors.New("deduction quantity must be positive")
	}
	if !i.HasSufficientStock(qty) {
		return errors.New("insufficient stock")
	}
	i.CurrentStock = i.CurrentStock.Sub(qty)
	return nil
}

// ItemListRequest 表示库存条目列表查询参数。
type ItemListRequest struct {
	Category       *string `form:"category"`
	NeedsValuation *bool   `form:"needs_valuation"`
	Page           int     `form:"page"`
	PageSize       int     `form:"page_size"`
	SortBy         *string `form:"sort_by"`
	SortOrder      *string `form:"sort_order"`
}

// Normalize 填充分页默认值并限制页大小上限。
func (r *ItemListRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = 20
	}
	if r.PageSize > 100 {
		r.PageSize = 100
	}
}

// CreateItemRequest 表示注册库存条目的请求。
// 新条目库存为 0 且处于未估值状态。
type CreateItemRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
}

// Validate 校验创建请求。
func (r *CreateItemRequest) Validate() error {
	if r.Name == "" {
		return errors.New("item name is required")
	}
	if r.Unit == "" {
		return errors.New("item unit is required")
	}
	return nil
}
