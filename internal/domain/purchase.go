package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus 表示采购单状态。
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

// IsTerminal 判断状态是否为终态。
// 状态转移是单向的：pending→completed 或 pending→cancelled。
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusCancelled
}

// Purchase 表示采购单。completed 后不可变，其行项目进入采购台账。
type Purchase struct {
	ID          string             `json:"id"`
	SupplierRef string             `json:"supplier_ref"`
	Status      PurchaseStatus     `json:"status"`
	LineItems   []PurchaseLineItem `json:"line_items"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// PurchaseLineItem 表示采购台账中的一条行项目（不可变，只追加）。
type PurchaseLineItem struct {
	ItemID            int64           `json:"item_id"`
	QuantityReceived  decimal.Decimal `json:"quantity_received"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	PurchaseID        string          `json:"purchase_id"`
	PurchaseTimestamp time.Time       `json:"purchase_timestamp"`
}

// HasPricingSignal 判断该行是否携带定价信号：
// 数量与单价都为正数的行才参与 WAC 计算。
func (l *PurchaseLineItem) HasPricingSignal() bool {
	return l.QuantityReceived.IsPositive() && l.UnitCost.IsPositive()
}

// Validate 校验行项目。单价为 0（赠品/样品）合法但会返回警告。
func (l *PurchaseLineItem) Validate() (warnings []string, err error) {
	if l.ItemID <= 0 {
		return nil, errors.New("line item requires a valid item id")
	}
	if !l.QuantityReceived.IsPositive() {
		return nil, fmt.Errorf("line item for item %d: quantity received must be positive", l.ItemID)
	}
	if l.UnitCost.IsNegative() {
		return nil, fmt.Errorf("line item for item %d: unit cost must not be negative", l.ItemID)
	}
	if l.UnitCost.IsZero() {
		warnings = append(warnings, fmt.Sprintf("item %d received at zero cost (free/sample stock)", l.ItemID))
	}
	return warnings, nil
}

// Validate 校验采购单及其全部行项目。
func (p *Purchase) Validate() (warnings []string, err error) {
	if len(p.LineItems) == 0 {
		return nil, errors.New("purchase has no line items")
	}
	for i := range p.LineItems {
		w, err := p.LineItems[i].Validate()
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w...)
	}
	return warnings, nil
}

// CreatePurchaseRequest 表示创建采购单的请求。
type CreatePurchaseRequest struct {
	SupplierRef string             `json:"supplier_ref"`
	LineItems   []PurchaseLineItem `json:"line_items"`
}

// PurchaseCompletionResult 表示采购完成操作的结果。
type PurchaseCompletionResult struct {
	PurchaseID        string   `json:"purchase_id"`
	StockItemsUpdated int      `json:"stock_items_updated"`
	Warnings          []string `json:"warnings,omitempty"`
	// AlreadyApplied 表示本次调用命中幂等键，未产生任何新的库存变更。
	AlreadyApplied bool `json:"already_applied,omitempty"`
}
