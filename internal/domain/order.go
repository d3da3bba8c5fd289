package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderLineItem 表示订单完成时需要消耗的一种原料及数量。
type OrderLineItem struct {
	ItemID         int64           `json:"item_id"`
	QuantityNeeded decimal.Decimal `json:"quantity_needed"`
}

// OrderCompletionRequest 表示订单完成请求。
// OrderID 作为幂等键；行项目由调用方（订单工作流）根据配方展开后传入。
type OrderCompletionRequest struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	LineItems   []OrderLineItem `json:"line_items"`
}

// Validate 校验订单完成请求。
func (r *OrderCompletionRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("order id is required")
	}
	if len(r.LineItems) == 0 {
		return errors.New("order has no required line items")
	}
	for _, l := range r.LineItems {
		if l.ItemID <= 0 {
			return errors.New("order line requires a valid item id")
		}
		if !l.QuantityNeeded.IsPositive() {
			return fmt.Errorf("order line for item %d: quantity needed must be positive", l.ItemID)
		}
	}
	return nil
}

// StockShortage 描述一种原料的库存缺口。
type StockShortage struct {
	ItemID    int64           `json:"item_id"`
	Name      string          `json:"name"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// StockDeduction 描述一次已执行的库存扣减，供调用方记录审计日志。
type StockDeduction struct {
	ItemID   int64           `json:"item_id"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderCompletionResult 表示订单完成操作的结果。
// TotalAmount 为按各原料当前 WAC 估算的消耗成本合计。
type OrderCompletionResult struct {
	Success           bool             `json:"success"`
	OrderID           string           `json:"order_id"`
	OrderNumber       string           `json:"order_number,omitempty"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	StockItemsUpdated int              `json:"stock_items_updated"`
	Deductions        []StockDeduction `json:"deductions,omitempty"`
	// AlreadyApplied 表示本次调用命中幂等键，未产生任何新的库存扣减。
	AlreadyApplied bool `json:"already_applied,omitempty"`
}

// StockCheckResult 表示订单完成前置检查（干跑）的结果。
type StockCheckResult struct {
	CanComplete       bool            `json:"can_complete"`
	InsufficientStock []StockShortage `json:"insufficient_stock,omitempty"`
}
