package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnvalued 表示 WAC 计算未找到任何定价信号。
// 对计算器本身这不是错误，而是修复工具需要处理的条件。
var ErrUnvalued = errors.New("no pricing signal in purchase history")

// ItemNotFoundError 表示引用的库存条目不存在。
// 单次操作级别的致命错误，不影响其他条目的状态。
type ItemNotFoundError struct {
	ItemID int64
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("inventory item %d not found", e.ItemID)
}

// PurchaseNotFoundError 表示引用的采购单不存在。
type PurchaseNotFoundError struct {
	PurchaseID string
}

func (e *PurchaseNotFoundError) Error() string {
	return fmt.Sprintf("purchase %s not found", e.PurchaseID)
}

// PurchaseCancelledError 表示试图完成一张已取消的采购单。
type PurchaseCancelledError struct {
	PurchaseID string
}

func (e *PurchaseCancelledError) Error() string {
	return fmt.Sprintf("purchase %s is cancelled and cannot be completed", e.PurchaseID)
}

// InsufficientStockError 表示订单完成被库存不足阻断。
// 始终携带全部缺口条目及数量，而不是只报告第一条。
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (item %d): need %s, have %s, short %s",
			s.Name, s.ItemID, s.Required.String(), s.Available.String(), s.Shortfall.String()))
	}
	return fmt.Sprintf("insufficient stock for %d item(s): %s", len(e.Shortages), strings.Join(parts, "; "))
}

// ConflictError 表示并发修改冲突且重试已用尽。
// 这是瞬态失败，调用方应重试。
type ConflictError struct {
	ItemID   int64
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification conflict on item %d after %d attempt(s)", e.ItemID, e.Attempts)
}

// IsRetryable 判断错误是否为可重试的瞬态冲突。
func IsRetryable(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// RepairItemError 表示修复工具对单个条目的写回失败。
// 批处理不会因单条失败而中止，失败逐条上报。
type RepairItemError struct {
	ItemID int64  `json:"item_id"`
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

func (e *RepairItemError) Error() string {
	return fmt.Sprintf("repair failed for item %d (%s): %s", e.ItemID, e.Name, e.Detail)
}
