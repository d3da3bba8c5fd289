// Package wac 实现按采购历史计算加权平均成本（WAC）的纯函数。
// 计算不产生任何副作用，可在诊断场景下独立调用。
package wac

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
)

// 金额与数量统一保留 4 位小数，与存储层 NUMERIC(20,4) 一致。
const Scale = 4

// DriftTolerance 为对账时允许的舍入误差。
var DriftTolerance = decimal.New(1, -2) // 0.01

// Result 表示一次批量 WAC 计算的结果。
// Valued 为 false 表示历史中没有任何定价信号，此时 Cost 为 0
// 但不能当作"价格就是 0"使用，回退策略由调用方决定。
type Result struct {
	Cost            decimal.Decimal `json:"cost"`
	Valued          bool            `json:"valued"`
	QualifyingLines int             `json:"qualifying_lines"`
	TotalQuantity   decimal.Decimal `json:"total_quantity"`
	TotalValue      decimal.Decimal `json:"total_value"`
}

// Compute 对单个条目的全部已完成采购行计算加权平均成本：
//
//	wac = Σ(qty_i × cost_i) / Σ(qty_i)
//
// 数量或单价为 0 的行不携带定价信号，从分子分母同时剔除。
func Compute(lines []domain.PurchaseLineItem) Result {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	qualifying := 0

	for i := range lines {
		l := &lines[i]
		if !l.HasPricingSignal() {
			continue
		}
		totalQty = totalQty.Add(l.QuantityReceived)
		totalValue = totalValue.Add(l.QuantityReceived.Mul(l.UnitCost))
		qualifying++
	}

	if qualifying == 0 || totalQty.IsZero() {
		return Result{Cost: decimal.Zero, Valued: false}
	}

	return Result{
		Cost:            totalValue.DivRound(totalQty, Scale),
		Valued:          true,
		QualifyingLines: qualifying,
		TotalQuantity:   totalQty,
		TotalValue:      totalValue,
	}
}

// ComputeSince 与 Compute 相同，但只统计 cutoff 之后完成的采购行。
// cutoff 为零值时等价于全量计算。
func ComputeSince(lines []domain.PurchaseLineItem, cutoff time.Time) Result {
	if cutoff.IsZero() {
		return Compute(lines)
	}
	filtered := make([]domain.PurchaseLineItem, 0, len(lines))
	for _, l := range lines {
		if !l.PurchaseTimestamp.Before(cutoff) {
			filtered = append(filtered, l)
		}
	}
	return Compute(filtered)
}

// InSync 判断存量 WAC 与台账重算值是否在容差内一致。
func InSync(stored, ledger decimal.Decimal) bool {
	return stored.Sub(ledger).Abs().LessThanOrEqual(DriftTolerance)
}
