// Package ledger 实现采购台账读取边界的数据归一化。
// 上游历史数据对同一字段存在多种命名（jumlah/kuantitas/quantity、
// hargaSatuan/harga_per_satuan/price、bahanBakuId/bahan_baku_id/id），
// 在此统一折叠为规范的 PurchaseLineItem，同义字段不允许渗入领域逻辑。
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
)

// RawLineItem 表示尚未归一化的上游行项目。
type RawLineItem map[string]any

// 各字段按历史出现频率排列的同义键集合。
var (
	itemIDKeys   = []string{"bahanBakuId", "bahan_baku_id", "item_id", "id"}
	quantityKeys = []string{"kuantitas", "jumlah", "quantity", "qty", "quantity_received"}
	unitCostKeys = []string{"hargaSatuan", "harga_per_satuan", "harga_satuan", "unit_cost", "unit_price", "price"}
)

// NormalizeLineItem 将单条上游行项目归一化为规范形状。
func NormalizeLineItem(purchaseID string, completedAt time.Time, raw RawLineItem) (domain.PurchaseLineItem, error) {
	itemID, err := int64From(raw, itemIDKeys)
	if err != nil {
		return domain.PurchaseLineItem{}, fmt.Errorf("purchase %s: %w", purchaseID, err)
	}
	qty, err := decimalFrom(raw, quantityKeys)
	if err != nil {
		return domain.PurchaseLineItem{}, fmt.Errorf("purchase %s, item %d: %w", purchaseID, itemID, err)
	}
	cost, err := decimalFrom(raw, unitCostKeys)
	if err != nil {
		return domain.PurchaseLineItem{}, fmt.Errorf("purchase %s, item %d: %w", purchaseID, itemID, err)
	}

	return domain.PurchaseLineItem{
		ItemID:            itemID,
		QuantityReceived:  qty,
		UnitCost:          cost,
		PurchaseID:        purchaseID,
		PurchaseTimestamp: completedAt,
	}, nil
}

// NormalizeLineItems 解析一条 JSON 数组负载并归一化其中全部行项目。
func NormalizeLineItems(purchaseID string, completedAt time.Time, payload []byte) ([]domain.PurchaseLineItem, error) {
	var raws []RawLineItem
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, fmt.Errorf("purchase %s: invalid line item payload: %w", purchaseID, err)
	}

	lines := make([]domain.PurchaseLineItem, 0, len(raws))
	for _, raw := range raws {
		line, err := NormalizeLineItem(purchaseID, completedAt, raw)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// int64From 在同义键集合中查找第一个可解析为整数的值。
func int64From(raw RawLineItem, keys []string) (int64, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int64(t), nil
		case int64:
			return t, nil
		case json.Number:
			return t.Int64()
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				continue
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("field %q: %q is not a valid id", k, t)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("no usable id field among %v", keys)
}

// decimalFrom 在同义键集合中查找第一个可解析为 decimal 的值。
func decimalFrom(raw RawLineItem, keys []string) (decimal.Decimal, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return decimal.NewFromFloat(t), nil
		case json.Number:
			return decimal.NewFromString(t.String())
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				continue
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return decimal.Zero, fmt.Errorf("field %q: %q is not a valid number", k, t)
			}
			return d, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no usable numeric field among %v", keys)
}
