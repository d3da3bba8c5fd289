package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MutationReason 表示一次库存变更的业务来源。
type MutationReason string

const (
	ReasonPurchaseCompleted MutationReason = "purchase_completed"
	ReasonOrderCompleted    MutationReason = "order_completed"
	ReasonManualAdjustment  MutationReason = "manual_adjustment"
)

// StockMutation 表示一条库存变更审计记录。
// Delta 为正表示入库，为负表示扣减；CorrelationID 为幂等键
// （通常是采购单或订单 ID）。
type StockMutation struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	Delta         decimal.Decimal `json:"delta"`
	Reason        MutationReason  `json:"reason"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReconcileReport 表示单条目的估值对账结果：
// 以采购台账全量重算的 WAC 与存量值之间的偏差。
type ReconcileReport struct {
	ItemID          int64           `json:"item_id"`
	Name            string          `json:"name"`
	StoredWAC       decimal.Decimal `json:"stored_wac"`
	LedgerWAC       decimal.Decimal `json:"ledger_wac"`
	LedgerValued    bool            `json:"ledger_valued"`
	QualifyingLines int             `json:"qualifying_lines"`
	Drift           decimal.Decimal `json:"drift"`
	InSync          bool            `json:"in_sync"`
}
