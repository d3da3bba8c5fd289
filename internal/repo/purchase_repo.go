package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/ledger"
)

// PurchaseRepository 定义采购单与采购台账的数据访问接口。
// 台账是只追加的：行项目在采购完成后不可修改。
type PurchaseRepository interface {
	Create(purchase *domain.Purchase) error
	GetByID(id string) (*domain.Purchase, error)

	// ListCompletedLineItemsByItem 返回指定条目全部已完成采购的行项目，
	// 按完成时间升序。历史遗留行缺少规范列时从原始负载归一化读出。
	ListCompletedLineItemsByItem(itemID int64) ([]domain.PurchaseLineItem, error)

	// HasCompletedHistory 判断条目是否存在已完成的采购记录。
	HasCompletedHistory(itemID int64) (bool, error)
}

// purchaseRepo 实现 PurchaseRepository 接口。
type purchaseRepo struct {
	db *sql.DB
}

// NewPurchaseRepository 创建采购仓储实例。
func NewPurchaseRepository(db *sql.DB) PurchaseRepository {
	return &purchaseRepo{db: db}
}

// Create 创建采购单及其行项目。新采购单状态为 pending。
func (r *purchaseRepo) Create(purchase *domain.Purchase) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		INSERT INTO purchases (id, supplier_ref, status)
		VALUES ($1, $2, 'pending')
		RETURNING created_at
	`, purchase.ID, purchase.SupplierRef).Scan(&purchase.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	for i := range purchase.LineItems {
		l := &purchase.LineItems[i]
		raw, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to marshal line item: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO purchase_line_items (purchase_id, item_id, quantity_received, unit_cost, raw_payload)
			VALUES ($1, $2, $3, $4, $5)
		`, purchase.ID, l.ItemID, l.QuantityReceived, l.UnitCost, raw)
		if err != nil {
			return fmt.Errorf("failed to create purchase line item: %w", err)
		}
		l.PurchaseID = purchase.ID
	}

	purchase.Status = domain.PurchaseStatusPending
	return tx.Commit()
}

// GetByID 获取采购单及其全部行项目。不存在时返回 (nil, nil)。
func (r *purchaseRepo) GetByID(id string) (*domain.Purchase, error) {
	purchase := &domain.Purchase{}
	err := r.db.QueryRow(`
		SELECT id, supplier_ref, status, completed_at, created_at
		FROM purchases
		WHERE id = $1
	`, id).Scan(
		&purchase.ID,
		&purchase.SupplierRef,
		&purchase.Status,
		&purchase.CompletedAt,
		&purchase.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase by id: %w", err)
	}

	lines, err := r.listLineItems(purchase)
	if err != nil {
		return nil, err
	}
	purchase.LineItems = lines
	return purchase, nil
}

func (r *purchaseRepo) listLineItems(purchase *domain.Purchase) ([]domain.PurchaseLineItem, error) {
	rows, err := r.db.Query(`
		SELECT item_id, quantity_received, unit_cost, raw_payload
		FROM purchase_line_items
		WHERE purchase_id = $1
		ORDER BY id
	`, purchase.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase line items: %w", err)
	}
	defer rows.Close()

	completedAt := purchase.CreatedAt
	if purchase.CompletedAt != nil {
		completedAt = *purchase.CompletedAt
	}

	var lines []domain.PurchaseLineItem
	for rows.Next() {
		line, err := scanLineItem(rows, purchase.ID, completedAt)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListCompletedLineItemsByItem 返回指定条目的已完成采购行项目。
//
// 规范列齐全的行直接读出；历史导入行规范列为 NULL，回退到
// raw_payload 走归一化。两类行在同一查询中按完成时间排序，
// item_id 为 NULL 的行通过负载中的同义ID字段匹配。
func (r *purchaseRepo) ListCompletedLineItemsByItem(itemID int64) ([]domain.PurchaseLineItem, error) {
	rows, err := r.db.Query(`
		SELECT l.purchase_id, l.item_id, l.quantity_received, l.unit_cost, l.raw_payload, p.completed_at
		FROM purchase_line_items l
		JOIN purchases p ON p.id = l.purchase_id
		WHERE p.status = 'completed'
		  AND (l.item_id = $1 OR l.item_id IS NULL)
		ORDER BY p.completed_at, l.id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed line items: %w", err)
	}
	defer rows.Close()

	var lines []domain.PurchaseLineItem
	for rows.Next() {
		var (
			purchaseID  string
			rowItemID   sql.NullInt64
			qty, cost   sql.NullString
			raw         []byte
			completedAt time.Time
		)
		if err := rows.Scan(&purchaseID, &rowItemID, &qty, &cost, &raw, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}

		line, err := resolveLineItem(purchaseID, rowItemID, qty, cost, raw, completedAt)
		if err != nil {
			// 无法归一化的遗留行不参与估值，跳过而不是中断整次读取。
			continue
		}
		if line.ItemID != itemID {
			continue
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// HasCompletedHistory 判断条目是否存在已完成的采购记录。
// 只看规范列；遗留行的历史存在性由诊断报告单独统计。
func (r *purchaseRepo) HasCompletedHistory(itemID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1
			FROM purchase_line_items l
			JOIN purchases p ON p.id = l.purchase_id
			WHERE p.status = 'completed' AND l.item_id = $1
		)
	`, itemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check purchase history: %w", err)
	}
	return exists, nil
}

// scanLineItem 读取单行并在规范列缺失时回退归一化。
func scanLineItem(rows *sql.Rows, purchaseID string, completedAt time.Time) (domain.PurchaseLineItem, error) {
	var (
		rowItemID sql.NullInt64
		qty, cost sql.NullString
		raw       []byte
	)
	if err := rows.Scan(&rowItemID, &qty, &cost, &raw); err != nil {
		return domain.PurchaseLineItem{}, fmt.Errorf("failed to scan line item: %w", err)
	}
	return resolveLineItem(purchaseID, rowItemID, qty, cost, raw, completedAt)
}

func resolveLineItem(purchaseID string, itemID sql.NullInt64, qty, cost sql.NullString, raw []byte, completedAt time.Time) (domain.PurchaseLineItem, error) {
	if itemID.Valid && qty.Valid && cost.Valid {
		line := domain.PurchaseLineItem{
			ItemID:            itemID.Int64,
			PurchaseID:        purchaseID,
			PurchaseTimestamp: completedAt,
		}
		var err error
		if line.QuantityReceived, err = decimal.NewFromString(qty.String); err != nil {
			return domain.PurchaseLineItem{}, fmt.Errorf("purchase %s: bad quantity: %w", purchaseID, err)
		}
		if line.UnitCost, err = decimal.NewFromString(cost.String); err != nil {
			return domain.PurchaseLineItem{}, fmt.Errorf("purchase %s: bad unit cost: %w", purchaseID, err)
		}
		return line, nil
	}

	var rawLine ledger.RawLineItem
	if err := json.Unmarshal(raw, &rawLine); err != nil {
		return domain.PurchaseLineItem{}, fmt.Errorf("purchase %s: invalid raw payload: %w", purchaseID, err)
	}
	return ledger.NormalizeLineItem(purchaseID, completedAt, rawLine)
}
