// Package repo 实现库存数据访问层，负责与数据库的交互。
package repo

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rotihouse/inventory-core/internal/domain"
)

// InventoryItemRepository 定义库存条目数据访问接口。
// 库存数量与 WAC 的写入走变更引擎的事务端口，本接口只覆盖
// 注册、查询与修复工具的条件写回。
type InventoryItemRepository interface {
	Create(item *domain.InventoryItem) error
	GetByID(id int64) (*domain.InventoryItem, error)
	GetByIDs(ids []int64) ([]*domain.InventoryItem, error)
	List(req *domain.ItemListRequest) ([]*domain.InventoryItem, int64, error)

	// ListNeedingValuation 返回持有库存但 WAC 为 0 或未估值的条目。
	ListNeedingValuation() ([]*domain.InventoryItem, error)

	// FillValuation 条件写回估值：仅当条目仍处于 WAC 为 0 或未估值
	// 状态时才更新，避免覆盖并发写入的有效估值。返回是否实际更新。
	FillValuation(id int64, price decimal.Decimal) (bool, error)

	Count() (int64, error)
}

// itemRepo 实现 InventoryItemRepository 接口。
type itemRepo struct {
	db *sql.DB
}

// NewInventoryItemRepository 创建库存条目仓储实例。
func NewInventoryItemRepository(db *sql.DB) InventoryItemRepository {
	return &itemRepo{db: db}
}

const itemColumns = `id, name, category, unit, current_stock, current_wac, valued, version, last_recalculated_at, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*domain.InventoryItem, error) {
	item := &domain.InventoryItem{}
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Category,
		&item.Unit,
		&item.CurrentStock,
		&item.CurrentWAC,
		&item.Valued,
		&item.Version,
		&item.LastRecalculatedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Create 注册库存条目。新条目库存为 0 且未估值。
func (r *itemRepo) Create(item *domain.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (name, category, unit, current_stock, current_wac, valued)
		VALUES ($1, $2, $3, 0, 0, FALSE)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(query, item.Name, item.Category, item.Unit).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create inventory item: %w", err)
	}

	item.CurrentStock = decimal.Zero
	item.CurrentWAC = decimal.Zero
	item.Valued = false
	return nil
}

// GetByID 根据ID获取库存条目。不存在时返回 (nil, nil)。
func (r *itemRepo) GetByID(id int64) (*domain.InventoryItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE id = $1`, itemColumns)

	item, err := scanItem(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory item by id: %w", err)
	}
	return item, nil
}

// GetByIDs 批量获取库存条目，按ID升序返回。
func (r *itemRepo) GetByIDs(ids []int64) ([]*domain.InventoryItem, error) {
	if len(ids) == 0 {
		return []*domain.InventoryItem{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT %s FROM inventory_items
		WHERE id IN (%s)
		ORDER BY id
	`, itemColumns, strings.Join(placeholders, ","))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory items by ids: %w", err)
	}
	defer rows.Close()

	var items []*domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List 获取库存条目列表。
func (r *itemRepo) List(req *domain.ItemListRequest) ([]*domain.InventoryItem, int64, error) {
	req.Normalize()
	where, args := r.buildListWhereClause(req)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM inventory_items %s", where)
	var total int64
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count inventory items: %w", err)
	}

	orderBy := r.buildOrderClause(req)
	query := fmt.Sprintf(`
		SELECT %s FROM inventory_items %s %s LIMIT $%d OFFSET $%d
	`, itemColumns, where, orderBy, len(args)+1, len(args)+2)

	args = append(args, req.PageSize, (req.Page-1)*req.PageSize)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query inventory items: %w", err)
	}
	defer rows.Close()

	var items []*domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// ListNeedingValuation 返回需要估值修复的条目，按ID升序。
func (r *itemRepo) ListNeedingValuation() ([]*domain.InventoryItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM inventory_items
		WHERE (current_wac = 0 OR NOT valued) AND current_stock > 0
		ORDER BY id
	`, itemColumns)

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query items needing valuation: %w", err)
	}
	defer rows.Close()

	var items []*domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FillValuation 条件写回估值。WHERE 子句重复修复条件，
// 使得"只填补空缺、不覆盖有效值"由数据库保证而非应用层判断。
func (r *itemRepo) FillValuation(id int64, price decimal.Decimal) (bool, error) {
	query := `
		UPDATE inventory_items
		SET current_wac = $1, valued = TRUE, last_recalculated_at = NOW(),
		    version = version + 1, updated_at = NOW()
		WHERE id = $2 AND (current_wac = 0 OR NOT valued)
	`

	result, err := r.db.Exec(query, price, id)
	if err != nil {
		return false, fmt.Errorf("failed to fill valuation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// Count 获取库存条目总数。
func (r *itemRepo) Count() (int64, error) {
	var count int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM inventory_items").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inventory items: %w", err)
	}
	return count, nil
}

// buildListWhereClause 构建查询条件子句。
func (r *itemRepo) buildListWhereClause(req *domain.ItemListRequest) (string, []any) {
	var conditions []string
	var args []any

	if req.Category != nil && *req.Category != "" {
		args = append(args, *req.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}

	if req.NeedsValuation != nil && *req.NeedsValuation {
		conditions = append(conditions, "(current_wac = 0 OR NOT valued) AND current_stock > 0")
	}

	if len(conditions) > 0 {
		return "WHERE " + strings.Join(conditions, " AND "), args
	}
	return "", args
}

// buildOrderClause 构建排序子句。
func (r *itemRepo) buildOrderClause(req *domain.ItemListRequest) string {
	sortBy := "id"
	sortOrder := "ASC"

	if req.SortBy != nil {
		switch *req.SortBy {
		case "name", "category", "current_stock", "updated_at", "created_at":
			sortBy = *req.SortBy
		}
	}
	if req.SortOrder != nil && strings.ToUpper(*req.SortOrder) == "DESC" {
		sortOrder = "DESC"
	}

	return fmt.Sprintf("ORDER BY %s %s", sortBy, sortOrder)
}
