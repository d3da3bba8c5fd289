package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rotihouse/inventory-core/internal/domain"
)

// MutationTx 定义一次库存变更事务内可用的操作集合。
// 实现保证：事务内读到的行已被行级锁定，提交前外部不可见。
type MutationTx interface {
	// LockItems 按ID升序锁定（SELECT ... FOR UPDATE）并返回条目。
	// 固定升序加锁避免并发事务交叉持锁导致死锁。
	// 不存在的ID在返回的 map 中缺失，由调用方判定。
	LockItems(ids []int64) (map[int64]*domain.InventoryItem, error)

	// UpdateItem 写回条目的库存、WAC 与估值状态，版本号加一。
	UpdateItem(item *domain.InventoryItem) error

	// GetPurchaseForUpdate 锁定采购单行并返回采购单及其行项目。
	GetPurchaseForUpdate(id string) (*domain.Purchase, error)

	// MarkPurchaseCompleted 执行受保护的 pending→completed 状态转移。
	// 状态不是 pending 时不产生写入并返回 false。
	MarkPurchaseCompleted(id string, completedAt time.Time) (bool, error)

	// Claim 占用幂等键。键已被占用时返回 false，
	// 调用方应读取 StoredResult 回放先前的结果。
	Claim(correlationID string, reason domain.MutationReason) (bool, error)

	// StoredResult 返回幂等键对应的已存结果；尚无结果时返回 nil。
	StoredResult(correlationID string, reason domain.MutationReason) ([]byte, error)

	// SaveResult 将操作结果与幂等键一同落库，供重复调用回放。
	SaveResult(correlationID string, reason domain.MutationReason, result []byte) error

	// RecordMutation 追加一条库存变更审计记录。
	RecordMutation(m *domain.StockMutation) error
}

// UnitOfWork 定义库存变更事务边界。
// fn 返回错误时整个事务回滚，包括已占用的幂等键——
// 失败的操作不留痕，补货后重试同一业务ID可以成功。
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx MutationTx) error) error
}

// pgUnitOfWork 基于 Postgres 事务实现 UnitOfWork。
type pgUnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork 创建库存变更事务工厂。
func NewUnitOfWork(db *sql.DB) UnitOfWork {
	return &pgUnitOfWork{db: db}
}

// WithinTx 在单个数据库事务内执行 fn。
// 序列化冲突与死锁被映射为领域层的 ConflictError，供上层重试。
func (u *pgUnitOfWork) WithinTx(ctx context.Context, fn func(tx MutationTx) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgMutationTx{tx: tx}); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapTxError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapTxError 将 Postgres 的瞬态并发错误折叠为 ConflictError。
// 40001 为序列化失败，40P01 为死锁检测。
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return &domain.ConflictError{Attempts: 1}
		}
	}
	return err
}

// pgMutationTx 实现 MutationTx 接口。
type pgMutationTx struct {
	tx *sql.Tx
}

func (t *pgMutationTx) LockItems(ids []int64) (map[int64]*domain.InventoryItem, error) {
	if len(ids) == 0 {
		return map[int64]*domain.InventoryItem{}, nil
	}

	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	items := make(map[int64]*domain.InventoryItem, len(sorted))
	query := fmt.Sprintf(`
		SELECT %s FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, itemColumns)

	// 逐条按升序加锁而不是一条 IN 查询：
	// Postgres 对 IN 的加锁顺序不保证与ID顺序一致。
	for _, id := range sorted {
		item, err := scanItem(t.tx.QueryRow(query, id))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock inventory item %d: %w", id, err)
		}
		items[item.ID] = item
	}
	return items, nil
}

func (t *pgMutationTx) UpdateItem(item *domain.InventoryItem) error {
	query := `
		UPDATE inventory_items
		SET current_stock = $1, current_wac = $2, valued = $3,
		    last_recalculated_at = $4, version = version + 1, updated_at = NOW()
		WHERE id = $5
	`

	result, err := t.tx.Exec(query,
		item.CurrentStock,
		item.CurrentWAC,
		item.Valued,
		item.LastRecalculatedAt,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update inventory item %d: %w", item.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ItemNotFoundError{ItemID: item.ID}
	}

	item.Version++
	return nil
}

func (t *pgMutationTx) GetPurchaseForUpdate(id string) (*domain.Purchase, error) {
	purchase := &domain.Purchase{}
	err := t.tx.QueryRow(`
		SELECT id, supplier_ref, status, completed_at, created_at
		FROM purchases
		WHERE id = $1
		FOR UPDATE
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
		return nil, fmt.Errorf("failed to lock purchase %s: %w", id, err)
	}

	rows, err := t.tx.Query(`
		SELECT item_id, quantity_received, unit_cost, raw_payload
		FROM purchase_line_items
		WHERE purchase_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase line items: %w", err)
	}
	defer rows.Close()

	completedAt := purchase.CreatedAt
	if purchase.CompletedAt != nil {
		completedAt = *purchase.CompletedAt
	}

	for rows.Next() {
		line, err := scanLineItem(rows, purchase.ID, completedAt)
		if err != nil {
			return nil, err
		}
		purchase.LineItems = append(purchase.LineItems, line)
	}
	return purchase, rows.Err()
}

func (t *pgMutationTx) MarkPurchaseCompleted(id string, completedAt time.Time) (bool, error) {
	result, err := t.tx.Exec(`
		UPDATE purchases
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, completedAt)
	if err != nil {
		return false, fmt.Errorf("failed to complete purchase %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (t *pgMutationTx) Claim(correlationID string, reason domain.MutationReason) (bool, error) {
	result, err := t.tx.Exec(`
		INSERT INTO applied_mutations (correlation_id, reason)
		VALUES ($1, $2)
		ON CONFLICT (correlation_id, reason) DO NOTHING
	`, correlationID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (t *pgMutationTx) StoredResult(correlationID string, reason domain.MutationReason) ([]byte, error) {
	var result []byte
	err := t.tx.QueryRow(`
		SELECT result FROM applied_mutations
		WHERE correlation_id = $1 AND reason = $2
	`, correlationID, reason).Scan(&result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored result: %w", err)
	}
	return result, nil
}

func (t *pgMutationTx) SaveResult(correlationID string, reason domain.MutationReason, result []byte) error {
	_, err := t.tx.Exec(`
		UPDATE applied_mutations
		SET result = $3, applied_at = NOW()
		WHERE correlation_id = $1 AND reason = $2
	`, correlationID, reason, result)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (t *pgMutationTx) RecordMutation(m *domain.StockMutation) error {
	err := t.tx.QueryRow(`
		INSERT INTO stock_mutations (item_id, delta, reason, correlation_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, m.ItemID, m.Delta, m.Reason, m.CorrelationID).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record stock mutation: %w", err)
	}
	return nil
}
