// Package api 提供库存估值相关的HTTP API处理器实现。
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/middleware"
	"github.com/rotihouse/inventory-core/internal/resp"
	"github.com/rotihouse/inventory-core/internal/service"
)

// ItemHandler 库存条目相关的HTTP处理器
type ItemHandler struct {
	itemService     service.InventoryItemService
	mutationService *service.StockMutationService
	logger          *zap.Logger
}

// NewItemHandler 创建库存条目处理器实例
func NewItemHandler(itemService service.InventoryItemService, mutationService *service.StockMutationService, logger *zap.Logger) *ItemHandler {
	return &ItemHandler{
		itemService:     itemService,
		mutationService: mutationService,
		logger:          logger,
	}
}

// CreateItem 注册库存条目
// POST /api/v1/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	if err := req.Validate(); err != nil {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
		return
	}

	item, err := h.itemService.CreateItem(&req)
	if err != nil {
		h.logger.Error("create item failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "create item failed", reqID, "")
		return
	}

	resp.OK(w, item, reqID, "")
}

// GetItem 获取库存条目详情
// GET /api/v1/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	id, ok := itemIDFromPath(w, r, reqID)
	if !ok {
		return
	}

	item, err := h.itemService.GetItem(id)
	if err != nil {
		writeServiceError(w, h.logger, reqID, "get item", err)
		return
	}

	resp.OK(w, item, reqID, "")
}

// ListItems 获取库存条目列表
// GET /api/v1/items?category=Bumbu&needs_valuation=true&page=1&page_size=20
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	req := &domain.ItemListRequest{}
	query := r.URL.Query()

	if pageStr := query.Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil {
			req.Page = page
		}
	}
	if pageSizeStr := query.Get("page_size"); pageSizeStr != "" {
		if pageSize, err := strconv.Atoi(pageSizeStr); err == nil {
			req.PageSize = pageSize
		}
	}
	if category := query.Get("category"); category != "" {
		req.Category = &category
	}
	if nvStr := query.Get("needs_valuation"); nvStr != "" {
		if nv, err := strconv.ParseBool(nvStr); err == nil {
			req.NeedsValuation = &nv
		}
	}
	if sortBy := query.Get("sort_by"); sortBy != "" {
		req.SortBy = &sortBy
	}
	if sortOrder := query.Get("sort_order"); sortOrder != "" {
		req.SortOrder = &sortOrder
	}

	result, err := h.itemService.ListItems(req)
	if err != nil {
		h.logger.Error("list items failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "list items failed", reqID, "")
		return
	}

	resp.OK(w, result, reqID, "")
}

// ReconcileStock 对账单个条目的估值
// GET /api/v1/items/{id}/reconcile
func (h *ItemHandler) ReconcileStock(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	id, ok := itemIDFromPath(w, r, reqID)
	if !ok {
		return
	}

	report, err := h.mutationService.ReconcileStock(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, reqID, "reconcile stock", err)
		return
	}

	resp.OK(w, report, reqID, "")
}

// itemIDFromPath 从URL路径中提取条目ID：/api/v1/items/{id}[/...]
func itemIDFromPath(w http.ResponseWriter, r *http.Request, reqID string) (int64, bool) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid item ID", reqID, "")
		return 0, false
	}

	id, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || id <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid item ID", reqID, "")
		return 0, false
	}
	return id, true
}

// isValidationError 判断错误是否为请求内容非法（映射到 400）。
func isValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "required") ||
		strings.Contains(msg, "must") ||
		strings.Contains(msg, "no line items") ||
		strings.Contains(msg, "no required line items")
}

// writeServiceError 将服务层的领域错误映射为HTTP响应。
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, reqID, op string, err error) {
	var itemNotFound *domain.ItemNotFoundError
	var purchaseNotFound *domain.PurchaseNotFoundError
	var cancelled *domain.PurchaseCancelledError
	var insufficient *domain.InsufficientStockError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &itemNotFound), errors.As(err, &purchaseNotFound):
		resp.Error(w, http.StatusNotFound, resp.CodeNotFound, err.Error(), reqID, "")
	case errors.As(err, &cancelled):
		resp.Error(w, http.StatusConflict, resp.CodeConflict, err.Error(), reqID, "")
	case errors.As(err, &insufficient):
		resp.ErrorWithData(w, http.StatusConflict, resp.CodeInsufficientStock,
			"insufficient stock", insufficient.Shortages, reqID, "")
	case errors.As(err, &conflict):
		resp.Error(w, http.StatusConflict, resp.CodeConflict,
			"concurrent modification, please retry", reqID, "")
	default:
		logger.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, op+" failed", reqID, "")
	}
}
