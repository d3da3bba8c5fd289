package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/middleware"
	"github.com/rotihouse/inventory-core/internal/resp"
	"github.com/rotihouse/inventory-core/internal/service"
)

// PurchaseHandler 采购相关的HTTP处理器
type PurchaseHandler struct {
	purchaseService service.PurchaseService
	mutationService *service.StockMutationService
	logger          *zap.Logger
}

// NewPurchaseHandler 创建采购处理器实例
func NewPurchaseHandler(purchaseService service.PurchaseService, mutationService *service.StockMutationService, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseService: purchaseService,
		mutationService: mutationService,
		logger:          logger,
	}
}

// CreatePurchase 创建采购单
// POST /api/v1/purchases
func (h *PurchaseHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}

	purchase, warnings, err := h.purchaseService.CreatePurchase(&req)
	if err != nil {
		var itemNotFound *domain.ItemNotFoundError
		if errors.As(err, &itemNotFound) {
			resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
			return
		}
		if isValidationError(err) {
			resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
			return
		}
		h.logger.Error("create purchase failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "create purchase failed", reqID, "")
		return
	}

	result := map[string]any{"purchase": purchase}
	if len(warnings) > 0 {
		result["warnings"] = warnings
	}
	resp.OK(w, result, reqID, "")
}

// GetPurchase 获取采购单详情
// GET /api/v1/purchases/{id}
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	id, ok := purchaseIDFromPath(w, r, reqID)
	if !ok {
		return
	}

	purchase, err := h.purchaseService.GetPurchase(id)
	if err != nil {
		writeServiceError(w, h.logger, reqID, "get purchase", err)
		return
	}

	resp.OK(w, purchase, reqID, "")
}

// CompletePurchase 完成采购单并入库
// POST /api/v1/purchases/{id}/complete
func (h *PurchaseHandler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	id, ok := purchaseIDFromPath(w, r, reqID)
	if !ok {
		return
	}

	result, err := h.mutationService.ApplyPurchaseCompletion(r.Context(), id)
	if err != nil {
		if isValidationError(err) {
			resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
			return
		}
		writeServiceError(w, h.logger, reqID, "complete purchase", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

// purchaseIDFromPath 从URL路径中提取采购单ID：/api/v1/purchases/{id}[/...]
func purchaseIDFromPath(w http.ResponseWriter, r *http.Request, reqID string) (string, bool) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 || parts[4] == "" {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid purchase ID", reqID, "")
		return "", false
	}
	return parts[4], true
}
