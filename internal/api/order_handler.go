package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/domain"
	"github.com/rotihouse/inventory-core/internal/middleware"
	"github.com/rotihouse/inventory-core/internal/resp"
	"github.com/rotihouse/inventory-core/internal/service"
)

// OrderHandler 订单库存扣减相关的HTTP处理器。
// 订单工作流本身在上游系统；本服务只承接完成时的原子扣减。
type OrderHandler struct {
	mutationService *service.StockMutationService
	logger          *zap.Logger
}

// NewOrderHandler 创建订单处理器实例
func NewOrderHandler(mutationService *service.StockMutationService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		mutationService: mutationService,
		logger:          logger,
	}
}

// CompleteOrder 完成订单并原子扣减库存
// POST /api/v1/orders/complete
func (h *OrderHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	req, ok := h.decodeOrderRequest(w, r, reqID)
	if !ok {
		return
	}

	result, err := h.mutationService.ApplyOrderCompletion(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
			return
		}
		writeServiceError(w, h.logger, reqID, "complete order", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

// CheckOrder 订单完成前置检查（干跑），不加锁不写入
// POST /api/v1/orders/check
func (h *OrderHandler) CheckOrder(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	req, ok := h.decodeOrderRequest(w, r, reqID)
	if !ok {
		return
	}

	result, err := h.mutationService.CanCompleteOrder(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
			return
		}
		writeServiceError(w, h.logger, reqID, "check order", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

func (h *OrderHandler) decodeOrderRequest(w http.ResponseWriter, r *http.Request, reqID string) (*domain.OrderCompletionRequest, bool) {
	var req domain.OrderCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return nil, false
	}
	if err := req.Validate(); err != nil {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
		return nil, false
	}
	return &req, true
}
