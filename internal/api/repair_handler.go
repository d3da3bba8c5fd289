package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/middleware"
	"github.com/rotihouse/inventory-core/internal/resp"
	"github.com/rotihouse/inventory-core/internal/service"
)

// RepairHandler 估值诊断与修复的HTTP处理器
type RepairHandler struct {
	repairService *service.ValuationRepairService
	logger        *zap.Logger
}

// NewRepairHandler 创建修复处理器实例
func NewRepairHandler(repairService *service.ValuationRepairService, logger *zap.Logger) *RepairHandler {
	return &RepairHandler{
		repairService: repairService,
		logger:        logger,
	}
}

// Diagnose 生成估值诊断报告（只读）
// GET /api/v1/repair/diagnose
func (h *RepairHandler) Diagnose(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	report, err := h.repairService.Diagnose(r.Context())
	if err != nil {
		h.logger.Error("diagnose failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "diagnose failed", reqID, "")
		return
	}

	resp.OK(w, report, reqID, "")
}

// Fix 修复全部估值缺失的条目（台账重算优先，分类默认价兜底）
// POST /api/v1/repair/fix
func (h *RepairHandler) Fix(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	report, err := h.repairService.Fix(r.Context())
	if err != nil {
		h.logger.Error("repair fix failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "repair fix failed", reqID, "")
		return
	}

	resp.OK(w, report, reqID, "")
}

// QuickFix 以分类默认价格快速填补全部估值空缺
// POST /api/v1/repair/quick
func (h *RepairHandler) QuickFix(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	report, err := h.repairService.QuickFix(r.Context())
	if err != nil {
		h.logger.Error("repair quick fix failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "repair quick fix failed", reqID, "")
		return
	}

	resp.OK(w, report, reqID, "")
}
