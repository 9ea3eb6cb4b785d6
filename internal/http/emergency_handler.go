package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

// EmergencyService 紧急报警操作（*emergency.Coordinator 实现）
type EmergencyService interface {
	TriggerSOS(ctx context.Context, reason string) (*models.EmergencyAlert, error)
	ResolveEmergency(ctx context.Context, alertID, resolvedBy, notes string) error
	MarkFalseAlarm(ctx context.Context, alertID string) error
	EscalateEmergency(ctx context.Context, alert *models.EmergencyAlert) error
	TestEmergencySystem(ctx context.Context) bool
	IsEmergencyActive() bool
	ActiveAlert() *models.EmergencyAlert
	Alerts(ctx context.Context, filter models.AlertFilter) ([]*models.EmergencyAlert, error)
}

// EmergencyHandler 紧急报警 Handler
type EmergencyHandler struct {
	emergency EmergencyService
	logger    *zap.Logger
}

func NewEmergencyHandler(emergency EmergencyService, logger *zap.Logger) *EmergencyHandler {
	return &EmergencyHandler{emergency: emergency, logger: logger}
}

const alertsPrefix = "/api/v1/emergency/alerts/"

// ServeHTTP 路由分发
func (h *EmergencyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/emergency/sos" && r.Method == http.MethodPost:
		h.TriggerSOS(w, r)
	case path == "/api/v1/emergency/active" && r.Method == http.MethodGet:
		h.GetActive(w, r)
	case path == "/api/v1/emergency/test" && r.Method == http.MethodPost:
		h.TestSystem(w, r)
	case path == "/api/v1/emergency/alerts" && r.Method == http.MethodGet:
		h.ListAlerts(w, r)
	case path == "/api/v1/emergency/alerts/export" && r.Method == http.MethodGet:
		h.ExportAlerts(w, r)
	case strings.HasPrefix(path, alertsPrefix) && r.Method == http.MethodPost:
		rest := strings.TrimPrefix(path, alertsPrefix)
		alertID, action, ok := strings.Cut(rest, "/")
		if !ok || alertID == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch action {
		case "resolve":
			h.Resolve(w, r, alertID)
		case "false-alarm":
			h.MarkFalseAlarm(w, r, alertID)
		case "escalate":
			h.Escalate(w, r, alertID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// TriggerSOS 触发紧急报警
func (h *EmergencyHandler) TriggerSOS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	alert, err := h.emergency.TriggerSOS(r.Context(), req.Reason)
	if err != nil {
		h.logger.Warn("Trigger SOS failed", zap.String("reason", req.Reason), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Resolve 解除报警
func (h *EmergencyHandler) Resolve(w http.ResponseWriter, r *http.Request, alertID string) {
	var req struct {
		ResolvedBy string `json:"resolved_by"`
		Notes      string `json:"notes"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil || req.ResolvedBy == "" {
		writeJSON(w, http.StatusBadRequest, Fail("resolved_by is required"))
		return
	}
	if err := h.emergency.ResolveEmergency(r.Context(), alertID, req.ResolvedBy, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// MarkFalseAlarm 标记误报
func (h *EmergencyHandler) MarkFalseAlarm(w http.ResponseWriter, r *http.Request, alertID string) {
	if err := h.emergency.MarkFalseAlarm(r.Context(), alertID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Escalate 手动升级
func (h *EmergencyHandler) Escalate(w http.ResponseWriter, r *http.Request, alertID string) {
	if err := h.emergency.EscalateEmergency(r.Context(), &models.EmergencyAlert{ID: alertID}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.emergency.ActiveAlert()))
}

type activeResponse struct {
	Active bool                   `json:"active"`
	Alert  *models.EmergencyAlert `json:"alert"`
}

func (h *EmergencyHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	alert := h.emergency.ActiveAlert()
	writeJSON(w, http.StatusOK, Ok(activeResponse{Active: alert != nil, Alert: alert}))
}

// TestSystem 测试报警链路
func (h *EmergencyHandler) TestSystem(w http.ResponseWriter, r *http.Request) {
	ok := h.emergency.TestEmergencySystem(r.Context())
	writeJSON(w, http.StatusOK, Ok(map[string]bool{"success": ok}))
}

func alertFilterFromQuery(r *http.Request) models.AlertFilter {
	q := r.URL.Query()
	return models.AlertFilter{
		Status:    models.AlertStatus(q.Get("status")),
		SessionID: q.Get("session_id"),
		Limit:     parseInt(q.Get("limit"), 100),
	}
}

// ListAlerts 报警审计列表
func (h *EmergencyHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.emergency.Alerts(r.Context(), alertFilterFromQuery(r))
	if err != nil {
		h.logger.Error("List alerts failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

// ExportAlerts 导出报警审计记录（xlsx）
func (h *EmergencyHandler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	filter := alertFilterFromQuery(r)
	filter.Limit = parseInt(r.URL.Query().Get("limit"), 0)
	alerts, err := h.emergency.Alerts(r.Context(), filter)
	if err != nil {
		h.logger.Error("Export alerts failed", zap.Error(err))
		writeError(w, err)
		return
	}
	data, err := GenerateAlertExport(alerts)
	if err != nil {
		h.logger.Error("Generate alert export failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("emergency_alerts_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
