package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

// TrackingService 跟踪会话操作（*tracking.Manager 实现）
type TrackingService interface {
	Start(ctx context.Context, session *models.TrackingSession) error
	Stop(ctx context.Context)
	AddZone(zone models.GeofenceZone) error
	RemoveZone(zoneID string)
	CurrentSession() *models.TrackingSession
	CurrentLocation(ctx context.Context) *models.GPSLocation
}

// ContactService 紧急联系人维护（*store.ContactBook 实现）
type ContactService interface {
	SaveContact(ctx context.Context, c models.EmergencyContact) error
}

// TrackingHandler 跟踪会话 Handler
type TrackingHandler struct {
	tracking TrackingService
	contacts ContactService
	logger   *zap.Logger
}

func NewTrackingHandler(tracking TrackingService, contacts ContactService, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{tracking: tracking, contacts: contacts, logger: logger}
}

// startSessionRequest 开始会话请求体
type startSessionRequest struct {
	SessionID         string                `json:"session_id"`
	SitterID          string                `json:"sitter_id"`
	ParentID          string                `json:"parent_id"`
	BookingID         string                `json:"booking_id"`
	Zones             []models.GeofenceZone `json:"zones"`
	EmergencyContacts []string              `json:"emergency_contacts"`
}

// ServeHTTP 路由分发
func (h *TrackingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/tracking/sessions" && r.Method == http.MethodPost:
		h.StartSession(w, r)
	case path == "/api/v1/tracking/sessions/stop" && r.Method == http.MethodPost:
		h.StopSession(w, r)
	case path == "/api/v1/tracking/sessions/current" && r.Method == http.MethodGet:
		h.GetCurrentSession(w, r)
	case path == "/api/v1/tracking/location" && r.Method == http.MethodGet:
		h.GetCurrentLocation(w, r)
	case path == "/api/v1/tracking/zones" && r.Method == http.MethodPost:
		h.AddZone(w, r)
	case strings.HasPrefix(path, "/api/v1/tracking/zones/") && r.Method == http.MethodDelete:
		id := strings.TrimPrefix(path, "/api/v1/tracking/zones/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.RemoveZone(w, r, id)
	case path == "/api/v1/contacts" && r.Method == http.MethodPost:
		h.SaveContact(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// StartSession 开始跟踪会话
func (h *TrackingHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.SitterID == "" || req.ParentID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("sitter_id and parent_id are required"))
		return
	}

	session := &models.TrackingSession{
		ID:                req.SessionID,
		SitterID:          req.SitterID,
		ParentID:          req.ParentID,
		BookingID:         req.BookingID,
		Zones:             req.Zones,
		EmergencyContacts: req.EmergencyContacts,
	}
	if err := h.tracking.Start(r.Context(), session); err != nil {
		h.logger.Warn("Start tracking session failed", zap.String("sitter_id", req.SitterID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.tracking.CurrentSession()))
}

// StopSession 结束跟踪会话（幂等）
func (h *TrackingHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.tracking.Stop(r.Context())
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// GetCurrentSession 当前会话，无会话时 result 为 null
func (h *TrackingHandler) GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.tracking.CurrentSession()))
}

func (h *TrackingHandler) GetCurrentLocation(w http.ResponseWriter, r *http.Request) {
	loc := h.tracking.CurrentLocation(r.Context())
	if loc == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("location unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(loc))
}

// AddZone 添加或替换地理围栏
func (h *TrackingHandler) AddZone(w http.ResponseWriter, r *http.Request) {
	var zone models.GeofenceZone
	if err := readBodyJSON(r, maxBodyBytes, &zone); err != nil || zone.ID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("invalid zone"))
		return
	}
	if err := h.tracking.AddZone(zone); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(zone))
}

func (h *TrackingHandler) RemoveZone(w http.ResponseWriter, r *http.Request, zoneID string) {
	h.tracking.RemoveZone(zoneID)
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// SaveContact 保存紧急联系人
func (h *TrackingHandler) SaveContact(w http.ResponseWriter, r *http.Request) {
	if h.contacts == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var c models.EmergencyContact
	if err := readBodyJSON(r, maxBodyBytes, &c); err != nil || c.ID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("invalid contact"))
		return
	}
	if err := h.contacts.SaveContact(r.Context(), c); err != nil {
		h.logger.Error("Save contact failed", zap.String("contact_id", c.ID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(c))
}
