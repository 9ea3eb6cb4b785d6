package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 存活检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterTrackingRoutes 跟踪会话、围栏、联系人
func (r *Router) RegisterTrackingRoutes(h *TrackingHandler) {
	r.HandleHandler("/api/v1/tracking/", h)
	r.HandleHandler("/api/v1/contacts", h)
}

// RegisterEmergencyRoutes 紧急报警
func (r *Router) RegisterEmergencyRoutes(h *EmergencyHandler) {
	r.HandleHandler("/api/v1/emergency/", h)
}

// RegisterStreamRoutes WebSocket 事件流
func (r *Router) RegisterStreamRoutes(hub *Hub) {
	r.Handle("/api/v1/stream", hub.ServeWS)
}
