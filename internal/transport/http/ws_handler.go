package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"

	"insightpulse/internal/config"
	"insightpulse/internal/infrastructure"
	"insightpulse/internal/middleware"
	"insightpulse/internal/websocket"
)

// WebSocketHandler upgrades HTTP connections and hands them to the hub
type WebSocketHandler struct {
	hub      *websocket.Hub
	service  websocket.JobService
	cfg      config.WebSocketConfig
	logger   *slog.Logger
	upgrader gorilla.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *websocket.Hub, service websocket.JobService, cfg config.WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		service: service,
		cfg:     cfg,
		logger:  logger.With(slog.String("handler", "websocket")),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Browser clients connect from arbitrary origins; the
			// API carries no cookie-based auth to protect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeGeneral handles GET /ws. Clients subscribe explicitly after
// connecting.
func (h *WebSocketHandler) ServeGeneral(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err.Error())
		return
	}

	websocket.ServeWS(h.hub, websocket.NewConnectionWrapper(conn), h.service, h.logger, h.clientOptions(r))
}

// ServeJob handles GET /ws/jobs/{jobID}. The client is subscribed to
// the job on connect and the analysis run starts if needed.
func (h *WebSocketHandler) ServeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if strings.TrimSpace(jobID) == "" {
		http.Error(w, "job id is required", http.StatusBadRequest)
		return
	}
	domain := r.URL.Query().Get("domain")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"job_id", jobID,
			"remote_addr", r.RemoteAddr,
			"error", err.Error())
		return
	}

	websocket.ServeJobWS(h.hub, websocket.NewConnectionWrapper(conn), h.service, h.logger, jobID, domain, h.clientOptions(r))
}

func (h *WebSocketHandler) clientOptions(r *http.Request) websocket.ClientOptions {
	traceID := infrastructure.GetTraceID(r.Context())
	if traceID == "" {
		traceID = middleware.GetReqID(r.Context())
	}
	if traceID == "" {
		traceID = infrastructure.GenerateTraceID()
	}
	return websocket.ClientOptions{
		TraceID:        traceID,
		ReceiveTimeout: h.cfg.ReceiveTimeout,
		WriteWait:      h.cfg.WriteWait,
		SendBufferSize: h.cfg.SendBufferSize,
	}
}
