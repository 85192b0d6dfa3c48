package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltgrid/internal/http/middleware"
	"voltgrid/internal/notify"
	"voltgrid/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HostEventsHandler upgrades host connections onto the event feed.
type HostEventsHandler struct {
	hub    *notify.Hub
	hosts  service.HostStore
	logger *zap.Logger
}

// NewHostEventsHandler builds handler.
func NewHostEventsHandler(hub *notify.Hub, hosts service.HostStore, logger *zap.Logger) *HostEventsHandler {
	return &HostEventsHandler{hub: hub, hosts: hosts, logger: logger}
}

// Serve handles GET /ws/hosts?host_id=N. Only the listing owner may
// subscribe.
func (h *HostEventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing caller identity")
		return
	}

	hostID, err := strconv.ParseInt(r.URL.Query().Get("host_id"), 10, 64)
	if err != nil || hostID <= 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid host_id")
		return
	}

	host, err := h.hosts.GetByID(r.Context(), hostID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if host.OwnerUserID != callerID {
		writeError(w, http.StatusForbidden, codeForbidden, "not the listing owner")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := h.hub.Attach(hostID, ws)
	defer h.hub.Detach(hostID, conn)

	// The feed is one-way; reads only notice the peer going away.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
