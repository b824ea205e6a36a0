package live

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Handler upgrades /ws/live requests and keeps the connection registered
// until the client goes away. Clients only listen; anything they send is
// discarded.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a live-update WebSocket handler.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if ownerID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "owner_id", ownerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "owner_id", ownerID)
		}
	}()

	h.hub.Register(ownerID, tabID, ws)
	defer h.hub.Unregister(ownerID, tabID, ws)

	ctx := ws.CloseRead(r.Context())
	if err := wsjson.Write(ctx, ws, Event{Type: EventReady}); err != nil {
		slog.Debug("failed to send ready event", "error", err, "owner_id", ownerID)
		return
	}

	<-ctx.Done()
	slog.Debug("live connection ended", "owner_id", ownerID, "tab_id", tabID, "ip", identity.IPFromRequest(r))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
