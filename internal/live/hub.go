// Package live pushes snapshot updates to every open browser tab of an owner
// over WebSocket.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event types.
const (
	EventReady               = "ready"
	EventExplorationUpdated  = "exploration.updated"
	EventExplorationDeleted  = "exploration.deleted"
	EventConversationUpdated = "conversation.updated"
	EventConversationDeleted = "conversation.deleted"
)

// Event is one message sent to the browser.
type Event struct {
	Type         string                       `json:"type"`
	ID           string                       `json:"id,omitempty"`
	Exploration  *domain.ExplorationSnapshot  `json:"exploration,omitempty"`
	Conversation *domain.ConversationSnapshot `json:"conversation,omitempty"`
}

const defaultWriteTimeout = 5 * time.Second

// Hub manages active WebSocket connections per owner and tab.
type Hub struct {
	mu           sync.RWMutex
	active       map[string]map[string]*websocket.Conn
	writeTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active:       make(map[string]map[string]*websocket.Conn),
		writeTimeout: defaultWriteTimeout,
	}
}

// Register adds a connection for an owner's tab, closing any connection the
// tab had before.
func (h *Hub) Register(ownerID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[ownerID]; !exists {
		h.active[ownerID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[ownerID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "tab replaced")
	}

	h.active[ownerID][tabID] = conn
	slog.Debug("live connection registered", "owner_id", ownerID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the tab's current one.
func (h *Hub) Unregister(ownerID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[ownerID]; ok {
		if current, exists := tabs[tabID]; exists && current == conn {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(h.active, ownerID)
			}
			slog.Debug("live connection unregistered", "owner_id", ownerID, "tab_id", tabID)
		}
	}
}

// Count returns the number of open tabs for an owner.
func (h *Hub) Count(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[ownerID])
}

// Publish sends ev to every open tab of ownerID and returns how many tabs
// received it. Tabs that fail to receive are dropped.
func (h *Hub) Publish(ctx context.Context, ownerID string, ev Event) int {
	h.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(h.active[ownerID]))
	for tab, conn := range h.active[ownerID] {
		targets[tab] = conn
	}
	h.mu.RUnlock()

	sent := 0
	for tab, conn := range targets {
		wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := wsjson.Write(wctx, conn, ev)
		cancel()
		if err != nil {
			slog.Debug("live write failed, dropping tab", "error", err, "owner_id", ownerID, "tab_id", tab)
			h.Unregister(ownerID, tab, conn)
			_ = conn.Close(websocket.StatusGoingAway, "write failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for owner, tabs := range h.active {
		for _, conn := range tabs {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, owner)
	}
}
