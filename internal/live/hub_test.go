package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const testOwner = "anon_0123456789abcdef0123456789abcdef"

func TestHub_Register(t *testing.T) {
	h := NewHub()
	conn := &websocket.Conn{}

	h.Register("owner", "tab-1", conn)

	if got := h.Count("owner"); got != 1 {
		t.Errorf("Expected 1 tab, got %d", got)
	}
}

func TestHub_UnregisterStale(t *testing.T) {
	h := NewHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	h.Register("owner", "tab-1", conn1)
	h.Register("owner", "tab-2", conn2)
	h.Unregister("owner", "tab-2", conn1)

	if got := h.Count("owner"); got != 2 {
		t.Errorf("Expected stale unregister to be ignored, got %d tabs", got)
	}

	h.Unregister("owner", "tab-1", conn1)
	h.Unregister("owner", "tab-2", conn2)
	if got := h.Count("owner"); got != 0 {
		t.Errorf("Expected no tabs, got %d", got)
	}
}

func TestHub_PublishWithoutTabs(t *testing.T) {
	h := NewHub()
	if sent := h.Publish(context.Background(), "nobody", Event{Type: EventExplorationDeleted, ID: "e1"}); sent != 0 {
		t.Errorf("Expected 0 deliveries, got %d", sent)
	}
}

func dial(t *testing.T, srv *httptest.Server, tab string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Cookie", identity.AnonCookieName+"="+testOwner)
	header.Set(identity.TabHeaderName, tab)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var ready Event
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		t.Fatalf("read ready: %v", err)
	}
	if ready.Type != EventReady {
		t.Fatalf("Expected ready event, got %q", ready.Type)
	}
	return conn
}

func TestHandler_PublishReachesEveryTab(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(identity.Middleware(true)(NewHandler(hub, "*", true)))
	defer srv.Close()

	tab1 := dial(t, srv, "tab-1")
	defer tab1.Close(websocket.StatusNormalClosure, "")
	tab2 := dial(t, srv, "tab-2")
	defer tab2.Close(websocket.StatusNormalClosure, "")

	snap := &domain.ExplorationSnapshot{ID: "e1", Title: "Go"}
	sent := hub.Publish(context.Background(), testOwner, Event{Type: EventExplorationUpdated, ID: "e1", Exploration: snap})
	if sent != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", sent)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, conn := range []*websocket.Conn{tab1, tab2} {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type != EventExplorationUpdated || ev.Exploration == nil || ev.Exploration.Title != "Go" {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewHandler(NewHub(), "https://digdeeper.example", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/live", nil)
	req.Header.Set("Origin", "https://evil.example")
	req = req.WithContext(identity.WithOwner(req.Context(), testOwner))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}
