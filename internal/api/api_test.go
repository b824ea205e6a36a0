package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/generate"
	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/ashureev/digdeeper/internal/live"
	"github.com/ashureev/digdeeper/internal/ratelimit"
	"github.com/ashureev/digdeeper/internal/store"
	"github.com/ashureev/digdeeper/internal/workspace"
	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwner = "anon_0123456789abcdef0123456789abcdef"

type fakeGen struct {
	mu     sync.Mutex
	drafts []domain.SegmentDraft
	reply  string
	title  string
	err    error
}

func (g *fakeGen) Decompose(context.Context, generate.DecomposeRequest) ([]domain.SegmentDraft, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drafts, g.err
}

func (g *fakeGen) Reply(context.Context, []domain.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reply, g.err
}

func (g *fakeGen) Summarize(context.Context, []domain.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.title, g.err
}

func (g *fakeGen) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type recordingHub struct {
	mu     sync.Mutex
	events []live.Event
}

func (h *recordingHub) Publish(_ context.Context, _ string, ev live.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return 1
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

type testServer struct {
	router http.Handler
	gen    *fakeGen
	hub    *recordingHub
}

func newTestServer(t *testing.T, gen generate.Generator, scopes ratelimit.Scopes) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	fg, _ := gen.(*fakeGen)
	registry := workspace.NewRegistry(repo, gen, workspace.Config{DepthLimit: 2}, nil)
	t.Cleanup(func() { registry.Close(context.Background()) })

	var limiter *ratelimit.Limiter
	if scopes != nil {
		limiter = ratelimit.New(scopes)
		t.Cleanup(limiter.Close)
	}
	hub := &recordingHub{}
	h := NewHandler(registry, hub, limiter, nil)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return &testServer{router: r, gen: fg, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testOwner})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func (s *testServer) createExploration(t *testing.T) domain.ExplorationSnapshot {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/explorations", map[string]string{
		"rootTopic":   "Photosynthesis",
		"fullContent": "Light reactions. Calvin cycle.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[domain.ExplorationSnapshot](t, w)
}

type digResponse struct {
	Segments    []domain.Segment           `json:"segments"`
	Exploration domain.ExplorationSnapshot `json:"exploration"`
}

func TestCreateAndGetExploration(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	snap := s.createExploration(t)
	assert.Equal(t, "Photosynthesis", snap.RootTopic)
	assert.Empty(t, snap.Segments)

	w := s.do(t, http.MethodGet, "/api/explorations/"+snap.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[domain.ExplorationSnapshot](t, w)
	assert.Equal(t, snap.ID, got.ID)

	w = s.do(t, http.MethodGet, "/api/explorations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[struct {
		Explorations []domain.ExplorationSummary `json:"explorations"`
	}](t, w)
	require.Len(t, list.Explorations, 1)
	assert.Equal(t, snap.ID, list.Explorations[0].ID)
}

func TestCreateExplorationValidation(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)

	w := s.do(t, http.MethodPost, "/api/explorations", map[string]string{"rootTopic": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "fullContent")

	w = s.do(t, http.MethodPost, "/api/explorations", map[string]string{"rootTopic": "x", "fullContent": "y", "extra": "z"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownExplorationIsNotFound(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	w := s.do(t, http.MethodGet, "/api/explorations/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody[errorBody](t, w)
	assert.False(t, body.Retryable)
}

func TestDigInsertsChildren(t *testing.T) {
	gen := &fakeGen{drafts: []domain.SegmentDraft{
		{Title: "Light", Content: "Light reactions."},
		{Title: "Calvin", Content: "Calvin cycle."},
	}}
	s := newTestServer(t, gen, nil)
	snap := s.createExploration(t)

	w := s.do(t, http.MethodPost, "/api/explorations/"+snap.ID+"/dig", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	roots := decodeBody[digResponse](t, w)
	require.Len(t, roots.Segments, 2)
	assert.Equal(t, 0, roots.Segments[0].Depth)

	parent := roots.Segments[0].ID
	w = s.do(t, http.MethodPost, "/api/explorations/"+snap.ID+"/dig", map[string]string{"parentId": parent})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	children := decodeBody[digResponse](t, w)
	require.Len(t, children.Segments, 2)
	assert.Equal(t, 1, children.Segments[0].Depth)

	ids := make([]string, 0, len(children.Exploration.Segments))
	for _, seg := range children.Exploration.Segments {
		ids = append(ids, seg.ID)
	}
	assert.Equal(t, []string{parent, children.Segments[0].ID, children.Segments[1].ID, roots.Segments[1].ID}, ids)
	assert.True(t, children.Exploration.Segments[0].IsExpanded)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/explorations/%s/segments/%s/children", snap.ID, parent), nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeBody[struct {
		Children []domain.Segment `json:"children"`
	}](t, w)
	assert.Len(t, listed.Children, 2)

	assert.Contains(t, s.hub.types(), live.EventExplorationUpdated)
}

func TestDigPastDepthLimitIsRejected(t *testing.T) {
	gen := &fakeGen{drafts: []domain.SegmentDraft{{Title: "a", Content: "a"}}}
	s := newTestServer(t, gen, nil)
	snap := s.createExploration(t)

	parent := ""
	for range 3 {
		w := s.do(t, http.MethodPost, "/api/explorations/"+snap.ID+"/dig", map[string]string{"parentId": parent})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		parent = decodeBody[digResponse](t, w).Segments[0].ID
	}
	w := s.do(t, http.MethodPost, "/api/explorations/"+snap.ID+"/dig", map[string]string{"parentId": parent})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestDigErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"collaborator failure", errors.New("model overloaded"), http.StatusBadGateway, true},
		{"not configured", generate.ErrNotConfigured, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGen{err: tt.err}
			s := newTestServer(t, gen, nil)
			snap := s.createExploration(t)

			w := s.do(t, http.MethodPost, "/api/explorations/"+snap.ID+"/dig", nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody[errorBody](t, w)
			assert.Equal(t, tt.retryable, body.Retryable)

			w = s.do(t, http.MethodGet, "/api/explorations/"+snap.ID, nil)
			assert.Empty(t, decodeBody[domain.ExplorationSnapshot](t, w).Segments)
		})
	}
}

func TestDigIntoMissingSegment(t *testing.T) {
	s := newTestServer(t, &fakeGen{drafts: []domain.SegmentDraft{{Title: "a", Content: "a"}}}, nil)
	snap := s.createExploration(t)
	w := s.do(t, http.MethodPost, "/api/explorations/"+snap.ID+"/dig", map[string]string{"parentId": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSegmentEditing(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	snap := s.createExploration(t)
	base := "/api/explorations/" + snap.ID

	w := s.do(t, http.MethodPost, base+"/segments", map[string]string{"title": "Root", "content": "root text"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	root := decodeBody[struct {
		Segment domain.Segment `json:"segment"`
	}](t, w).Segment

	w = s.do(t, http.MethodPost, base+"/segments", map[string]string{"parentId": root.ID, "title": "Child"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPatch, base+"/segments/"+root.ID, map[string]string{"title": "Renamed", "content": "new text"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edited := decodeBody[domain.ExplorationSnapshot](t, w)
	assert.Equal(t, "Renamed", edited.Segments[0].Title)
	assert.Equal(t, "new text", edited.Segments[0].Content)

	w = s.do(t, http.MethodPatch, base+"/segments/"+root.ID, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, base+"/segments/"+root.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	toggled := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, toggled["isExpanded"])

	w = s.do(t, http.MethodDelete, base+"/segments/"+root.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	removed := decodeBody[struct {
		Removed     int                        `json:"removed"`
		Exploration domain.ExplorationSnapshot `json:"exploration"`
	}](t, w)
	assert.Equal(t, 2, removed.Removed)
	assert.Empty(t, removed.Exploration.Segments)

	w = s.do(t, http.MethodDelete, base+"/segments/"+root.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRenameAndDeleteExploration(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	snap := s.createExploration(t)
	base := "/api/explorations/" + snap.ID

	w := s.do(t, http.MethodPatch, base, map[string]string{"title": "Plants"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Plants", decodeBody[domain.ExplorationSnapshot](t, w).Title)

	w = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, s.hub.types(), live.EventExplorationDeleted)

	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelDigWithNothingPending(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	snap := s.createExploration(t)
	w := s.do(t, http.MethodDelete, "/api/explorations/"+snap.ID+"/dig", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"cancelled": false}, decodeBody[map[string]any](t, w))
}

func TestDemoExploration(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	w := s.do(t, http.MethodPost, "/api/explorations/demo", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decodeBody[domain.ExplorationSnapshot](t, w).Segments)
}

type turnResponse struct {
	Reply        *domain.Message             `json:"reply"`
	Title        string                      `json:"title"`
	Conversation domain.ConversationSnapshot `json:"conversation"`
}

func (s *testServer) createConversation(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/conversations", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[domain.ConversationSnapshot](t, w).ID
}

func TestConversationTurns(t *testing.T) {
	gen := &fakeGen{reply: "Chlorophyll absorbs light.", title: "Chlorophyll"}
	s := newTestServer(t, gen, nil)
	id := s.createConversation(t)
	base := "/api/conversations/" + id

	w := s.do(t, http.MethodPost, base+"/messages", map[string]string{"content": "What absorbs light?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	turn := decodeBody[turnResponse](t, w)
	require.NotNil(t, turn.Reply)
	assert.Equal(t, domain.RoleAssistant, turn.Reply.Role)
	require.Len(t, turn.Conversation.Messages, 2)
	userMsg := turn.Conversation.Messages[0]

	gen.reply = "Carotenoids too."
	w = s.do(t, http.MethodPatch, base+"/messages/"+userMsg.ID, map[string]string{"content": "What else absorbs light?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	turn = decodeBody[turnResponse](t, w)
	require.Len(t, turn.Conversation.Messages, 2)
	assert.Equal(t, "What else absorbs light?", turn.Conversation.Messages[0].Content)
	assert.Equal(t, "Carotenoids too.", turn.Conversation.Messages[1].Content)

	w = s.do(t, http.MethodPost, base+"/regenerate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, base+"/title", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	turn = decodeBody[turnResponse](t, w)
	assert.Equal(t, "Chlorophyll", turn.Title)
	assert.Equal(t, "Chlorophyll", turn.Conversation.Title)

	w = s.do(t, http.MethodGet, base+"?from=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[domain.ConversationSnapshot](t, w)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, domain.RoleAssistant, page.Messages[0].Role)

	w = s.do(t, http.MethodGet, base+"?from=x", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestFailedReplyKeepsUserTurn(t *testing.T) {
	gen := &fakeGen{}
	gen.fail(errors.New("upstream timeout"))
	s := newTestServer(t, gen, nil)
	id := s.createConversation(t)

	w := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	assert.True(t, decodeBody[errorBody](t, w).Retryable)

	w = s.do(t, http.MethodGet, "/api/conversations/"+id, nil)
	snap := decodeBody[domain.ConversationSnapshot](t, w)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, domain.RoleUser, snap.Messages[0].Role)
}

func TestConversationPreconditions(t *testing.T) {
	s := newTestServer(t, &fakeGen{reply: "r", title: "t"}, nil)
	id := s.createConversation(t)
	base := "/api/conversations/" + id

	w := s.do(t, http.MethodPost, base+"/regenerate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/title", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPatch, base+"/messages/missing", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, base+"/messages", map[string]string{"content": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteConversation(t *testing.T) {
	s := newTestServer(t, &fakeGen{}, nil)
	id := s.createConversation(t)

	w := s.do(t, http.MethodDelete, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, s.hub.types(), live.EventConversationDeleted)

	w = s.do(t, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/conversations", nil)
	list := decodeBody[struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}](t, w)
	assert.Empty(t, list.Conversations)
}

func TestChatRateLimit(t *testing.T) {
	scopes := ratelimit.DefaultScopes()
	scopes[ratelimit.ScopeChat] = ratelimit.Scope{MaxRequests: 1, WindowMs: 60_000}
	s := newTestServer(t, &fakeGen{reply: "r"}, scopes)
	id := s.createConversation(t)

	w := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"content": "one"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"content": "two"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = s.do(t, http.MethodGet, "/api/conversations/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"not found", &domain.NotFoundError{Kind: "segment", ID: "x"}, http.StatusNotFound, false},
		{"superseded", domain.ErrSuperseded, http.StatusConflict, false},
		{"duplicate", &domain.DuplicateIDError{Kind: "segment", ID: "x"}, http.StatusConflict, false},
		{"precondition", fmt.Errorf("nothing to summarise: %w", errdefs.ErrFailedPrecondition), http.StatusConflict, false},
		{"invalid depth", &domain.InvalidDepthError{ID: "x", Depth: 5, Max: 4}, http.StatusUnprocessableEntity, false},
		{"external", &domain.ExternalCollaboratorError{Op: "reply", Cause: errors.New("boom")}, http.StatusBadGateway, true},
		{"unavailable", &domain.ExternalCollaboratorError{Op: "reply", Cause: generate.ErrNotConfigured}, http.StatusServiceUnavailable, false},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, true},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, retryable := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestRequestsWithoutOwnerAreRejected(t *testing.T) {
	h := NewHandler(nil, &recordingHub{}, nil, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/explorations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
