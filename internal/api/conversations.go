package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/editing"
	"github.com/ashureev/digdeeper/internal/live"
	"github.com/go-chi/chi/v5"
)

const defaultTitleWindow = 4

type messageRequest struct {
	Content string `json:"content" validate:"required,max=20000"`
}

type titleRequest struct {
	Window int `json:"window" validate:"omitempty,min=1,max=50"`
}

// CreateConversation starts an empty conversation.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	c, err := h.registry.CreateConversation(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap := c.Snapshot()
	h.publishConversation(r, snap)
	JSON(w, http.StatusCreated, snap)
}

// ListConversations lists the caller's conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListConversations(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": list})
}

// GetConversation returns a conversation; ?from=N limits messages to those at
// position N and later.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			Error(w, http.StatusUnprocessableEntity, "from must be an integer")
			return
		}
		from = n
	}
	c, ok := h.conversation(w, r)
	if !ok {
		return
	}
	snap := c.Snapshot()
	snap.Messages = c.Messages(from)
	if snap.Messages == nil {
		snap.Messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, snap)
}

// DeleteConversation closes and deletes a conversation.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.DeleteConversation(r.Context(), owner(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.hub.Publish(r.Context(), owner(r), live.Event{Type: live.EventConversationDeleted, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// CancelReply discards any reply or title request in flight.
func (h *Handler) CancelReply(w http.ResponseWriter, r *http.Request) {
	c, ok := h.conversation(w, r)
	if !ok {
		return
	}
	c.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage appends the user's message and responds with the reply.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, ok := h.conversation(w, r)
	if !ok {
		return
	}
	reply, err := c.Send(r.Context(), req.Content)
	h.finishTurn(w, r, c, err, http.StatusCreated, map[string]any{"reply": reply})
}

// EditMessage edits a message, truncates everything after it, and, when the
// message is the user's, responds with a fresh reply.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, ok := h.conversation(w, r)
	if !ok {
		return
	}
	reply, err := c.Edit(r.Context(), chi.URLParam(r, "msgID"), req.Content)
	h.finishTurn(w, r, c, err, http.StatusOK, map[string]any{"reply": reply})
}

// Regenerate replaces the trailing assistant reply.
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.conversation(w, r)
	if !ok {
		return
	}
	reply, err := c.Regenerate(r.Context())
	h.finishTurn(w, r, c, err, http.StatusOK, map[string]any{"reply": reply})
}

// Summarize generates and stores a title from the latest messages.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Window == 0 {
		req.Window = defaultTitleWindow
	}
	c, ok := h.conversation(w, r)
	if !ok {
		return
	}
	title, err := c.Summarize(r.Context(), req.Window)
	h.finishTurn(w, r, c, err, http.StatusOK, map[string]any{"title": title})
}

// finishTurn persists and publishes the conversation whether or not the
// generation succeeded: the user's turn is kept on failure so it can be
// retried. The error, if any, decides the response.
func (h *Handler) finishTurn(w http.ResponseWriter, r *http.Request, c *editing.Conversation, opErr error, status int, body map[string]any) {
	snap, err := h.registry.SaveConversation(r.Context(), owner(r), c)
	if err != nil && opErr == nil {
		writeError(w, r, err)
		return
	}
	if err == nil {
		h.publishConversation(r, snap)
	}
	if opErr != nil {
		writeError(w, r, opErr)
		return
	}
	body["conversation"] = snap
	JSON(w, status, body)
}

func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (*editing.Conversation, bool) {
	c, err := h.registry.Conversation(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return c, true
}

func (h *Handler) publishConversation(r *http.Request, snap domain.ConversationSnapshot) {
	h.hub.Publish(r.Context(), owner(r), live.Event{Type: live.EventConversationUpdated, ID: snap.ID, Conversation: &snap})
}
