package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/editing"
	"github.com/ashureev/digdeeper/internal/live"
	"github.com/go-chi/chi/v5"
)

type createExplorationRequest struct {
	RootTopic   string `json:"rootTopic" validate:"required,max=200"`
	FullContent string `json:"fullContent" validate:"required,max=200000"`
}

type renameExplorationRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

type insertSegmentRequest struct {
	ParentID    string `json:"parentId"`
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=500"`
	Content     string `json:"content" validate:"max=200000"`
}

type editSegmentRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Content     *string `json:"content" validate:"omitempty,max=200000"`
}

type digRequest struct {
	ParentID string `json:"parentId"`
}

// CreateExploration starts an exploration from a topic and its source text.
func (h *Handler) CreateExploration(w http.ResponseWriter, r *http.Request) {
	var req createExplorationRequest
	if !h.decode(w, r, &req) {
		return
	}
	x, err := h.registry.CreateExploration(r.Context(), owner(r), req.RootTopic, req.FullContent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap := x.Snapshot()
	slog.Info("exploration created", "owner_id", owner(r), "exploration_id", snap.ID)
	h.publishExploration(r, snap)
	JSON(w, http.StatusCreated, snap)
}

// CreateDemo seeds the demo exploration.
func (h *Handler) CreateDemo(w http.ResponseWriter, r *http.Request) {
	x, err := h.registry.CreateDemo(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap := x.Snapshot()
	h.publishExploration(r, snap)
	JSON(w, http.StatusCreated, snap)
}

// ListExplorations lists the caller's explorations.
func (h *Handler) ListExplorations(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListExplorations(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"explorations": list})
}

// GetExploration returns one exploration snapshot.
func (h *Handler) GetExploration(w http.ResponseWriter, r *http.Request) {
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, x.Snapshot())
}

// RenameExploration replaces the exploration title.
func (h *Handler) RenameExploration(w http.ResponseWriter, r *http.Request) {
	var req renameExplorationRequest
	if !h.decode(w, r, &req) {
		return
	}
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	if err := x.Retitle(req.Title); err != nil {
		writeError(w, r, err)
		return
	}
	h.saveExploration(w, r, x, http.StatusOK, nil)
}

// DeleteExploration abandons an exploration, cancelling pending digs.
func (h *Handler) DeleteExploration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.DeleteExploration(r.Context(), owner(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.hub.Publish(r.Context(), owner(r), live.Event{Type: live.EventExplorationDeleted, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// InsertSegment adds a segment by hand, as a root when parentId is empty.
func (h *Handler) InsertSegment(w http.ResponseWriter, r *http.Request) {
	var req insertSegmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	seg, err := x.Insert(req.ParentID, domain.SegmentDraft{Title: req.Title, Description: req.Description, Content: req.Content})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.saveExploration(w, r, x, http.StatusCreated, map[string]any{"segment": seg})
}

// ChildrenOf lists the direct children of a segment.
func (h *Handler) ChildrenOf(w http.ResponseWriter, r *http.Request) {
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	children, err := x.ChildrenOf(chi.URLParam(r, "segID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if children == nil {
		children = []domain.Segment{}
	}
	JSON(w, http.StatusOK, map[string]any{"children": children})
}

// EditSegment updates a segment's content and/or title and description.
func (h *Handler) EditSegment(w http.ResponseWriter, r *http.Request) {
	var req editSegmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Title == nil && req.Description == nil && req.Content == nil {
		Error(w, http.StatusUnprocessableEntity, "nothing to update")
		return
	}
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	segID := chi.URLParam(r, "segID")

	if req.Title != nil || req.Description != nil {
		seg, err := x.Segment(segID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		title, desc := seg.Title, seg.Description
		if req.Title != nil {
			title = *req.Title
		}
		if req.Description != nil {
			desc = *req.Description
		}
		if err := x.Rename(segID, title, desc); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Content != nil {
		if err := x.Edit(segID, *req.Content); err != nil {
			writeError(w, r, err)
			return
		}
	}
	h.saveExploration(w, r, x, http.StatusOK, nil)
}

// ToggleSegment flips a segment between expanded and collapsed.
func (h *Handler) ToggleSegment(w http.ResponseWriter, r *http.Request) {
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	expanded, err := x.Toggle(chi.URLParam(r, "segID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.saveExploration(w, r, x, http.StatusOK, map[string]any{"isExpanded": expanded})
}

// RemoveSegment deletes a segment and its subtree.
func (h *Handler) RemoveSegment(w http.ResponseWriter, r *http.Request) {
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	n, err := x.Remove(chi.URLParam(r, "segID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.saveExploration(w, r, x, http.StatusOK, map[string]any{"removed": n})
}

// Dig asks the generator to break a segment (or the whole text) into
// children and inserts them.
func (h *Handler) Dig(w http.ResponseWriter, r *http.Request) {
	var req digRequest
	if !h.decode(w, r, &req) {
		return
	}
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	segs, err := x.Dig(r.Context(), req.ParentID)
	if err != nil {
		if errors.Is(err, domain.ErrSuperseded) {
			slog.Debug("dig superseded", "owner_id", owner(r), "exploration_id", x.ID(), "parent_id", req.ParentID)
		}
		writeError(w, r, err)
		return
	}
	h.saveExploration(w, r, x, http.StatusCreated, map[string]any{"segments": segs})
}

// CancelDig discards a pending dig. Without a segment id it cancels a dig of
// the whole text.
func (h *Handler) CancelDig(w http.ResponseWriter, r *http.Request) {
	x, ok := h.explorer(w, r)
	if !ok {
		return
	}
	cancelled := x.CancelDig(chi.URLParam(r, "segID"))
	JSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

func (h *Handler) explorer(w http.ResponseWriter, r *http.Request) (*editing.Explorer, bool) {
	x, err := h.registry.Explorer(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return x, true
}

// saveExploration writes the snapshot through, publishes it and responds
// with extra merged with {"exploration": snapshot}.
func (h *Handler) saveExploration(w http.ResponseWriter, r *http.Request, x *editing.Explorer, status int, extra map[string]any) {
	snap, err := h.registry.SaveExploration(r.Context(), owner(r), x)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishExploration(r, snap)
	if extra == nil {
		JSON(w, status, snap)
		return
	}
	extra["exploration"] = snap
	JSON(w, status, extra)
}

func (h *Handler) publishExploration(r *http.Request, snap domain.ExplorationSnapshot) {
	h.hub.Publish(r.Context(), owner(r), live.Event{Type: live.EventExplorationUpdated, ID: snap.ID, Exploration: &snap})
}
