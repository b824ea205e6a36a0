package editing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/explore"
	"github.com/ashureev/digdeeper/internal/generate"
	"github.com/containerd/errdefs"
)

const (
	rootKey = "root"

	explorationKind = "exploration"
)

func digKey(parentID string) string {
	if parentID == "" {
		return rootKey
	}
	return "segment:" + parentID
}

// Explorer coordinates one exploration. Dig requests run the generator with
// the lock released; when the drafts come back the parent is looked up again
// and the drafts are inserted all together or not at all.
type Explorer struct {
	mu      sync.Mutex
	exp     *explore.Exploration
	tracker *Tracker
	gen     generate.Generator
	closed  bool
}

// NewExplorer wraps exp. The explorer takes ownership of it.
func NewExplorer(exp *explore.Exploration, gen generate.Generator) *Explorer {
	return &Explorer{
		exp:     exp,
		tracker: NewTracker(),
		gen:     gen,
	}
}

// ID returns the exploration id.
func (x *Explorer) ID() string { return x.exp.ID() }

// Dig asks the generator to break down a segment's content (or the full
// content when parentID is empty) and inserts the resulting drafts as
// children (or new roots).
func (x *Explorer) Dig(ctx context.Context, parentID string) ([]domain.Segment, error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, x.gone()
	}
	req := generate.DecomposeRequest{Topic: x.exp.RootTopic()}
	if parentID == "" {
		req.Span = x.exp.FullContent()
	} else {
		if err := x.exp.CanInsertChild(parentID); err != nil {
			x.mu.Unlock()
			return nil, err
		}
		parent, _ := x.exp.Segment(parentID)
		req.ParentTitle = parent.Title
		req.Span = parent.Content
		req.Depth = parent.Depth + 1
	}
	tk := x.tracker.Begin(digKey(parentID))
	x.mu.Unlock()

	drafts, genErr := x.gen.Decompose(ctx, req)

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, x.gone()
	}
	if !x.tracker.Current(tk) {
		if _, ok := x.exp.Segment(parentID); parentID != "" && !ok {
			return nil, &domain.NotFoundError{Kind: "segment", ID: parentID}
		}
		return nil, domain.ErrSuperseded
	}
	x.tracker.Finish(tk)
	if genErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.ExternalCollaboratorError{Op: "decompose", Cause: genErr}
	}
	if len(drafts) == 0 {
		return nil, &domain.ExternalCollaboratorError{Op: "decompose", Cause: generate.ErrNoSegments}
	}
	// The parent may have been removed or moved out of range while the
	// generator ran.
	if parentID != "" {
		if err := x.exp.CanInsertChild(parentID); err != nil {
			return nil, err
		}
	}

	var inserted []domain.Segment
	err := x.exp.Apply(func(t *explore.Tree) error {
		for _, d := range drafts {
			seg := domain.Segment{Title: d.Title, Description: d.Description, Content: d.Content}
			var (
				got domain.Segment
				err error
			)
			if parentID == "" {
				got, err = t.InsertRoot(seg)
			} else {
				got, err = t.InsertChild(parentID, seg)
			}
			if err != nil {
				for _, s := range slices.Backward(inserted) {
					_, _ = t.Remove(s.ID)
				}
				inserted = nil
				return err
			}
			inserted = append(inserted, got)
		}
		if parentID != "" {
			return t.SetExpanded(parentID, true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// CancelDig discards a dig in flight for parentID. It reports whether one was
// pending.
func (x *Explorer) CancelDig(parentID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	key := digKey(parentID)
	pending := x.tracker.IsPending(key)
	x.tracker.Cancel(key)
	return pending
}

// Insert adds a segment directly, as a root when parentID is empty.
func (x *Explorer) Insert(parentID string, draft domain.SegmentDraft) (domain.Segment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return domain.Segment{}, x.gone()
	}
	seg := domain.Segment{Title: draft.Title, Description: draft.Description, Content: draft.Content}
	var out domain.Segment
	err := x.exp.Apply(func(t *explore.Tree) error {
		var err error
		if parentID == "" {
			out, err = t.InsertRoot(seg)
		} else {
			out, err = t.InsertChild(parentID, seg)
		}
		return err
	})
	return out, err
}

// Edit replaces a segment's content. A dig pending on the segment is
// discarded since it was requested for the old content.
func (x *Explorer) Edit(id, content string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return x.gone()
	}
	if err := x.exp.Apply(func(t *explore.Tree) error { return t.EditContent(id, content) }); err != nil {
		return err
	}
	x.tracker.Cancel(digKey(id))
	return nil
}

// Rename replaces a segment's title and description.
func (x *Explorer) Rename(id, title, description string) error {
	if title == "" {
		return fmt.Errorf("rename segment: empty title: %w", errdefs.ErrInvalidArgument)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return x.gone()
	}
	return x.exp.Apply(func(t *explore.Tree) error { return t.Rename(id, title, description) })
}

// Toggle flips a segment's expanded flag.
func (x *Explorer) Toggle(id string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return false, x.gone()
	}
	var expanded bool
	err := x.exp.Apply(func(t *explore.Tree) error {
		var err error
		expanded, err = t.ToggleExpanded(id)
		return err
	})
	return expanded, err
}

// Remove deletes a segment with its subtree and discards digs pending on any
// of the removed segments.
func (x *Explorer) Remove(id string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0, x.gone()
	}
	var (
		ids []string
		n   int
	)
	err := x.exp.Apply(func(t *explore.Tree) error {
		ids = t.SubtreeIDs(id)
		var err error
		n, err = t.Remove(id)
		return err
	})
	if err != nil {
		return 0, err
	}
	keys := make([]string, len(ids))
	for i, sid := range ids {
		keys[i] = digKey(sid)
	}
	x.tracker.Cancel(keys...)
	return n, nil
}

// Retitle replaces the exploration title.
func (x *Explorer) Retitle(title string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return x.gone()
	}
	return x.exp.Rename(title)
}

// Segment returns one segment.
func (x *Explorer) Segment(id string) (domain.Segment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	seg, ok := x.exp.Segment(id)
	if !ok {
		return domain.Segment{}, &domain.NotFoundError{Kind: "segment", ID: id}
	}
	return seg, nil
}

// ChildrenOf returns the direct children of a segment.
func (x *Explorer) ChildrenOf(id string) ([]domain.Segment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	seq, err := x.exp.ChildrenOf(id)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Pending reports how many digs are in flight.
func (x *Explorer) Pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.tracker.Pending()
}

// Closed reports whether Close has been called.
func (x *Explorer) Closed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.closed
}

// Close cancels every dig in flight and rejects further operations.
func (x *Explorer) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.tracker.CancelAll()
}

// Snapshot returns a copy of the exploration.
func (x *Explorer) Snapshot() domain.ExplorationSnapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.exp.Snapshot()
}

func (x *Explorer) gone() error {
	return &domain.NotFoundError{Kind: explorationKind, ID: x.exp.ID()}
}
