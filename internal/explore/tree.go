// Package explore implements the "dig deeper" data model: a forest of
// segments stored as one flat, depth-tagged sequence, and the exploration
// that owns it.
//
// A segment's subtree always occupies the contiguous run directly after it,
// so depth-first order falls out of sequence position and no parent/child
// index is kept. Every mutation must preserve that contiguity.
package explore

import (
	"fmt"
	"iter"
	"slices"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

const segmentKind = "segment"

// Tree is the ordered forest of segments of one exploration. It is not safe
// for concurrent use.
type Tree struct {
	segs     []domain.Segment
	maxDepth int
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithMaxDepth caps the depth of inserted segments. Zero means no cap.
func WithMaxDepth(n int) TreeOption {
	return func(t *Tree) {
		t.maxDepth = n
	}
}

// NewTree builds a tree from an existing sequence, checking the depth and
// identity invariants. The depth cap is not applied to the input, only to
// later inserts. The input slice is copied.
func NewTree(segs []domain.Segment, opts ...TreeOption) (*Tree, error) {
	t := &Tree{}
	for _, opt := range opts {
		opt(t)
	}

	seen := make(map[string]struct{}, len(segs))
	prev := -1
	for _, s := range segs {
		if s.ID == "" {
			return nil, fmt.Errorf("restore segment: empty id: %w", errdefs.ErrInvalidArgument)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, &domain.DuplicateIDError{Kind: segmentKind, ID: s.ID}
		}
		seen[s.ID] = struct{}{}

		allowed := prev + 1
		if s.Depth < 0 || s.Depth > allowed {
			return nil, &domain.InvalidDepthError{ID: s.ID, Depth: s.Depth, Max: allowed}
		}
		prev = s.Depth
	}

	t.segs = make([]domain.Segment, len(segs))
	copy(t.segs, segs)
	return t, nil
}

// Len returns the number of segments.
func (t *Tree) Len() int {
	return len(t.segs)
}

// Get returns the segment with the given id.
func (t *Tree) Get(id string) (domain.Segment, bool) {
	i := t.indexOf(id)
	if i < 0 {
		return domain.Segment{}, false
	}
	return t.segs[i], true
}

// All yields every segment in depth-first order.
func (t *Tree) All() iter.Seq[domain.Segment] {
	return func(yield func(domain.Segment) bool) {
		segs := t.segs
		for i := range segs {
			if !yield(segs[i]) {
				return
			}
		}
	}
}

// Segments returns a copy of the ordered sequence.
func (t *Tree) Segments() []domain.Segment {
	out := make([]domain.Segment, len(t.segs))
	copy(out, t.segs)
	return out
}

// InsertRoot appends seg as a new root after the last root subtree.
func (t *Tree) InsertRoot(seg domain.Segment) (domain.Segment, error) {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if t.indexOf(seg.ID) >= 0 {
		return domain.Segment{}, &domain.DuplicateIDError{Kind: segmentKind, ID: seg.ID}
	}
	seg.Depth = 0
	t.segs = append(t.segs, seg)
	return seg, nil
}

// InsertChild inserts seg as the last child of parentID, directly after the
// parent's last existing descendant.
func (t *Tree) InsertChild(parentID string, seg domain.Segment) (domain.Segment, error) {
	p := t.indexOf(parentID)
	if p < 0 {
		return domain.Segment{}, &domain.NotFoundError{Kind: segmentKind, ID: parentID}
	}
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if t.indexOf(seg.ID) >= 0 {
		return domain.Segment{}, &domain.DuplicateIDError{Kind: segmentKind, ID: seg.ID}
	}
	seg.Depth = t.segs[p].Depth + 1
	if t.maxDepth > 0 && seg.Depth > t.maxDepth {
		return domain.Segment{}, &domain.InvalidDepthError{ID: seg.ID, Depth: seg.Depth, Max: t.maxDepth}
	}

	at := t.subtreeEnd(p)
	t.segs = append(t.segs, domain.Segment{})
	copy(t.segs[at+1:], t.segs[at:])
	t.segs[at] = seg
	return seg, nil
}

// CanInsertChild reports whether a child of parentID could be inserted now,
// without inserting it.
func (t *Tree) CanInsertChild(parentID string) error {
	p := t.indexOf(parentID)
	if p < 0 {
		return &domain.NotFoundError{Kind: segmentKind, ID: parentID}
	}
	if depth := t.segs[p].Depth + 1; t.maxDepth > 0 && depth > t.maxDepth {
		return &domain.InvalidDepthError{ID: parentID, Depth: depth, Max: t.maxDepth}
	}
	return nil
}

// ToggleExpanded flips the expanded flag and returns the new value. Content
// and descendants are untouched.
func (t *Tree) ToggleExpanded(id string) (bool, error) {
	i := t.indexOf(id)
	if i < 0 {
		return false, &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	t.segs[i].IsExpanded = !t.segs[i].IsExpanded
	return t.segs[i].IsExpanded, nil
}

// SetExpanded sets the expanded flag.
func (t *Tree) SetExpanded(id string, expanded bool) error {
	i := t.indexOf(id)
	if i < 0 {
		return &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	t.segs[i].IsExpanded = expanded
	return nil
}

// EditContent replaces a segment's content.
func (t *Tree) EditContent(id, content string) error {
	i := t.indexOf(id)
	if i < 0 {
		return &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	t.segs[i].Content = content
	return nil
}

// Rename replaces a segment's title and description.
func (t *Tree) Rename(id, title, description string) error {
	i := t.indexOf(id)
	if i < 0 {
		return &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	t.segs[i].Title = title
	t.segs[i].Description = description
	return nil
}

// ChildrenOf yields the direct children of id. The parent is looked up again
// each time iteration starts, so the sequence reflects the current tree and
// yields nothing once the parent is gone.
func (t *Tree) ChildrenOf(id string) (iter.Seq[domain.Segment], error) {
	if t.indexOf(id) < 0 {
		return nil, &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	return func(yield func(domain.Segment) bool) {
		p := t.indexOf(id)
		if p < 0 {
			return
		}
		want := t.segs[p].Depth + 1
		end := t.subtreeEnd(p)
		for i := p + 1; i < end; i++ {
			if t.segs[i].Depth != want {
				continue
			}
			if !yield(t.segs[i]) {
				return
			}
		}
	}, nil
}

// Descendants yields every segment below id in depth-first order.
func (t *Tree) Descendants(id string) (iter.Seq[domain.Segment], error) {
	if t.indexOf(id) < 0 {
		return nil, &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	return func(yield func(domain.Segment) bool) {
		p := t.indexOf(id)
		if p < 0 {
			return
		}
		end := t.subtreeEnd(p)
		for i := p + 1; i < end; i++ {
			if !yield(t.segs[i]) {
				return
			}
		}
	}, nil
}

// ParentOf returns the parent of id. Roots have no parent.
func (t *Tree) ParentOf(id string) (domain.Segment, bool, error) {
	i := t.indexOf(id)
	if i < 0 {
		return domain.Segment{}, false, &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	want := t.segs[i].Depth - 1
	for j := i - 1; j >= 0 && want >= 0; j-- {
		if t.segs[j].Depth == want {
			return t.segs[j], true, nil
		}
	}
	return domain.Segment{}, false, nil
}

// Remove deletes id and its whole subtree, returning how many segments were
// removed.
func (t *Tree) Remove(id string) (int, error) {
	i := t.indexOf(id)
	if i < 0 {
		return 0, &domain.NotFoundError{Kind: segmentKind, ID: id}
	}
	end := t.subtreeEnd(i)
	n := end - i
	t.segs = slices.Delete(t.segs, i, end)
	return n, nil
}

// SubtreeIDs returns id followed by the ids of all its descendants.
func (t *Tree) SubtreeIDs(id string) []string {
	i := t.indexOf(id)
	if i < 0 {
		return nil
	}
	end := t.subtreeEnd(i)
	out := make([]string, 0, end-i)
	for j := i; j < end; j++ {
		out = append(out, t.segs[j].ID)
	}
	return out
}

func (t *Tree) indexOf(id string) int {
	for i := range t.segs {
		if t.segs[i].ID == id {
			return i
		}
	}
	return -1
}

// subtreeEnd returns the index one past the last descendant of the segment
// at position i.
func (t *Tree) subtreeEnd(i int) int {
	depth := t.segs[i].Depth
	j := i + 1
	for j < len(t.segs) && t.segs[j].Depth > depth {
		j++
	}
	return j
}
