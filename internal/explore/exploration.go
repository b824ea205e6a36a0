package explore

import (
	"fmt"
	"iter"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

// Exploration binds a segment tree to the topic and source text it was
// derived from, and tracks when it last changed.
type Exploration struct {
	id          string
	rootTopic   string
	title       string
	fullContent string
	tree        *Tree
	createdAt   time.Time
	updatedAt   time.Time

	now      func() time.Time
	maxDepth int
}

// Option configures an Exploration.
type Option func(*Exploration)

// WithClock overrides the clock used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Exploration) {
		e.now = now
	}
}

// WithDepthLimit caps segment depth in the exploration's tree.
func WithDepthLimit(n int) Option {
	return func(e *Exploration) {
		e.maxDepth = n
	}
}

func apply(opts []Option) *Exploration {
	e := &Exploration{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// New starts an exploration with an empty segment sequence.
func New(rootTopic, fullContent string, opts ...Option) *Exploration {
	e := apply(opts)
	e.id = uuid.NewString()
	e.rootTopic = rootTopic
	e.title = rootTopic
	e.fullContent = fullContent
	e.tree = &Tree{maxDepth: e.maxDepth}
	e.createdAt = e.now()
	e.updatedAt = e.createdAt
	return e
}

// Restore rebuilds an exploration from a snapshot, validating the segment
// sequence.
func Restore(snap domain.ExplorationSnapshot, opts ...Option) (*Exploration, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("restore exploration: empty id: %w", errdefs.ErrInvalidArgument)
	}
	e := apply(opts)
	tree, err := NewTree(snap.Segments, WithMaxDepth(e.maxDepth))
	if err != nil {
		return nil, fmt.Errorf("restore exploration %s: %w", snap.ID, err)
	}
	e.id = snap.ID
	e.rootTopic = snap.RootTopic
	e.title = snap.Title
	if e.title == "" {
		e.title = snap.RootTopic
	}
	e.fullContent = snap.FullContent
	e.tree = tree
	e.createdAt = snap.CreatedAt
	e.updatedAt = snap.UpdatedAt
	return e, nil
}

// Apply runs fn against the live segment tree. updatedAt is refreshed on
// every exit path, including errors and panics. Making fn's partial effects
// atomic is fn's job.
func (e *Exploration) Apply(fn func(*Tree) error) error {
	defer e.touch()
	return fn(e.tree)
}

// Rename replaces the exploration title.
func (e *Exploration) Rename(title string) error {
	if title == "" {
		return fmt.Errorf("rename exploration: empty title: %w", errdefs.ErrInvalidArgument)
	}
	e.title = title
	e.touch()
	return nil
}

func (e *Exploration) touch() {
	e.updatedAt = e.now()
}

// ID returns the exploration id.
func (e *Exploration) ID() string { return e.id }

// Title returns the display title.
func (e *Exploration) Title() string { return e.title }

// RootTopic returns the topic the exploration started from.
func (e *Exploration) RootTopic() string { return e.rootTopic }

// FullContent returns the untruncated source text.
func (e *Exploration) FullContent() string { return e.fullContent }

// CreatedAt returns the construction time.
func (e *Exploration) CreatedAt() time.Time { return e.createdAt }

// UpdatedAt returns the time of the last mutation.
func (e *Exploration) UpdatedAt() time.Time { return e.updatedAt }

// Len returns the number of segments.
func (e *Exploration) Len() int { return e.tree.Len() }

// Segment returns the segment with the given id.
func (e *Exploration) Segment(id string) (domain.Segment, bool) {
	return e.tree.Get(id)
}

// CanInsertChild reports whether a child of parentID could be inserted now.
func (e *Exploration) CanInsertChild(parentID string) error {
	return e.tree.CanInsertChild(parentID)
}

// ChildrenOf yields the direct children of a segment.
func (e *Exploration) ChildrenOf(id string) (iter.Seq[domain.Segment], error) {
	return e.tree.ChildrenOf(id)
}

// Snapshot returns a copy of the current state that shares no storage with
// the exploration.
func (e *Exploration) Snapshot() domain.ExplorationSnapshot {
	return domain.ExplorationSnapshot{
		ID:          e.id,
		RootTopic:   e.rootTopic,
		Title:       e.title,
		FullContent: e.fullContent,
		Segments:    e.tree.Segments(),
		CreatedAt:   e.createdAt,
		UpdatedAt:   e.updatedAt,
	}
}
