package domain

import (
	"time"
)

// Segment is one titled, depth-tagged unit of a decomposed topic.
type Segment struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	Depth       int    `json:"depth"`
	IsExpanded  bool   `json:"isExpanded"`
}

// SegmentDraft is a segment proposed by the text generator, before it has
// an identity or a position.
type SegmentDraft struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description"`
	Content     string `json:"content" yaml:"content"`
}

// ExplorationSnapshot is an immutable copy of an exploration's state.
type ExplorationSnapshot struct {
	ID          string    `json:"id"`
	RootTopic   string    `json:"rootTopic"`
	Title       string    `json:"title"`
	FullContent string    `json:"fullContent"`
	Segments    []Segment `json:"segments"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ExplorationSummary is a list entry without segment bodies.
type ExplorationSummary struct {
	ID           string    `json:"id"`
	RootTopic    string    `json:"rootTopic"`
	Title        string    `json:"title"`
	SegmentCount int       `json:"segmentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
