// Package generate talks to the language-model service that writes replies,
// decomposes text into segments and summarises conversations.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/containerd/errdefs"
)

// DecomposeRequest asks for a span of text to be split into sub-segments.
type DecomposeRequest struct {
	// Topic is the exploration's title, given to the model as context.
	Topic string
	// ParentTitle is empty when decomposing the exploration's full content.
	ParentTitle string
	Span        string
	// Depth is the depth the new segments will have.
	Depth int
}

// Generator is the external text-generation collaborator.
type Generator interface {
	// Decompose splits a span of text into ordered segment drafts.
	Decompose(ctx context.Context, req DecomposeRequest) ([]domain.SegmentDraft, error)

	// Reply produces the assistant's next turn for the given history. The
	// last message in history is the user's.
	Reply(ctx context.Context, history []domain.Message) (string, error)

	// Summarize produces a short title for a window of messages.
	Summarize(ctx context.Context, window []domain.Message) (string, error)
}

// ErrNotConfigured is returned by Unavailable.
var ErrNotConfigured = fmt.Errorf("text generation is not configured: %w", errdefs.ErrUnavailable)

// ErrNoSegments is returned when a decomposition yields nothing usable.
var ErrNoSegments = errors.New("no usable segments")

// Unavailable is the Generator used when no model credentials are set.
type Unavailable struct{}

// Decompose implements Generator.
func (Unavailable) Decompose(context.Context, DecomposeRequest) ([]domain.SegmentDraft, error) {
	return nil, ErrNotConfigured
}

// Reply implements Generator.
func (Unavailable) Reply(context.Context, []domain.Message) (string, error) {
	return "", ErrNotConfigured
}

// Summarize implements Generator.
func (Unavailable) Summarize(context.Context, []domain.Message) (string, error) {
	return "", ErrNotConfigured
}

var (
	_ Generator = Unavailable{}
	_ Generator = (*Gemini)(nil)
)
