package generate

import (
	"context"
	"testing"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDrafts(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []domain.SegmentDraft
		wantErr bool
	}{
		{
			name: "plain array",
			in:   `[{"title":"A","description":"d","content":"x"},{"title":"B","content":"y"}]`,
			want: []domain.SegmentDraft{{Title: "A", Description: "d", Content: "x"}, {Title: "B", Content: "y"}},
		},
		{
			name: "fenced",
			in:   "```json\n[{\"title\":\" A \",\"content\":\"x\"}]\n```",
			want: []domain.SegmentDraft{{Title: "A", Content: "x"}},
		},
		{
			name: "wrapped object",
			in:   `{"segments":[{"title":"A","content":"x"}]}`,
			want: []domain.SegmentDraft{{Title: "A", Content: "x"}},
		},
		{
			name: "drops empty entries",
			in:   `[{"title":"","content":"  "},{"title":"A","content":""}]`,
			want: []domain.SegmentDraft{{Title: "A"}},
		},
		{name: "nothing usable", in: `[{"title":""}]`, wantErr: true},
		{name: "not json", in: "Here are some ideas", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDrafts(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Go Scheduler Basics", CleanTitle("\"Go Scheduler Basics.\"\n"))
	assert.Equal(t, "Title", CleanTitle("**Title**"))
	assert.Empty(t, CleanTitle(" . "))
}

func TestUnavailable(t *testing.T) {
	var g Generator = Unavailable{}
	_, err := g.Reply(context.Background(), nil)
	assert.True(t, errdefs.IsUnavailable(err))
	_, err = g.Decompose(context.Background(), DecomposeRequest{})
	assert.True(t, errdefs.IsUnavailable(err))
	_, err = g.Summarize(context.Background(), nil)
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestResponseText(t *testing.T) {
	assert.Empty(t, responseText(nil))
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("hello "), genai.Text("world")}},
		}},
	}
	assert.Equal(t, "hello world", responseText(resp))
}

func TestGeminiRole(t *testing.T) {
	assert.Equal(t, "model", geminiRole(domain.RoleAssistant))
	assert.Equal(t, "user", geminiRole(domain.RoleUser))
}
